package jwt

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/llmgate/llmgate/internal/observability"
)

// defaultCacheTTL is how long a fetched key set is reused before the
// next request triggers a refresh.
const defaultCacheTTL = time.Hour

// KeyCache fetches a remote JSON Web Key Set and caches it for a fixed
// interval. Refreshes are single-flight: concurrent cache misses share
// one fetch, and waiters observe the same outcome.
type KeyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger observability.Logger

	group singleflight.Group

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

// KeyCacheOption is a functional option for the key cache.
type KeyCacheOption func(*KeyCache)

// WithCacheTTL sets the cache TTL.
func WithCacheTTL(ttl time.Duration) KeyCacheOption {
	return func(c *KeyCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHTTPClient sets a custom HTTP client for JWKS fetches.
func WithHTTPClient(client *http.Client) KeyCacheOption {
	return func(c *KeyCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithKeyCacheLogger sets the logger.
func WithKeyCacheLogger(logger observability.Logger) KeyCacheOption {
	return func(c *KeyCache) {
		c.logger = logger
	}
}

// NewKeyCache creates a key cache for the given JWKS URL.
func NewKeyCache(url string, opts ...KeyCacheOption) (*KeyCache, error) {
	if url == "" {
		return nil, fmt.Errorf("jwks url is required")
	}

	c := &KeyCache{
		url:    url,
		ttl:    defaultCacheTTL,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached key set, refreshing it when the TTL has
// elapsed. A refresh failure falls back to the stale cached set if one
// exists.
func (c *KeyCache) Get(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set := c.set
	fetchedAt := c.fetchedAt
	c.mu.RUnlock()

	if set != nil && time.Since(fetchedAt) < c.ttl {
		return set, nil
	}

	result, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// Another waiter may have completed the refresh while this
		// call was queued.
		c.mu.RLock()
		current, at := c.set, c.fetchedAt
		c.mu.RUnlock()
		if current != nil && time.Since(at) < c.ttl {
			return current, nil
		}

		fetched, fetchErr := jwk.Fetch(ctx, c.url, jwk.WithHTTPClient(c.client))
		if fetchErr != nil {
			if current != nil {
				c.logger.Warn("JWKS refresh failed, using cached keys",
					observability.String("url", c.url),
					observability.Error(fetchErr),
				)
				return current, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, fetchErr)
		}

		c.mu.Lock()
		c.set = fetched
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		c.logger.Info("JWKS refreshed",
			observability.String("url", c.url),
			observability.Int("keys", fetched.Len()),
		)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(jwk.Set), nil
}

// Lookup returns the key matching kid from the cached set. An empty kid
// selects the only key of a single-key set.
func (c *KeyCache) Lookup(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	if kid == "" {
		if set.Len() == 1 {
			key, _ := set.Key(0)
			return key, nil
		}
		return nil, fmt.Errorf("%w: token has no kid and key set has %d keys", ErrUnknownKeyID, set.Len())
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	return key, nil
}

// Invalidate drops the cached key set so the next Get refetches.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.set = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// LastFetch returns the time of the last successful fetch.
func (c *KeyCache) LastFetch() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}
