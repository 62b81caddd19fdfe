package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

// Authenticator turns an inbound request into an Identity.
type Authenticator interface {
	// Authenticate extracts and validates the caller's credentials.
	// Failures are always *Error values wrapping ErrUnauthenticated.
	Authenticate(r *http.Request) (*Identity, error)

	// Type reports the variant of this authenticator.
	Type() AuthType
}

// Options parameterize authenticator construction.
type Options struct {
	Logger  observability.Logger
	Metrics *Metrics
}

// Option is a functional option for authenticator construction.
type Option func(*Options)

// WithLogger sets the logger used by the authenticator.
func WithLogger(logger observability.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// New creates the authenticator selected by the configuration.
func New(cfg *config.AuthConfig, opts ...Option) (Authenticator, error) {
	options := &Options{
		Logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(options)
	}

	var (
		a   Authenticator
		err error
	)
	switch cfg.Method {
	case config.AuthMethodAnonymous:
		a = newAnonymousAuthenticator()
	case config.AuthMethodAnonymousToken:
		a = newAnonymousTokenAuthenticator()
	case config.AuthMethodAPIKey:
		a, err = newAPIKeyAuthenticator(&cfg.APIKey)
	case config.AuthMethodJWT:
		a, err = newJWTAuthenticator(&cfg.JWT, options)
	case config.AuthMethodCluster:
		a, err = newClusterAuthenticator(&cfg.Cluster, options)
	case config.AuthMethodFederated:
		a = newFederatedAuthenticator(&cfg.Federated)
	default:
		return nil, fmt.Errorf("unsupported auth method: %s", cfg.Method)
	}
	if err != nil {
		return nil, err
	}

	if options.Metrics != nil {
		a = &instrumentedAuthenticator{next: a, metrics: options.Metrics}
	}
	return a, nil
}

// bearerToken extracts a bearer token from the Authorization header.
// The empty string means no credential was presented.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// instrumentedAuthenticator records per-variant outcome counters around
// an inner authenticator.
type instrumentedAuthenticator struct {
	next    Authenticator
	metrics *Metrics
}

func (a *instrumentedAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	identity, err := a.next.Authenticate(r)
	if err != nil {
		a.metrics.RecordFailure(a.next.Type(), ReasonOf(err))
		return nil, err
	}
	a.metrics.RecordSuccess(a.next.Type())
	return identity, nil
}

func (a *instrumentedAuthenticator) Type() AuthType {
	return a.next.Type()
}
