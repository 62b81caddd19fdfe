package credsource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

// VaultSource reads secrets from HashiCorp Vault KV v2 mounts. Values
// are cached with a TTL so the hot path does not hit Vault per request.
type VaultSource struct {
	client *vaultapi.Client
	ttl    time.Duration
	logger observability.Logger

	mu    sync.RWMutex
	cache map[string]vaultEntry
}

type vaultEntry struct {
	value   string
	fetched time.Time
}

// VaultOption is a functional option for the Vault source.
type VaultOption func(*VaultSource)

// WithVaultLogger sets the logger.
func WithVaultLogger(logger observability.Logger) VaultOption {
	return func(v *VaultSource) {
		v.logger = logger
	}
}

// NewVaultSource creates a Vault-backed source factory.
func NewVaultSource(cfg *config.VaultConfig, opts ...VaultOption) (*VaultSource, error) {
	vaultCfg := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}
	client, err := vaultapi.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultSourceWithClient(client, cfg.CacheTTL.Duration(), opts...), nil
}

// NewVaultSourceWithClient wraps an existing client, used by tests.
func NewVaultSourceWithClient(client *vaultapi.Client, ttl time.Duration, opts ...VaultOption) *VaultSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	v := &VaultSource{
		client: client,
		ttl:    ttl,
		logger: observability.NopLogger(),
		cache:  make(map[string]vaultEntry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Source creates a Source for one "<mount>/<path>#<field>" reference.
func (v *VaultSource) Source(ref string) (Source, error) {
	location, field, ok := strings.Cut(ref, "#")
	if !ok || field == "" {
		return nil, fmt.Errorf("vault reference %q lacks a #field", ref)
	}
	mount, path, ok := strings.Cut(location, "/")
	if !ok || mount == "" || path == "" {
		return nil, fmt.Errorf("vault reference %q is not <mount>/<path>#<field>", ref)
	}
	return &vaultFieldSource{
		vault: v,
		mount: mount,
		path:  path,
		field: field,
	}, nil
}

// read returns the field value, consulting the cache first.
func (v *VaultSource) read(ctx context.Context, mount, path, field string) (string, error) {
	key := mount + "/" + path + "#" + field

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()
	if ok && time.Since(entry.fetched) < v.ttl {
		return entry.value, nil
	}

	secret, err := v.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read %s/%s failed: %w", mount, path, err)
	}
	raw, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s has no field %s", mount, path, field)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s field %s is not a string", mount, path, field)
	}

	v.mu.Lock()
	v.cache[key] = vaultEntry{value: value, fetched: time.Now()}
	v.mu.Unlock()
	return value, nil
}

// vaultFieldSource resolves one secret field.
type vaultFieldSource struct {
	vault *VaultSource
	mount string
	path  string
	field string
}

func (s *vaultFieldSource) Resolve(ctx context.Context, req *Request) (string, error) {
	value, err := s.vault.read(ctx, s.mount, s.path, s.field)
	if err != nil {
		return "", unresolvable(KindVault, err.Error())
	}
	return value, nil
}

func (s *vaultFieldSource) Kind() string { return KindVault }

var _ Source = (*vaultFieldSource)(nil)
