package credsource

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileCache(t *testing.T) *FileCache {
	t.Helper()
	cache, err := NewFileCache()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestKubernetesSource(t *testing.T) {
	t.Parallel()

	s, err := New("Authorization", "kubernetes", Deps{})
	require.NoError(t, err)
	assert.Equal(t, KindKubernetes, s.Kind())

	value, err := s.Resolve(context.Background(), &Request{Token: "caller-token"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer caller-token", value)

	_, err = s.Resolve(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestClientSource(t *testing.T) {
	t.Parallel()

	s, err := New("X-Api-Key", "client", Deps{})
	require.NoError(t, err)
	assert.Equal(t, KindClient, s.Kind())

	value, err := s.Resolve(context.Background(), &Request{
		ClientHeaders: map[string]string{"X-Api-Key": "k-123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "k-123", value)

	_, err = s.Resolve(context.Background(), &Request{
		ClientHeaders: map[string]string{"Other": "v"},
	})
	require.Error(t, err)

	var unres *UnresolvableError
	require.ErrorAs(t, err, &unres)
	assert.Equal(t, KindClient, unres.Kind)
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  secret-value\n"), 0o600))

	s, err := New("Authorization", path, Deps{Files: newTestFileCache(t)})
	require.NoError(t, err)
	assert.Equal(t, KindFile, s.Kind())

	value, err := s.Resolve(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "secret-value", value)
}

func TestFileSource_Missing(t *testing.T) {
	t.Parallel()

	s, err := New("Authorization", filepath.Join(t.TempDir(), "absent"), Deps{Files: newTestFileCache(t)})
	require.NoError(t, err)

	_, err = s.Resolve(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestFileCache_InvalidatesOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	cache := newTestFileCache(t)

	value, err := cache.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "first", value)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))

	assert.Eventually(t, func() bool {
		value, err := cache.Get(path)
		return err == nil && value == "second"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFileCache_ManualInvalidate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	cache := newTestFileCache(t)
	_, err := cache.Get(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	cache.Invalidate(path)

	value, err := cache.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestNew_VaultRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New("Authorization", "vault:secret/llm#token", Deps{})
	assert.Error(t, err)
}

func TestVaultSource_RefParsing(t *testing.T) {
	t.Parallel()

	v := &VaultSource{}

	_, err := v.Source("secret/llm#token")
	assert.NoError(t, err)

	_, err = v.Source("secret/llm")
	assert.Error(t, err)

	_, err = v.Source("nopath#field")
	assert.Error(t, err)
}

func TestParseClientHeaders(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("POST", "/v1/query", nil)
	headers, err := ParseClientHeaders(r)
	require.NoError(t, err)
	assert.Empty(t, headers)

	r.Header.Set(ClientHeadersHeader, `{"X-Api-Key": "k-123"}`)
	headers, err = ParseClientHeaders(r)
	require.NoError(t, err)
	assert.Equal(t, "k-123", headers["X-Api-Key"])

	r.Header.Set(ClientHeadersHeader, `not-json`)
	_, err = ParseClientHeaders(r)
	assert.Error(t, err)
}
