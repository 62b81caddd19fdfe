// Package credsource resolves tool-server authorization header values.
// A source is configured per header and resolved per request; an
// unresolvable source is a typed, non-fatal condition that excludes the
// tool server from the request instead of failing it.
package credsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Source kinds.
const (
	KindFile       = "file"
	KindKubernetes = "kubernetes"
	KindClient     = "client"
	KindVault      = "vault"
)

// Well-known source spec literals.
const (
	specKubernetes = "kubernetes"
	specClient     = "client"
	vaultPrefix    = "vault:"
)

// ClientHeadersHeader carries caller-supplied tool-server credentials
// as a JSON object of header name to value.
const ClientHeadersHeader = "MCP-Headers"

// ErrUnresolvable is the sentinel all resolution misses wrap.
var ErrUnresolvable = errors.New("credential unresolvable")

// UnresolvableError reports why a source produced no value for this
// request.
type UnresolvableError struct {
	// Kind is the source kind.
	Kind string

	// Reason describes the miss.
	Reason string
}

// Error implements the error interface.
func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("credential unresolvable (%s): %s", e.Kind, e.Reason)
}

// Is reports whether the target matches this error class.
func (e *UnresolvableError) Is(target error) bool {
	if errors.Is(target, ErrUnresolvable) {
		return true
	}
	_, ok := target.(*UnresolvableError)
	return ok
}

func unresolvable(kind, reason string) *UnresolvableError {
	return &UnresolvableError{Kind: kind, Reason: reason}
}

// Request carries the per-request inputs a source may draw from.
type Request struct {
	// Token is the caller's own bearer credential.
	Token string

	// ClientHeaders are caller-supplied header values.
	ClientHeaders map[string]string
}

// ParseClientHeaders extracts caller-supplied credentials from the
// request. A missing header yields an empty map; a malformed one is an
// error so a typo never silently drops credentials.
func ParseClientHeaders(r *http.Request) (map[string]string, error) {
	raw := r.Header.Get(ClientHeadersHeader)
	if raw == "" {
		return map[string]string{}, nil
	}
	headers := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil, fmt.Errorf("malformed %s header: %w", ClientHeadersHeader, err)
	}
	return headers, nil
}

// Source resolves one header value per request.
type Source interface {
	// Resolve returns the header value, or an *UnresolvableError.
	Resolve(ctx context.Context, req *Request) (string, error)

	// Kind reports the source kind.
	Kind() string
}

// Deps are the shared backends sources draw from.
type Deps struct {
	// Files caches static secret files.
	Files *FileCache

	// Vault reads vault: specs. Nil when Vault is disabled.
	Vault *VaultSource
}

// New creates the source for one header rule. The spec is a file path,
// the literal "kubernetes", the literal "client", or
// "vault:<mount>/<path>#<field>".
func New(header, spec string, deps Deps) (Source, error) {
	switch {
	case spec == specKubernetes:
		return &kubernetesSource{}, nil
	case spec == specClient:
		return &clientSource{header: header}, nil
	case strings.HasPrefix(spec, vaultPrefix):
		if deps.Vault == nil {
			return nil, fmt.Errorf("source %q requires vault to be enabled", spec)
		}
		return deps.Vault.Source(strings.TrimPrefix(spec, vaultPrefix))
	default:
		if deps.Files == nil {
			return nil, fmt.Errorf("source %q requires a file cache", spec)
		}
		return &fileSource{cache: deps.Files, path: spec}, nil
	}
}

// kubernetesSource forwards the caller's own bearer token.
type kubernetesSource struct{}

func (s *kubernetesSource) Resolve(ctx context.Context, req *Request) (string, error) {
	if req.Token == "" {
		return "", unresolvable(KindKubernetes, "request carries no bearer token")
	}
	return "Bearer " + req.Token, nil
}

func (s *kubernetesSource) Kind() string { return KindKubernetes }

// clientSource requires the caller to supply the value per request.
type clientSource struct {
	header string
}

func (s *clientSource) Resolve(ctx context.Context, req *Request) (string, error) {
	value, ok := req.ClientHeaders[s.header]
	if !ok || value == "" {
		return "", unresolvable(KindClient, "caller did not supply header "+s.header)
	}
	return value, nil
}

func (s *clientSource) Kind() string { return KindClient }

// fileSource reads a static secret through the shared file cache.
type fileSource struct {
	cache *FileCache
	path  string
}

func (s *fileSource) Resolve(ctx context.Context, req *Request) (string, error) {
	value, err := s.cache.Get(s.path)
	if err != nil {
		return "", unresolvable(KindFile, err.Error())
	}
	return value, nil
}

func (s *fileSource) Kind() string { return KindFile }

var (
	_ Source = (*kubernetesSource)(nil)
	_ Source = (*clientSource)(nil)
	_ Source = (*fileSource)(nil)
)
