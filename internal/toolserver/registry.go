// Package toolserver resolves the authorization headers each
// configured downstream tool server needs, per request. A server whose
// headers cannot all be resolved is excluded from the request; a
// partial header set is never forwarded.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/credsource"
	"github.com/llmgate/llmgate/internal/observability"
)

// server is one configured tool server with its compiled sources.
type server struct {
	name    string
	url     string
	sources map[string]credsource.Source
}

// Resolved is a tool server usable for the current request.
type Resolved struct {
	// Name is the configured server name.
	Name string `json:"name"`

	// URL is the server endpoint.
	URL string `json:"url"`

	// Headers is the complete authorization header set.
	Headers map[string]string `json:"headers"`
}

// Exclusion is a tool server unusable for the current request.
type Exclusion struct {
	// Name is the configured server name.
	Name string `json:"name"`

	// Reason describes the unresolvable header.
	Reason string `json:"reason"`
}

// Info describes a tool server for discovery responses.
type Info struct {
	// Name is the configured server name.
	Name string `json:"name"`

	// URL is the server endpoint.
	URL string `json:"url"`

	// ClientHeaders lists the header names the caller must supply.
	ClientHeaders []string `json:"client_headers,omitempty"`
}

// Registry holds the configured tool servers.
type Registry struct {
	servers []*server
	logger  observability.Logger
	metrics *Metrics
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryMetrics sets the metrics collector.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry compiles the configured tool servers. Every header rule
// is parsed at startup so a bad source spec fails the process instead
// of a request.
func NewRegistry(specs []config.ToolServerSpec, deps credsource.Deps, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, spec := range specs {
		srv := &server{
			name:    spec.Name,
			url:     spec.URL,
			sources: make(map[string]credsource.Source, len(spec.Headers)),
		}
		for header, sourceSpec := range spec.Headers {
			source, err := credsource.New(header, sourceSpec, deps)
			if err != nil {
				return nil, fmt.Errorf("tool server %s header %s: %w", spec.Name, header, err)
			}
			srv.sources[header] = source
		}
		r.servers = append(r.servers, srv)
	}
	return r, nil
}

// Resolve produces the usable tool servers for one request, and the
// exclusions with their reasons. Resolution failures other than a
// plain unresolvable credential are treated the same way: the server
// is skipped, never forwarded incomplete.
func (r *Registry) Resolve(ctx context.Context, req *credsource.Request) ([]Resolved, []Exclusion) {
	var resolved []Resolved
	var excluded []Exclusion

	for _, srv := range r.servers {
		headers := make(map[string]string, len(srv.sources))
		var exclusion *Exclusion

		for header, source := range srv.sources {
			value, err := source.Resolve(ctx, req)
			if err != nil {
				reason := fmt.Sprintf("header %s: %v", header, err)
				if !errors.Is(err, credsource.ErrUnresolvable) {
					r.logger.Error("tool server credential resolution failed",
						observability.String("server", srv.name),
						observability.String("header", header),
						observability.Error(err),
					)
				}
				exclusion = &Exclusion{Name: srv.name, Reason: reason}
				break
			}
			headers[header] = value
		}

		if exclusion != nil {
			r.logger.Debug("tool server excluded from request",
				observability.String("server", exclusion.Name),
				observability.String("reason", exclusion.Reason),
			)
			if r.metrics != nil {
				r.metrics.RecordExclusion(srv.name)
			}
			excluded = append(excluded, *exclusion)
			continue
		}
		resolved = append(resolved, Resolved{
			Name:    srv.name,
			URL:     srv.url,
			Headers: headers,
		})
	}
	return resolved, excluded
}

// Discovery lists the configured servers and the headers callers must
// supply themselves.
func (r *Registry) Discovery() []Info {
	infos := make([]Info, 0, len(r.servers))
	for _, srv := range r.servers {
		info := Info{Name: srv.name, URL: srv.url}
		for header, source := range srv.sources {
			if source.Kind() == credsource.KindClient {
				info.ClientHeaders = append(info.ClientHeaders, header)
			}
		}
		sort.Strings(info.ClientHeaders)
		infos = append(infos, info)
	}
	return infos
}
