// Package backend calls the external LLM orchestration backend. The
// backend itself is another system; this client only forwards the
// admitted query with its identity and resolved tool servers, and
// reports the metered token usage back.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/toolserver"
)

// ErrUnavailable indicates the backend call failed and any quota
// reservation for it must be revoked.
var ErrUnavailable = errors.New("backend unavailable")

// Request is the payload forwarded to the backend.
type Request struct {
	// Query is the caller's query.
	Query string `json:"query"`

	// Subject identifies the caller.
	Subject string `json:"subject"`

	// DisplayName is the caller's display name.
	DisplayName string `json:"display_name,omitempty"`

	// ToolServers are the servers usable for this request, with their
	// resolved authorization headers.
	ToolServers []toolserver.Resolved `json:"tool_servers,omitempty"`
}

// Usage is the token usage metered by the backend.
type Usage struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Response is the backend's answer.
type Response struct {
	// Answer is the backend's response document, passed through
	// untouched.
	Answer json.RawMessage `json:"answer"`

	// Usage is the metered token usage of the call.
	Usage Usage `json:"usage"`
}

// Client calls the orchestration backend.
type Client interface {
	// Query forwards one admitted request. Failures wrap
	// ErrUnavailable.
	Query(ctx context.Context, req *Request) (*Response, error)
}

type client struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     observability.Logger
}

// ClientOption is a functional option for the backend client.
type ClientOption func(*client)

// WithClientLogger sets the logger.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client, used by tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a backend client with a circuit breaker sized from
// configuration.
func NewClient(cfg *config.BackendConfig, opts ...ClientOption) Client {
	c := &client{
		url:    cfg.URL,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout.Duration()}
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "backend",
		Interval: cfg.BreakerInterval.Duration(),
		Timeout:  cfg.BreakerTimeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("backend circuit state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return c
}

func (c *client) Query(ctx context.Context, req *Request) (*Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *client) post(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return &resp, nil
}

var _ Client = (*client)(nil)
