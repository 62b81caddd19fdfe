package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/auth/cluster"
	"github.com/llmgate/llmgate/internal/config"
)

func newRequest(t *testing.T, target string, headers map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, nil)
	for name, value := range headers {
		r.Header.Set(name, value)
	}
	return r
}

func TestNew_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	_, err := New(&config.AuthConfig{Method: "oauth-dance"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported auth method")
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{Method: config.AuthMethodAnonymous})
	require.NoError(t, err)

	identity, err := a.Authenticate(newRequest(t, "/v1/query", nil))
	require.NoError(t, err)
	assert.Equal(t, AnonymousSubject, identity.Subject)
	assert.Equal(t, AuthTypeAnonymous, identity.AuthType)
	assert.Empty(t, identity.Token)
}

func TestAnonymous_UserIDOverride(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{Method: config.AuthMethodAnonymous})
	require.NoError(t, err)

	identity, err := a.Authenticate(newRequest(t, "/v1/query?user_id=dev-7", nil))
	require.NoError(t, err)
	assert.Equal(t, "dev-7", identity.Subject)
}

func TestAnonymousToken(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{Method: config.AuthMethodAnonymousToken})
	require.NoError(t, err)

	identity, err := a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Bearer opaque-token",
	}))
	require.NoError(t, err)
	assert.Equal(t, AnonymousSubject, identity.Subject)
	assert.Equal(t, "opaque-token", identity.Token)

	_, err = a.Authenticate(newRequest(t, "/v1/query", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, ReasonMissingCredentials, ReasonOf(err))
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{
		Method: config.AuthMethodAPIKey,
		APIKey: config.APIKeyConfig{Key: "s3cret"},
	})
	require.NoError(t, err)

	identity, err := a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Bearer s3cret",
	}))
	require.NoError(t, err)
	assert.Equal(t, APIKeySubject, identity.Subject)

	_, err = a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Bearer wrong",
	}))
	assert.Equal(t, ReasonInvalidAPIKey, ReasonOf(err))

	_, err = a.Authenticate(newRequest(t, "/v1/query", nil))
	assert.Equal(t, ReasonMissingCredentials, ReasonOf(err))
}

func TestAPIKey_Unconfigured(t *testing.T) {
	t.Parallel()

	_, err := New(&config.AuthConfig{Method: config.AuthMethodAPIKey})
	assert.Error(t, err)
}

func TestJWT_GuestWithoutCredentials(t *testing.T) {
	t.Parallel()

	// The JWKS endpoint is never contacted for a guest request.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	a, err := New(&config.AuthConfig{
		Method: config.AuthMethodJWT,
		JWT:    config.JWTConfig{JWKSURL: srv.URL},
	})
	require.NoError(t, err)

	identity, err := a.Authenticate(newRequest(t, "/v1/query", nil))
	require.NoError(t, err)
	assert.Equal(t, GuestSubject, identity.Subject)
	assert.Equal(t, AuthTypeJWT, identity.AuthType)
	assert.Empty(t, identity.Token)
}

func TestJWT_NonBearerHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	a, err := New(&config.AuthConfig{
		Method: config.AuthMethodJWT,
		JWT:    config.JWTConfig{JWKSURL: srv.URL},
	})
	require.NoError(t, err)

	_, err = a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Basic dXNlcjpwYXNz",
	}))
	assert.Equal(t, ReasonMalformedToken, ReasonOf(err))
}

type stubReviewer struct {
	subject *cluster.Subject
	err     error
}

func (s *stubReviewer) Review(ctx context.Context, token string) (*cluster.Subject, error) {
	return s.subject, s.err
}

func TestCluster(t *testing.T) {
	t.Parallel()

	a := newClusterAuthenticatorWithReviewer(&stubReviewer{
		subject: &cluster.Subject{ID: "uid-1", Username: "alice", Groups: []string{"dev"}},
	})

	identity, err := a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Bearer cluster-token",
	}))
	require.NoError(t, err)
	assert.Equal(t, "uid-1", identity.Subject)
	assert.Equal(t, "alice", identity.DisplayName)
	assert.Equal(t, []string{"dev"}, identity.Claims["groups"])
}

func TestCluster_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		reason Reason
	}{
		{"rejected token", cluster.ErrTokenRejected, ReasonTokenReviewDenied},
		{"denied access", cluster.ErrAccessDenied, ReasonAccessReviewDenied},
		{"review outage", errors.New("connect: refused"), ReasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := newClusterAuthenticatorWithReviewer(&stubReviewer{err: tt.err})
			_, err := a.Authenticate(newRequest(t, "/v1/query", map[string]string{
				"Authorization": "Bearer cluster-token",
			}))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, tt.reason, ReasonOf(err))
		})
	}
}

func TestFederated(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{Method: config.AuthMethodFederated})
	require.NoError(t, err)

	// {"type":"User","user":{"uid":"u-1","cn":"Alice","entitlements":{"llm-access":{"entitled":true}}}}
	doc := "eyJ0eXBlIjoiVXNlciIsInVzZXIiOnsidWlkIjoidS0xIiwiY24iOiJBbGljZSIsImVudGl0bGVtZW50cyI6eyJsbG0tYWNjZXNzIjp7ImVudGl0bGVkIjp0cnVlfX19fQ=="
	identity, err := a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		DefaultFederatedHeader: doc,
	}))
	require.NoError(t, err)
	assert.Equal(t, "u-1", identity.Subject)
	assert.Equal(t, "Alice", identity.DisplayName)
	assert.Equal(t, AuthTypeFederated, identity.AuthType)
}

func TestFederated_Failures(t *testing.T) {
	t.Parallel()

	a, err := New(&config.AuthConfig{
		Method: config.AuthMethodFederated,
		Federated: config.FederatedConfig{
			RequiredEntitlements: []string{"llm-access"},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		doc    string
		reason Reason
	}{
		{
			name:   "missing header",
			doc:    "",
			reason: ReasonMissingCredentials,
		},
		{
			name:   "bad encoding",
			doc:    "!!!",
			reason: ReasonBadEncoding,
		},
		{
			// {"type":"System","system":{"uid":"s-1"}}
			name:   "bad structure",
			doc:    "eyJ0eXBlIjoiU3lzdGVtIiwic3lzdGVtIjp7InVpZCI6InMtMSJ9fQ==",
			reason: ReasonBadDocument,
		},
		{
			// {"type":"User","user":{"uid":"u-1","cn":"Alice"}}
			name:   "missing entitlement",
			doc:    "eyJ0eXBlIjoiVXNlciIsInVzZXIiOnsidWlkIjoidS0xIiwiY24iOiJBbGljZSJ9fQ==",
			reason: ReasonMissingEntitlement,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			headers := map[string]string{}
			if tt.doc != "" {
				headers[DefaultFederatedHeader] = tt.doc
			}
			_, err := a.Authenticate(newRequest(t, "/v1/query", headers))
			require.Error(t, err)
			assert.Equal(t, tt.reason, ReasonOf(err))
		})
	}
}

func TestMetricsInstrumentation(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	a, err := New(&config.AuthConfig{
		Method: config.AuthMethodAPIKey,
		APIKey: config.APIKeyConfig{Key: "s3cret"},
	}, WithMetrics(NewMetricsWithRegisterer(registry)))
	require.NoError(t, err)

	_, err = a.Authenticate(newRequest(t, "/v1/query", map[string]string{
		"Authorization": "Bearer s3cret",
	}))
	require.NoError(t, err)
	_, err = a.Authenticate(newRequest(t, "/v1/query", nil))
	require.Error(t, err)

	count := testutil.CollectAndCount(registry, "llmgate_auth_attempts_total")
	assert.Equal(t, 2, count)
}

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	identity := &Identity{Subject: "alice", Roles: []string{"dev"}}
	ctx := ContextWithIdentity(context.Background(), identity)

	got, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Subject)

	_, ok = IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func TestIdentity_WithRoles(t *testing.T) {
	t.Parallel()

	identity := &Identity{Subject: "alice"}
	withRoles := identity.WithRoles([]string{"dev", "*"})

	assert.Empty(t, identity.Roles)
	assert.True(t, withRoles.HasRole("dev"))
	assert.False(t, withRoles.HasRole("ops"))
}
