package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LLMGATE_TEST_ENV", "from-env")

	assert.Equal(t, "from-env", getEnvOrDefault("LLMGATE_TEST_ENV", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("LLMGATE_TEST_ENV_MISSING", "fallback"))
}

func TestInitApplication_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true

	app := initApplication(cfg, observability.NopLogger())
	require.NotNil(t, app)
	require.NotNil(t, app.server)
	assert.Nil(t, app.scheduler)
	assert.Nil(t, app.tracer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	app.close(ctx, observability.NopLogger())
}

func int64ptr(v int64) *int64 { return &v }

func TestInitApplication_QuotaEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Quota.Enabled = true
	cfg.Quota.Limiters = []config.QuotaLimiterSpec{
		{
			Name:         "tokens",
			Kind:         config.QuotaKindSubject,
			InitialQuota: int64ptr(1000),
			Period:       config.Duration(time.Hour),
		},
	}

	logger := observability.NopLogger()
	app := initApplication(cfg, logger)
	require.NotNil(t, app)
	require.NotNil(t, app.scheduler)
	require.NotNil(t, app.quotaStore)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.startScheduler(ctx, logger)

	// A healthy store reports ready.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	app.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	app.close(ctx, logger)
}

func TestInitQuotaStore_Memory(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	s := initQuotaStore(cfg, observability.NopLogger())
	require.NotNil(t, s)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
