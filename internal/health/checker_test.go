package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")
	resp := c.Liveness()
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	c := NewChecker("dev")
	c.Register("store", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy}
	})

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "store")
}

func TestChecker_ReadinessAggregation(t *testing.T) {
	t.Parallel()

	c := NewChecker("dev")
	c.Register("ok", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy}
	})
	c.Register("slow", func(ctx context.Context) Check {
		return Check{Status: StatusDegraded, Message: "cache cold"}
	})

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)

	c.Register("down", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "store unreachable"}
	})
	resp = c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestChecker_Handlers(t *testing.T) {
	t.Parallel()

	c := NewChecker("dev")
	c.Register("down", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "store unreachable"}
	})

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store unreachable", resp.Checks["down"].Message)
}
