// Package gateway wires the admission pipeline onto HTTP. Every query
// passes authentication, role resolution, access control and quota
// admission before the backend is called; the quota reservation is
// consumed on success and revoked on failure.
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/auth"
	"github.com/llmgate/llmgate/internal/authz"
	"github.com/llmgate/llmgate/internal/backend"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/health"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/quota"
	"github.com/llmgate/llmgate/internal/toolserver"
	"github.com/llmgate/llmgate/internal/usage"
)

// Gateway holds the admission pipeline components.
type Gateway struct {
	config        *config.Config
	authenticator auth.Authenticator
	roles         authz.RoleResolver
	access        authz.AccessResolver
	ledger        quota.Ledger
	registry      *toolserver.Registry
	backend       backend.Client
	usage         usage.Recorder
	checker       *health.Checker
	logger        observability.Logger
	metrics       *Metrics
	promRegistry  *prometheus.Registry
}

// Options are the components the gateway is assembled from.
type Options struct {
	Config        *config.Config
	Authenticator auth.Authenticator
	Roles         authz.RoleResolver
	Access        authz.AccessResolver

	// Ledger may be nil when quota admission is disabled.
	Ledger quota.Ledger

	Registry *toolserver.Registry
	Backend  backend.Client

	// Usage may be nil; recording is then skipped.
	Usage usage.Recorder

	Checker      *health.Checker
	Logger       observability.Logger
	Metrics      *Metrics
	PromRegistry *prometheus.Registry
}

// New assembles a gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		config:        opts.Config,
		authenticator: opts.Authenticator,
		roles:         opts.Roles,
		access:        opts.Access,
		ledger:        opts.Ledger,
		registry:      opts.Registry,
		backend:       opts.Backend,
		usage:         opts.Usage,
		checker:       opts.Checker,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		promRegistry:  opts.PromRegistry,
	}
	if g.logger == nil {
		g.logger = observability.NopLogger()
	}
	if g.usage == nil {
		g.usage = usage.NopRecorder()
	}
	if g.checker == nil {
		g.checker = health.NewChecker("dev")
	}
	return g
}

// Router builds the gin engine with the full middleware stack.
func (g *Gateway) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	metricsPath := g.metricsPath()
	engine.Use(
		requestIDMiddleware(),
		recoveryMiddleware(g.logger),
		loggingMiddleware(g.logger, metricsPath),
	)
	if g.metrics != nil {
		engine.Use(metricsMiddleware(g.metrics))
	}
	if g.config != nil && g.config.Tracing.Enabled {
		engine.Use(tracingMiddleware(g.config.Tracing.ServiceName))
	}

	engine.GET("/healthz", gin.WrapF(g.checker.LivenessHandler()))
	engine.GET("/readyz", gin.WrapF(g.checker.ReadinessHandler()))
	if metricsPath != "" {
		engine.GET(metricsPath, gin.WrapH(observability.MetricsHandler(g.promRegistry)))
	}

	v1 := engine.Group("/v1", g.authMiddleware())
	v1.POST("/query", g.authorizeMiddleware(authz.ActionQuery), g.handleQuery)
	v1.GET("/tool_servers", g.authorizeMiddleware(authz.ActionInfo), g.handleToolServers)

	return engine
}

// metricsPath returns the route to expose the registry on, or the
// empty string when metrics exposition is off.
func (g *Gateway) metricsPath() string {
	if g.promRegistry == nil {
		return ""
	}
	if g.config != nil && !g.config.Metrics.Enabled {
		return ""
	}
	if g.config != nil && g.config.Metrics.Path != "" {
		return g.config.Metrics.Path
	}
	return "/metrics"
}

// Handler returns the engine as a plain http.Handler.
func (g *Gateway) Handler() http.Handler {
	return g.Router()
}
