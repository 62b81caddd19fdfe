package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/auth"
	"github.com/llmgate/llmgate/internal/authz"
	"github.com/llmgate/llmgate/internal/backend"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/credsource"
	"github.com/llmgate/llmgate/internal/gateway"
	"github.com/llmgate/llmgate/internal/health"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/quota"
	"github.com/llmgate/llmgate/internal/quota/store"
	"github.com/llmgate/llmgate/internal/toolserver"
	"github.com/llmgate/llmgate/internal/usage"
)

// application holds all application components.
type application struct {
	config     *config.Config
	server     *gateway.Server
	scheduler  *quota.Scheduler
	quotaStore store.Store
	fileCache  *credsource.FileCache
	tracer     *observability.TracerProvider
	usage      usage.Recorder
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	registry := observability.NewRegistry()
	tracer := initTracer(cfg, logger)
	checker := health.NewChecker(version)

	authenticator, err := auth.New(&cfg.Auth,
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetricsWithRegisterer(registry)),
	)
	if err != nil {
		logger.Fatal("failed to create authenticator", observability.Error(err))
	}

	roles, err := authz.NewRoleResolver(&cfg.Roles, authz.WithRoleLogger(logger))
	if err != nil {
		logger.Fatal("failed to compile role rules", observability.Error(err))
	}
	access := authz.NewAccessResolver(&cfg.Access,
		authz.WithAccessLogger(logger),
		authz.WithAccessMetrics(authz.NewMetricsWithRegisterer(registry)),
	)

	var (
		quotaStore store.Store
		ledger     quota.Ledger
		scheduler  *quota.Scheduler
	)
	if cfg.Quota.Enabled {
		quotaStore = initQuotaStore(cfg, logger)
		quotaMetrics := quota.NewMetricsWithRegisterer(registry)
		ledger = quota.NewLedger(&cfg.Quota, quotaStore,
			quota.WithLedgerLogger(logger),
			quota.WithLedgerMetrics(quotaMetrics),
		)
		scheduler = quota.NewScheduler(&cfg.Quota, quotaStore,
			quota.WithSchedulerLogger(logger),
			quota.WithSchedulerMetrics(quotaMetrics),
		)
		checker.Register("quota_store", func(ctx context.Context) health.Check {
			if err := quotaStore.Ping(ctx); err != nil {
				return health.Check{Status: health.StatusUnhealthy, Message: err.Error()}
			}
			return health.Check{Status: health.StatusHealthy}
		})
	}

	fileCache, err := credsource.NewFileCache(credsource.WithFileCacheLogger(logger))
	if err != nil {
		logger.Fatal("failed to create secret file cache", observability.Error(err))
	}

	deps := credsource.Deps{Files: fileCache}
	if cfg.Vault.Enabled {
		vaultSource, err := credsource.NewVaultSource(&cfg.Vault, credsource.WithVaultLogger(logger))
		if err != nil {
			logger.Fatal("failed to create vault client", observability.Error(err))
		}
		deps.Vault = vaultSource
	}

	toolServers, err := toolserver.NewRegistry(cfg.ToolServers, deps,
		toolserver.WithRegistryLogger(logger),
		toolserver.WithRegistryMetrics(toolserver.NewMetricsWithRegisterer(registry)),
	)
	if err != nil {
		logger.Fatal("invalid tool server configuration", observability.Error(err))
	}

	recorder := initUsageRecorder(cfg, registry, logger)

	gw := gateway.New(gateway.Options{
		Config:        cfg,
		Authenticator: authenticator,
		Roles:         roles,
		Access:        access,
		Ledger:        ledger,
		Registry:      toolServers,
		Backend:       backend.NewClient(&cfg.Backend, backend.WithClientLogger(logger)),
		Usage:         recorder,
		Checker:       checker,
		Logger:        logger,
		Metrics:       gateway.NewMetricsWithRegisterer(registry),
		PromRegistry:  registry,
	})

	return &application{
		config:     cfg,
		server:     gateway.NewServer(&cfg.Server, gw, logger),
		scheduler:  scheduler,
		quotaStore: quotaStore,
		fileCache:  fileCache,
		tracer:     tracer,
		usage:      recorder,
	}
}

// initTracer builds the OTLP tracer provider when tracing is enabled.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.TracerProvider {
	if !cfg.Tracing.Enabled {
		return nil
	}

	tracer, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", observability.Error(err))
	}
	return tracer
}

// initQuotaStore selects the ledger store backend.
func initQuotaStore(cfg *config.Config, logger observability.Logger) store.Store {
	switch cfg.Quota.Store {
	case "redis":
		logger.Info("using redis quota store",
			observability.String("address", cfg.Quota.Redis.Address),
		)
		return store.NewRedisStore(&cfg.Quota.Redis)
	case "", "memory":
		logger.Info("using in-memory quota store")
		return store.NewMemoryStore()
	default:
		logger.Fatal("unsupported quota store", observability.String("store", cfg.Quota.Store))
		return nil
	}
}

// initUsageRecorder builds the token usage ledger.
func initUsageRecorder(cfg *config.Config, registry *prometheus.Registry, logger observability.Logger) usage.Recorder {
	if !cfg.Usage.Enabled {
		return usage.NopRecorder()
	}

	recorder, err := usage.NewRecorder(&cfg.Usage,
		usage.WithRecorderLogger(logger),
		usage.WithRecorderMetrics(usage.NewMetricsWithRegisterer(registry)),
	)
	if err != nil {
		logger.Fatal("failed to open usage ledger", observability.Error(err))
	}
	return recorder
}

// startScheduler connects the rollover scheduler to the quota store.
// A store that stays unreachable is fatal only in fail-closed mode;
// otherwise requests are admitted without quota accounting and the
// scheduler stays down.
func (app *application) startScheduler(ctx context.Context, logger observability.Logger) {
	if app.scheduler == nil {
		return
	}
	if err := app.scheduler.Start(ctx); err != nil {
		if app.config.Quota.FailClosed {
			logger.Fatal("quota store is unreachable", observability.Error(err))
		}
		logger.Warn("quota store is unreachable, rollover scheduler not started",
			observability.Error(err),
		)
	}
}

// close releases component resources after the server has stopped.
func (app *application) close(ctx context.Context, logger observability.Logger) {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.quotaStore != nil {
		if err := app.quotaStore.Close(); err != nil {
			logger.Error("failed to close quota store", observability.Error(err))
		}
	}
	if app.fileCache != nil {
		if err := app.fileCache.Close(); err != nil {
			logger.Error("failed to close secret file cache", observability.Error(err))
		}
	}
	if app.usage != nil {
		if err := app.usage.Close(); err != nil {
			logger.Error("failed to close usage ledger", observability.Error(err))
		}
	}
	if app.tracer != nil {
		tracerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.tracer.Shutdown(tracerCtx); err != nil {
			logger.Error("failed to shut down tracing", observability.Error(err))
		}
	}
}
