package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/admin"
	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply schema migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := setupLogger(cfg.Observability.LogLevel)
	if err := run(cfg, log, *migrateOnly); err != nil {
		log.Fatalf("Warden exited with error: %v", err)
	}
}

// setupLogger configures the bootstrap logger
func setupLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	switch level {
	case observability.DebugLevel:
		logger.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		logger.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func run(cfg *config.Config, log *logrus.Logger, migrateOnly bool) error {
	ctx := context.Background()
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "warden")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if err := storage.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return err
	}
	log.Info("Database schema is current")
	if migrateOnly {
		return db.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "warden"),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	decisionCache, shared, err := buildCache(ctx, cfg.Cache, logger, metrics)
	if err != nil {
		db.Close()
		return err
	}
	if shared != nil {
		log.WithField("prefix", cfg.Cache.RedisKeyPrefix).Info("Shared cache tier enabled")
	}

	templates := rbac.CommonRoleTemplates()
	if cfg.Authz.RoleTemplatesFile != "" {
		extra, err := rbac.LoadTemplates(cfg.Authz.RoleTemplatesFile)
		if err != nil {
			db.Close()
			return err
		}
		templates = rbac.MergeTemplates(templates, extra)
		log.WithField("file", cfg.Authz.RoleTemplatesFile).Infof("Loaded %d role templates", len(extra))
	}

	tenants := tenancy.NewService(db)
	roles := rbac.NewStore(db)
	acls := acl.NewStore(db)
	keys := auth.NewAPIKeyStore(db)

	engine := rbac.NewEngine(roles, rbac.EngineOptions{
		Cache:     decisionCache,
		CacheTTL:  cfg.Cache.LocalTTL,
		Templates: templates,
		Logger:    logger,
	})
	resolver := authz.NewResolver(tenants, engine, acls, authz.Options{
		Cache:                          decisionCache,
		DecisionTTL:                    cfg.Cache.LocalTTL,
		WorkspaceRoleOverridesOrgAdmin: cfg.Authz.WorkspaceRoleOverridesOrgAdmin,
		Logger:                         logger,
		Metrics:                        metrics,
	})

	strategies, err := buildStrategies(ctx, cfg.Auth, keys, decisionCache, cfg.Cache.SharedTTL, logger)
	if err != nil {
		db.Close()
		return err
	}
	chain := auth.NewChain(strategies, auth.ChainOptions{
		Primary:              cfg.Auth.Primary,
		MandatoryPrimary:     cfg.Auth.MandatoryPrimary,
		Timeout:              cfg.Auth.StrategyTimeout,
		InternalSecret:       cfg.Auth.InternalSecret,
		InternalAuthRequired: cfg.Auth.InternalAuthRequired,
		Logger:               logger,
		Metrics:              metrics,
	})
	log.WithField("strategies", chain.Strategies()).Info("Authentication chain ready")

	adminService := admin.NewService(tenants, roles, engine, acls, keys, admin.Options{
		Cache:   decisionCache,
		Logger:  logger,
		Metrics: metrics,
	})

	var redisClient *redis.Client
	if shared != nil {
		redisClient = shared.Client()
	}
	apiServer := api.NewServer(api.Config{
		Resolver:      resolver,
		Admin:         adminService,
		Authenticator: chain,
		Health:        observability.NewHealthChecker(db, redisClient, version),
		Registry:      registry,
		Metrics:       metrics,
		Logger:        logger,
	})

	scheduler, err := schedulePurge(cfg.Auth.APIKeyPurgeSchedule, adminService, log)
	if err != nil {
		db.Close()
		return err
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(apiServer, "warden"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	shutdown.Register("cache", func(context.Context) error { return decisionCache.Close() })
	shutdown.Register("tracer", func(ctx context.Context) error { return observability.ShutdownOTel(ctx, providers, logger) })
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		log.WithField("addr", httpServer.Addr).WithField("version", version).Info("Starting Warden authorization server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

// buildCache assembles the local tier and, when enabled, the Redis tier.
// The returned backend is nil for a local-only deployment.
func buildCache(ctx context.Context, cfg config.CacheConfig, logger *observability.Logger, metrics *observability.Metrics) (*cache.TieredCache, *cache.RedisCache, error) {
	local := cache.NewLocalCache(cfg.MaxItems, cfg.LocalTTL, metrics)
	if !cfg.SharedEnabled {
		return cache.NewTieredCache(local, nil, cache.TieredOptions{Logger: logger, Metrics: metrics}), nil, nil
	}

	shared, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		URL:              cfg.RedisURL,
		KeyPrefix:        cfg.RedisKeyPrefix,
		OperationTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache.NewTieredCache(local, shared, cache.TieredOptions{
		SharedTTL: cfg.SharedTTL,
		Logger:    logger,
		Metrics:   metrics,
	}), shared, nil
}

// schedulePurge deletes expired and revoked API keys on schedule, a cron
// expression or descriptor such as "@hourly"
func schedulePurge(schedule string, svc *admin.Service, log *logrus.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := svc.PurgeAPIKeys(ctx, time.Now())
		if err != nil {
			log.WithError(err).Error("API key purge failed")
			return
		}
		log.WithField("purged", n).Debug("API key purge complete")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule API key purge %q: %w", schedule, err)
	}
	return c, nil
}
