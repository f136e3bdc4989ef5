// Package observability holds warden's ambient plumbing: the slog-backed
// Logger, Prometheus metrics, health checks and OpenTelemetry setup.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Info("membership added")
//
// Library packages accept a *Logger and fall back to NopLogger when none is given.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("workspace", true, "role", time.Since(start))
//
// All Record* helpers tolerate a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "warden",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Spans are started with observability.Tracer(). WithTraceIDs copies the
// current trace and span ids onto a logger so log lines join their traces.
package observability
