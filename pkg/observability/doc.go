// Package observability provides structured logging, Prometheus metrics, health
// checks, graceful shutdown and OpenTelemetry setup for the audit core.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("event_id", id).Error("failed to persist audit event")
//
// Request-scoped logging picks up the correlation id and active span:
//
//	observability.FromContext(ctx).Info("export ready")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordEvent("async", "persisted", elapsed)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddProbe("database", true, db.PingContext)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/audit: Event pipeline instrumented by these metrics
package observability
