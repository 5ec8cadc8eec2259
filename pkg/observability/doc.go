// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("integration_id", id).Info("Access token refreshed")
//
// Handlers obtain a request-scoped logger with observability.FromContext(ctx),
// which carries request_id and user_id when present.
//
// # Metrics
//
//	registry := observability.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordTokenRefresh("google_drive", "lazy", "success")
//
// A nil *Metrics is accepted everywhere and records nothing, which keeps
// service tests free of registry setup.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("s3", objectStore.HealthCheck)
//	observability.RegisterHealthRoutes(healthMux, checker)
package observability
