// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("permit_id", id).Info("permit assigned")
//
// Request-scoped logging picks up the request and user IDs set by the HTTP
// middleware:
//
//	observability.FromContext(ctx).WithError(err).Warn("authorization lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuthzDecisionsTotal.WithLabelValues("permit", "edit", "deny", "feature").Inc()
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, "rbac.Authorize")
//	defer observability.EndSpan(span, err)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
package observability
