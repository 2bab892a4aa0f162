// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.LevelInfo)
//	logger.Info("Server started", "port", 8080)
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).Error("Request failed", err)
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.HTTPRequestsTotal.WithLabelValues("POST", "/payments", "202").Inc()
//	metrics.PaymentsTotal.WithLabelValues("stripe", "initiated").Inc()
//
// Webhook pipeline metrics:
//
//	metrics.WebhookEventsTotal.WithLabelValues("stripe", "processed").Inc()
//	metrics.ReconciliationsTotal.WithLabelValues("completed").Inc()
//
// # Health Checks
//
// Configure the dependency checks and mount the endpoints:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck(observability.DependencyCheck{Name: "event_bus", Critical: true, Run: bus.Ping})
//	observability.RegisterHealthRoutes(mux, checker)
//
// The database check is critical; Redis and custom non-critical checks only
// degrade readiness. A check error wrapping ErrDegraded never fails it.
//
// # OpenTelemetry
//
// Initialize tracing and metrics export:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:        true,
//		Endpoint:       "otel-collector:4317",
//		ServiceName:    "billingd",
//		ServiceVersion: "v1.0.0",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: Request logging and metrics middleware
package observability
