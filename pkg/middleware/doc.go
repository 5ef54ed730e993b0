// Package middleware provides HTTP middleware for boardstream servers.
//
// This package includes:
//   - OpenTelemetry distributed tracing middleware
//   - Prometheus metrics middleware
//   - Recovery and request logging utilities
//
// All middleware follows the standard func(http.Handler) http.Handler
// shape and composes with chi routers:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Recoverer(logger))
//	r.Use(middleware.RequestLogger(logger))
//	r.Use(middleware.Prometheus())
//	r.Use(middleware.OpenTelemetry())
//
// # Prometheus Metrics
//
// The Prometheus middleware collects per-route HTTP metrics:
//   - boardstream_http_requests_total: requests by path and status class
//   - boardstream_http_request_duration_seconds: handler duration histogram
//   - boardstream_http_requests_in_flight: concurrent request gauge
//
// WebSocket upgrades are long-lived; the duration histogram excludes
// the /ws route by default so session lifetimes do not distort it.
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware starts a server span per request and
// injects its context into the request, so downstream calls (redis,
// membership lookups) inherit the trace. The tracer resolves from the
// global provider; configure it in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
package middleware
