// Package middleware provides the HTTP middleware of the vb control
// surface.
//
// This package includes:
//   - OpenTelemetry tracing of every HTTP request
//   - Request duration metrics keyed by method, route and status
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry(middleware.WithTracerName("vb")))
//	r.With(middleware.Track(collector, "/health")).Get("/health", h)
//
// # OpenTelemetry
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it
// in main() before starting the server; without one, spans are no-ops.
package middleware
