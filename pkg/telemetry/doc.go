// Package telemetry groups Tollgate's observability packages.
//
//   - logging: slog handler with context fields and credential redaction
//   - metrics: Prometheus collector for dispatch, budget, pool and session events
//   - tracing: OpenTelemetry tracer with OTLP export
//   - health: liveness and readiness probes
package telemetry
