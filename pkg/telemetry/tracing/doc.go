// Package tracing configures OpenTelemetry tracing for Tollgate.
//
// When tracing is enabled, spans are exported in batches over OTLP gRPC and
// the W3C trace context and baggage propagators are installed globally, so
// inbound traceparent headers continue a caller's trace and the upstream
// client forwards the context to the LLM API. When disabled, New returns a
// tracer backed by the noop provider.
//
// Each metered call produces a "tollgate.dispatch" span with a
// "tollgate.upstream" child around the forwarded request.
package tracing
