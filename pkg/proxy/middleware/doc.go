// Package middleware provides the HTTP middleware shared by every route.
//
// The chain, outermost first:
//
//	Recovery -> Logging -> RequestID -> tracing -> CORS -> MaxBody -> router
//
// Recovery turns panics into a 500 error envelope and logs the stack.
// Logging writes one "request completed" line per request and reports the
// matched route template, status and latency to the metrics collector.
// RequestID assigns or propagates X-Request-ID and stores it in the context
// so that log lines and usage records share it. CORS wraps rs/cors and is a
// no-op when disabled. MaxBody bounds request bodies.
//
// Authentication is not part of the shared chain; it is applied per route
// group so that health and metrics endpoints stay public.
package middleware
