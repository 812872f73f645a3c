package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPRecorder receives per-request metrics. The metrics collector
// implements it.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// RouteFunc names the route a request matched, such as
// "/orgs/{orgID}/pool". It keeps metric labels bounded.
type RouteFunc func(*http.Request) string

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging logs every request once it completes and reports it to recorder,
// when non-nil. 5xx responses log at error level and 4xx at warn.
//
// Log format (JSON):
//
//	{
//	  "level": "INFO",
//	  "msg": "request completed",
//	  "component": "http",
//	  "method": "POST",
//	  "path": "/proxy/chat",
//	  "route": "/proxy/chat",
//	  "status": 200,
//	  "latency_ms": 1250,
//	  "request_id": "2f1c6a0e-..."
//	}
func Logging(logger *slog.Logger, recorder HTTPRecorder, route RouteFunc) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			latency := time.Since(start)
			name := "unmatched"
			if route != nil {
				if n := route(r); n != "" {
					name = n
				}
			}
			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, name, rw.statusCode, latency)
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case rw.statusCode >= 400:
				level = slog.LevelWarn
			}

			// RequestID runs inside this middleware, so read the id back
			// from the response header.
			logger.Log(r.Context(), level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", name,
				"status", rw.statusCode,
				"latency_ms", latency.Milliseconds(),
				"request_id", rw.Header().Get(RequestIDHeader),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		})
	}
}

