package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Recovery recovers from panics in HTTP handlers and writes a 500 error in
// the standard envelope. The stack is logged but never sent to the client.
//
// Example usage:
//
//	handler = Recovery(logger)(handler)
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// Let net/http abort the connection as it would without us.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"request_id", logging.RequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				apierror.Write(w, apierror.New(apierror.CodeInternal,
					"An internal error occurred. Please try again later."))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
