// Package logging builds the process-wide slog logger.
//
// Every component receives a *slog.Logger and tags it with a "component"
// attribute. The handler built here adds request-scoped fields carried in
// the context (request id, user, organization) and masks credentials
// before records are written:
//
//   - bearer tokens: "Bearer eyJhbGci..." becomes "Bearer ***"
//   - provider keys: "sk-live-abc123" becomes "sk-***"
//   - values under keys such as api_key, secret or authorization keep only
//     a four character prefix
//   - passwords in connection URLs are replaced by "***"
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactSecrets: true})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "call dispatched", "model", "gpt-4o") // includes request_id
package logging
