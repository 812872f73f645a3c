// Package apierror defines the caller-facing error taxonomy of Tollgate.
//
// Every denial or failure that crosses the HTTP boundary is expressed as an
// *Error carrying a machine-readable Code and a human-readable message.
// Budget denials additionally disclose the limiting scope and the configured
// limit so clients can explain why a request was rejected.
//
// # Codes
//
//   - unauthenticated (401): missing or invalid bearer token
//   - unauthorized (403): principal lacks the required role or membership
//   - not_found (404): organization, workspace, user or credential absent
//   - budget_exceeded (429): a token budget would be exceeded
//   - account_disabled (403): API access off, organization suspended or archived, workspace archived
//   - pool_exhausted (409): no available pooled credential
//   - session_conflict (409): an active session already exists
//   - upstream_error (502): the upstream LLM API returned an error
//   - transient_failure (503): timeout or store unavailable, safe to retry
//
// Domain packages return their own typed errors; they are translated into
// *Error exactly once, at the dispatcher or HTTP handler boundary.
package apierror
