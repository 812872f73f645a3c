package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeUnauthorized     Code = "unauthorized"
	CodeNotFound         Code = "not_found"
	CodeBudgetExceeded   Code = "budget_exceeded"
	CodeAccountDisabled  Code = "account_disabled"
	CodePoolExhausted    Code = "pool_exhausted"
	CodeSessionConflict  Code = "session_conflict"
	CodeUpstreamError    Code = "upstream_error"
	CodeTransientFailure Code = "transient_failure"
	CodeInvalidRequest   Code = "invalid_request"
	CodeConflict         Code = "conflict"
	CodeInternal         Code = "internal_error"
)

// SessionInfo describes a previously active session. It is attached to
// session_conflict errors and to forced takeovers.
type SessionInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ClientIP       string    `json:"client_ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Error is the caller-facing error type.
type Error struct {
	// Code classifies the error.
	Code Code

	// Message is a human-readable reason.
	Message string

	// Scope is the limiting scope of a budget or account denial
	// ("user", "organization", "workspace").
	Scope string

	// ScopeID identifies the limiting scope instance.
	ScopeID string

	// Limit and Used are set on budget denials.
	Limit int64
	Used  int64

	// PriorSession is set on session conflicts.
	PriorSession *SessionInfo

	// UpstreamStatus is the HTTP status returned by the upstream API.
	UpstreamStatus int

	// Cause is the underlying error, if any. It is never serialized.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Scope != "" {
		msg = fmt.Sprintf("%s (scope=%s", msg, e.Scope)
		if e.Code == CodeBudgetExceeded {
			msg = fmt.Sprintf("%s limit=%d used=%d", msg, e.Limit, e.Used)
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &Error{Code: CodeNotFound}) matches any not_found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the HTTP status code for the error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUnauthorized, CodeAccountDisabled:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBudgetExceeded:
		return http.StatusTooManyRequests
	case CodePoolExhausted, CodeSessionConflict, CodeConflict:
		return http.StatusConflict
	case CodeUpstreamError:
		switch e.UpstreamStatus {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests:
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case CodeTransientFailure:
		return http.StatusServiceUnavailable
	case CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the request.
func (e *Error) Retryable() bool {
	return e.Code == CodeTransientFailure
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Unauthenticated reports a missing or invalid credential on the inbound request.
func Unauthenticated(message string) *Error {
	return New(CodeUnauthenticated, message)
}

// Unauthorized reports a principal without the required role or membership.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// NotFound reports a missing entity of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id)
}

// BudgetExceeded reports a budget denial for the given scope.
func BudgetExceeded(scope, scopeID string, limit, used int64, reason string) *Error {
	return &Error{
		Code:    CodeBudgetExceeded,
		Message: reason,
		Scope:   scope,
		ScopeID: scopeID,
		Limit:   limit,
		Used:    used,
	}
}

// AccountDisabled reports a disabled user, suspended or archived
// organization, or archived workspace.
func AccountDisabled(scope, scopeID, reason string) *Error {
	return &Error{
		Code:    CodeAccountDisabled,
		Message: reason,
		Scope:   scope,
		ScopeID: scopeID,
	}
}

// PoolExhausted reports that an organization has no available credential.
func PoolExhausted(orgID string) *Error {
	return &Error{
		Code:    CodePoolExhausted,
		Message: fmt.Sprintf("no available credential in the pool of organization %q", orgID),
		Scope:   "organization",
		ScopeID: orgID,
	}
}

// SessionConflict reports an already active session.
func SessionConflict(accountID string, prior *SessionInfo) *Error {
	return &Error{
		Code:         CodeSessionConflict,
		Message:      fmt.Sprintf("account %q already has an active session", accountID),
		PriorSession: prior,
	}
}

// Upstream reports an error returned by the upstream API.
func Upstream(status int, message string, cause error) *Error {
	return &Error{
		Code:           CodeUpstreamError,
		Message:        message,
		UpstreamStatus: status,
		Cause:          cause,
	}
}

// Transient reports a retryable failure.
func Transient(message string, cause error) *Error {
	return Wrap(CodeTransientFailure, message, cause)
}

// InvalidRequest reports a malformed request.
func InvalidRequest(message string) *Error {
	return New(CodeInvalidRequest, message)
}

// Conflict reports a state conflict that is not a session conflict.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// From converts any error into an *Error. Errors that already carry an
// *Error in their chain are returned as is; anything else becomes an
// internal error that does not leak the cause to the caller.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(CodeInternal, "an internal error occurred", err)
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternal
}
