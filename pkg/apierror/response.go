package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse is the JSON envelope written for every error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of an ErrorResponse.
type ErrorDetail struct {
	// Code is the machine-readable error code.
	Code Code `json:"code"`

	// Message is a human-readable reason.
	Message string `json:"message"`

	// Type groups codes into broad categories, mirroring the error shape of
	// OpenAI-compatible APIs so that existing SDKs surface the message.
	Type string `json:"type"`

	Scope          string       `json:"scope,omitempty"`
	ScopeID        string       `json:"scope_id,omitempty"`
	Limit          *int64       `json:"limit,omitempty"`
	Used           *int64       `json:"used,omitempty"`
	PriorSession   *SessionInfo `json:"prior_session,omitempty"`
	UpstreamStatus int          `json:"upstream_status,omitempty"`
	Retryable      bool         `json:"retryable,omitempty"`
}

// Response builds the JSON envelope for e.
func (e *Error) Response() *ErrorResponse {
	detail := ErrorDetail{
		Code:           e.Code,
		Message:        e.Message,
		Type:           errorType(e.Code),
		Scope:          e.Scope,
		ScopeID:        e.ScopeID,
		PriorSession:   e.PriorSession,
		UpstreamStatus: e.UpstreamStatus,
		Retryable:      e.Retryable(),
	}
	if e.Code == CodeBudgetExceeded {
		limit, used := e.Limit, e.Used
		detail.Limit = &limit
		detail.Used = &used
	}
	return &ErrorResponse{Error: detail}
}

// Write serializes err to w with the matching status code. Transient
// failures carry a Retry-After header.
func Write(w http.ResponseWriter, err error) {
	apiErr := From(err)

	w.Header().Set("Content-Type", "application/json")
	if apiErr.Retryable() {
		w.Header().Set("Retry-After", strconv.Itoa(1))
	}
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apiErr.Response())
}

func errorType(code Code) string {
	switch code {
	case CodeUnauthenticated:
		return "authentication_error"
	case CodeUnauthorized, CodeAccountDisabled:
		return "permission_denied"
	case CodeNotFound:
		return "not_found"
	case CodeBudgetExceeded:
		return "rate_limit_exceeded"
	case CodePoolExhausted, CodeSessionConflict, CodeConflict:
		return "conflict"
	case CodeUpstreamError:
		return "bad_gateway"
	case CodeTransientFailure:
		return "service_unavailable"
	case CodeInvalidRequest:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}
