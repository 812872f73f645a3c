package upstream

import (
	"fmt"
	"time"
)

// ProviderError is a non-2xx response from the upstream API.
type ProviderError struct {
	// StatusCode is the HTTP status returned upstream.
	StatusCode int

	// Message is the upstream error message, extracted from the body when
	// it is JSON.
	Message string

	// Body is the raw response body.
	Body []byte

	// Usage is whatever usage the error body reported.
	Usage Usage
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// TimeoutError is returned when the forward exceeded its timeout.
type TimeoutError struct {
	// After is the timeout that expired.
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream request timeout after %s", e.After)
}

// Timeout reports true.
func (e *TimeoutError) Timeout() bool { return true }

// TransportError is a failure to send the request or read the response.
type TransportError struct {
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}
