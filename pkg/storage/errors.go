// Package storage holds the pieces shared by every persistence backend:
// the backend-neutral error type and the list of supported backends.
//
// Concrete backends live in subpackages (memory, sqlite, postgres, redis)
// and implement the Storage interfaces declared by the ledger, pool and
// session packages.
package storage

import (
	"errors"
	"fmt"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// ErrClosed is returned by a backend after Close has been called.
var ErrClosed = errors.New("storage backend is closed")

// Error represents a failure of the persistence layer itself, as opposed to
// a domain condition such as a missing entity or a state conflict. Callers
// surface it as a retryable failure.
type Error struct {
	Backend   string // Storage backend type ("sqlite", "postgres", etc.)
	Operation string // Operation that failed ("append", "claim", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(backend, operation string, cause error) *Error {
	return &Error{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// IsStorageError reports whether err is, or wraps, a storage failure.
func IsStorageError(err error) bool {
	var storageErr *Error
	return errors.As(err, &storageErr)
}
