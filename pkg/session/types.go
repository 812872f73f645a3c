package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TerminationReason records why a session ended.
type TerminationReason string

const (
	ReasonLogout   TerminationReason = "logout"
	ReasonExpired  TerminationReason = "expired"
	ReasonTakeover TerminationReason = "takeover"
)

// ClientMeta describes the client that opened a session.
type ClientMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Session is one authenticated presence of an account.
type Session struct {
	ID                string            `json:"id"`
	AccountID         string            `json:"account_id"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	ClientIP          string            `json:"client_ip,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	TerminatedAt      *time.Time        `json:"terminated_at,omitempty"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
}

// Active reports whether the session is neither terminated nor expired.
func (s *Session) Active(now time.Time) bool {
	return s.TerminatedAt == nil && now.Before(s.ExpiresAt)
}

var (
	// ErrActiveSessionExists is returned by Storage.Insert when the account
	// already has a non-terminated session.
	ErrActiveSessionExists = errors.New("account already has an active session")

	// ErrSessionConflict is matched by every *ConflictError.
	ErrSessionConflict = errors.New("session conflict")

	// ErrSessionNotFound is returned when a session is not the active
	// session of its account.
	ErrSessionNotFound = errors.New("session not found")
)

// ConflictError is returned by CreateSession when the account already has
// an active session.
type ConflictError struct {
	AccountID string
	Prior     *Session
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Prior == nil {
		return fmt.Sprintf("account %s already has an active session", e.AccountID)
	}
	return fmt.Sprintf("account %s already has an active session %s (created %s)",
		e.AccountID, e.Prior.ID, e.Prior.CreatedAt.Format(time.RFC3339))
}

// Is matches ErrSessionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSessionConflict
}

// Storage persists sessions.
//
// At most one non-terminated session may exist per account; Insert and
// Replace enforce this with a unique claim in the store, not with a prior
// read.
type Storage interface {
	// Active returns the account's non-terminated, unexpired session, or nil.
	Active(ctx context.Context, accountID string, now time.Time) (*Session, error)

	// Insert stores s. It returns ErrActiveSessionExists when the account
	// already has a non-terminated session.
	Insert(ctx context.Context, s *Session) error

	// Replace terminates the account's non-terminated session, if any, and
	// stores s in one atomic step. The terminated session is returned. It
	// returns ErrActiveSessionExists if a concurrent writer inserted a
	// session in between.
	Replace(ctx context.Context, s *Session, now time.Time) (*Session, error)

	// Terminate ends the account's non-terminated session with reason and
	// returns it, or returns nil when there is none.
	Terminate(ctx context.Context, accountID string, reason TerminationReason, now time.Time) (*Session, error)

	// ExpireAccount terminates the account's session with reason expired if
	// its expiry has passed.
	ExpireAccount(ctx context.Context, accountID string, now time.Time) error

	// ExpireAll terminates every expired session and returns how many.
	ExpireAll(ctx context.Context, now time.Time) (int, error)

	// Touch updates activity and expiry of the account's active session if
	// its id is sessionID. It returns ErrSessionNotFound otherwise.
	Touch(ctx context.Context, accountID, sessionID string, now, expiresAt time.Time) (*Session, error)
}
