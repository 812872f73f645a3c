package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotFound is returned when an entry does not exist or belongs
	// to another organization.
	ErrEntryNotFound = errors.New("pool entry not found")

	// ErrDuplicateCredential is returned when a credential is added twice to
	// the same organization.
	ErrDuplicateCredential = errors.New("credential already in pool")

	// ErrEntryInUse is returned when removing an entry that is not available.
	ErrEntryInUse = errors.New("pool entry is not available")

	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid pool entry transition")

	// ErrInvalidCredential is returned for empty secret material.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrAssignmentConflict is returned when a concurrent allocation for the
	// same user won the race. The caller may retry.
	ErrAssignmentConflict = errors.New("concurrent allocation for user")
)

// TransitionError reports a rejected state change.
type TransitionError struct {
	EntryID string
	Current State
	Target  State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("pool entry %s cannot move from %s to %s", e.EntryID, e.Current, e.Target)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
