package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State is the lifecycle state of a pool entry.
//
//	available -> assigned -> available
//	available | assigned -> revoked   (absorbing)
//	available -> archived             (absorbing)
type State string

const (
	StateAvailable State = "available"
	StateAssigned  State = "assigned"
	StateRevoked   State = "revoked"
	StateArchived  State = "archived"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateRevoked || s == StateArchived
}

// Entry is one allocatable upstream credential owned by an organization.
type Entry struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	CredentialID   string    `json:"credential_id"`
	Secret         string    `json:"-"`
	DisplayName    string    `json:"display_name,omitempty"`
	State          State     `json:"state"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ref returns a reference to the entry's credential.
func (e *Entry) Ref() *CredentialRef {
	return &CredentialRef{
		EntryID:        e.ID,
		OrganizationID: e.OrganizationID,
		CredentialID:   e.CredentialID,
		DisplayName:    e.DisplayName,
		Secret:         e.Secret,
	}
}

// CredentialRef is what a caller holding an assignment needs to call the
// upstream API.
type CredentialRef struct {
	EntryID        string `json:"entry_id"`
	OrganizationID string `json:"organization_id"`
	CredentialID   string `json:"credential_id"`
	DisplayName    string `json:"display_name,omitempty"`
	Secret         string `json:"-"`
}

// Credential is the input of AddToPool.
type Credential struct {
	// ID identifies the credential inside the organization. When empty, a
	// fingerprint of Secret is used.
	ID          string `json:"id,omitempty"`
	Secret      string `json:"secret"`
	DisplayName string `json:"display_name,omitempty"`
}

// Fingerprint derives a stable credential identifier from secret material.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Assignment is a successful bulk assignment.
type Assignment struct {
	UserID  string `json:"user_id"`
	EntryID string `json:"entry_id"`
}

// Failure is a failed bulk assignment.
type Failure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// BulkResult reports a bulk assignment per user.
type BulkResult struct {
	Assigned []Assignment `json:"assigned"`
	Failed   []Failure    `json:"failed"`
}

// Storage persists pool entries.
//
// Every state change is a single conditional write against the store; no
// implementation may read an entry, mutate it in memory and write it back.
type Storage interface {
	// Insert stores a new entry. It returns ErrDuplicateCredential when the
	// organization already has an entry with the same CredentialID.
	Insert(ctx context.Context, e *Entry) error

	// Get returns an entry or ErrEntryNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns the entries of an organization, oldest first.
	List(ctx context.Context, orgID string) ([]*Entry, error)

	// Claim atomically moves one available entry of orgID to assigned,
	// binds it to userID and releases any other entry the user holds. It
	// returns nil without error when no entry is available, in which case
	// the user's previous assignment is left untouched.
	Claim(ctx context.Context, orgID, userID string, now time.Time) (*Entry, error)

	// Transition moves an entry to state `to` if its current state is one of
	// `from`, clearing the binding. It returns a *TransitionError carrying
	// the current state when the condition does not hold.
	Transition(ctx context.Context, id string, to State, from []State, now time.Time) (*Entry, error)

	// Delete removes an available entry of orgID. It returns
	// ErrEntryNotFound or ErrEntryInUse.
	Delete(ctx context.Context, orgID, id string) error

	// AssignedTo returns the entry bound to userID, or nil.
	AssignedTo(ctx context.Context, userID string) (*Entry, error)
}
