package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Allocation outcomes reported to the Observer.
const (
	OutcomeAssigned = "assigned"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

// Observer receives allocation outcomes. The metrics collector implements it.
type Observer interface {
	ObservePoolAllocation(outcome string)
}

// Allocator manages per-organization credential pools.
type Allocator struct {
	storage  Storage
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver sets the allocation observer.
func WithObserver(o Observer) Option {
	return func(a *Allocator) { a.observer = o }
}

// NewAllocator creates an Allocator on top of storage.
func NewAllocator(storage Storage, opts ...Option) *Allocator {
	a := &Allocator{
		storage: storage,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "pool")
	return a
}

// AddToPool adds a credential to the pool of orgID and returns the new
// entry id. Adding a credential whose identifier is already present in the
// organization fails with ErrDuplicateCredential.
func (a *Allocator) AddToPool(ctx context.Context, orgID string, cred Credential) (string, error) {
	if orgID == "" {
		return "", fmt.Errorf("%w: organization id is required", ErrInvalidCredential)
	}
	secret := strings.TrimSpace(cred.Secret)
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidCredential)
	}

	credentialID := strings.TrimSpace(cred.ID)
	if credentialID == "" {
		credentialID = Fingerprint(secret)
	}

	now := a.now().UTC()
	entry := &Entry{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CredentialID:   credentialID,
		Secret:         secret,
		DisplayName:    cred.DisplayName,
		State:          StateAvailable,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.storage.Insert(ctx, entry); err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "credential added to pool",
		"organization_id", orgID,
		"entry_id", entry.ID,
		"credential_id", credentialID,
	)
	return entry.ID, nil
}

// Allocate assigns an available credential of orgID to userID, replacing
// the user's previous assignment. It returns nil, nil when the pool has no
// available entry; whether that is an error is the caller's decision.
//
// Two concurrent calls never receive the same entry.
func (a *Allocator) Allocate(ctx context.Context, orgID, userID string) (*CredentialRef, error) {
	if orgID == "" || userID == "" {
		return nil, fmt.Errorf("allocate requires organization and user ids")
	}

	entry, err := a.storage.Claim(ctx, orgID, userID, a.now().UTC())
	if err != nil {
		a.observe(OutcomeError)
		return nil, fmt.Errorf("allocate credential for %s in %s: %w", userID, orgID, err)
	}
	if entry == nil {
		a.observe(OutcomeEmpty)
		a.logger.WarnContext(ctx, "credential pool exhausted",
			"organization_id", orgID,
			"user_id", userID,
		)
		return nil, nil
	}

	a.observe(OutcomeAssigned)
	a.logger.InfoContext(ctx, "credential allocated",
		"organization_id", orgID,
		"user_id", userID,
		"entry_id", entry.ID,
	)
	return entry.Ref(), nil
}

// Release returns an assigned entry to the pool. Releasing an entry that is
// already available is a no-op.
func (a *Allocator) Release(ctx context.Context, entryID string) error {
	_, err := a.storage.Transition(ctx, entryID, StateAvailable, []State{StateAssigned}, a.now().UTC())
	if alreadyIn(err, StateAvailable) {
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "credential released", "entry_id", entryID)
	return nil
}

// Revoke permanently withdraws an entry and clears the binding of whichever
// user holds it. Revoking a revoked entry is a no-op.
func (a *Allocator) Revoke(ctx context.Context, entryID string) error {
	prev, err := a.storage.Transition(ctx, entryID, StateRevoked, []State{StateAvailable, StateAssigned}, a.now().UTC())
	if alreadyIn(err, StateRevoked) {
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "credential revoked",
		"entry_id", entryID,
		"organization_id", prev.OrganizationID,
	)
	return nil
}

// Archive retires an available entry. Archiving an archived entry is a
// no-op.
func (a *Allocator) Archive(ctx context.Context, entryID string) error {
	_, err := a.storage.Transition(ctx, entryID, StateArchived, []State{StateAvailable}, a.now().UTC())
	if alreadyIn(err, StateArchived) {
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "credential archived", "entry_id", entryID)
	return nil
}

// RemoveFromPool deletes an entry of orgID. Only available entries may be
// removed.
func (a *Allocator) RemoveFromPool(ctx context.Context, orgID, entryID string) error {
	if err := a.storage.Delete(ctx, orgID, entryID); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "credential removed from pool",
		"organization_id", orgID,
		"entry_id", entryID,
	)
	return nil
}

// Get returns an entry.
func (a *Allocator) Get(ctx context.Context, entryID string) (*Entry, error) {
	return a.storage.Get(ctx, entryID)
}

// List returns the entries of orgID.
func (a *Allocator) List(ctx context.Context, orgID string) ([]*Entry, error) {
	return a.storage.List(ctx, orgID)
}

// AssignedTo returns the credential currently held by userID, or nil.
func (a *Allocator) AssignedTo(ctx context.Context, userID string) (*CredentialRef, error) {
	entry, err := a.storage.AssignedTo(ctx, userID)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Ref(), nil
}

// BulkAssign allocates a credential to each user in turn. Users that cannot
// be served are reported in Failed; an exhausted pool is not an error.
func (a *Allocator) BulkAssign(ctx context.Context, orgID string, userIDs []string) *BulkResult {
	result := &BulkResult{
		Assigned: []Assignment{},
		Failed:   []Failure{},
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, Failure{UserID: userID, Reason: err.Error()})
			continue
		}

		ref, err := a.Allocate(ctx, orgID, userID)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, Failure{UserID: userID, Reason: err.Error()})
		case ref == nil:
			result.Failed = append(result.Failed, Failure{UserID: userID, Reason: "no available credential in pool"})
		default:
			result.Assigned = append(result.Assigned, Assignment{UserID: userID, EntryID: ref.EntryID})
		}
	}

	a.logger.InfoContext(ctx, "bulk assignment finished",
		"organization_id", orgID,
		"assigned", len(result.Assigned),
		"failed", len(result.Failed),
	)
	return result
}

func (a *Allocator) observe(outcome string) {
	if a.observer != nil {
		a.observer.ObservePoolAllocation(outcome)
	}
}

// alreadyIn reports whether err is a rejected transition of an entry that
// is already in state s.
func alreadyIn(err error, s State) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Current == s
}
