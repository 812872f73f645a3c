package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/pool"
)

// PoolStore implements pool.Storage.
type PoolStore struct {
	mu      sync.Mutex
	entries map[string]*pool.Entry
}

// NewPoolStore creates an empty pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{entries: make(map[string]*pool.Entry)}
}

// Insert stores a new entry.
func (s *PoolStore) Insert(ctx context.Context, e *pool.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entries {
		if existing.OrganizationID == e.OrganizationID && existing.CredentialID == e.CredentialID {
			return pool.ErrDuplicateCredential
		}
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

// Get returns a copy of an entry.
func (s *PoolStore) Get(ctx context.Context, id string) (*pool.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, pool.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// List returns the entries of orgID, oldest first.
func (s *PoolStore) List(ctx context.Context, orgID string) ([]*pool.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]*pool.Entry, 0)
	for _, e := range s.entries {
		if e.OrganizationID == orgID {
			cp := *e
			out = append(out, &cp)
		}
	}
	s.mu.Unlock()

	sortOldestFirst(out)
	return out, nil
}

// Claim assigns the oldest available entry of orgID to userID.
func (s *PoolStore) Claim(ctx context.Context, orgID, userID string, now time.Time) (*pool.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*pool.Entry
	for _, e := range s.entries {
		if e.OrganizationID == orgID && e.State == pool.StateAvailable {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortOldestFirst(candidates)
	chosen := candidates[0]

	for _, e := range s.entries {
		if e.State == pool.StateAssigned && e.AssignedTo == userID {
			e.State = pool.StateAvailable
			e.AssignedTo = ""
			e.Version++
			e.UpdatedAt = now
		}
	}

	chosen.State = pool.StateAssigned
	chosen.AssignedTo = userID
	chosen.Version++
	chosen.UpdatedAt = now

	cp := *chosen
	return &cp, nil
}

// Transition moves an entry to `to` when its state is one of `from`. The
// entry as it was before the change is returned.
func (s *PoolStore) Transition(ctx context.Context, id string, to pool.State, from []pool.State, now time.Time) (*pool.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, pool.ErrEntryNotFound
	}
	if !slices.Contains(from, e.State) {
		return nil, &pool.TransitionError{EntryID: id, Current: e.State, Target: to}
	}

	prev := *e
	e.State = to
	e.AssignedTo = ""
	e.Version++
	e.UpdatedAt = now
	return &prev, nil
}

// Delete removes an available entry of orgID.
func (s *PoolStore) Delete(ctx context.Context, orgID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.OrganizationID != orgID {
		return pool.ErrEntryNotFound
	}
	if e.State != pool.StateAvailable {
		return pool.ErrEntryInUse
	}
	delete(s.entries, id)
	return nil
}

// AssignedTo returns the entry bound to userID, or nil.
func (s *PoolStore) AssignedTo(ctx context.Context, userID string) (*pool.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.State == pool.StateAssigned && e.AssignedTo == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func sortOldestFirst(entries []*pool.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
