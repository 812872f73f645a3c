package pool_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/storage/memory"
)

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObservePoolAllocation(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func newAllocator(t *testing.T, opts ...pool.Option) *pool.Allocator {
	t.Helper()
	tick := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return pool.NewAllocator(memory.NewPoolStore(), append([]pool.Option{pool.WithClock(clock)}, opts...)...)
}

func addKeys(t *testing.T, a *pool.Allocator, orgID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := a.AddToPool(context.Background(), orgID, pool.Credential{Secret: fmt.Sprintf("sk-%s-%d", orgID, i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAddToPool(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()

	id, err := a.AddToPool(ctx, "org-1", pool.Credential{Secret: "  sk-one  ", DisplayName: "primary"})
	require.NoError(t, err)

	entry, err := a.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pool.StateAvailable, entry.State)
	assert.Equal(t, "sk-one", entry.Secret)
	assert.Equal(t, pool.Fingerprint("sk-one"), entry.CredentialID)
	assert.Empty(t, entry.AssignedTo)

	_, err = a.AddToPool(ctx, "org-1", pool.Credential{Secret: "sk-one"})
	assert.ErrorIs(t, err, pool.ErrDuplicateCredential)

	// The same credential may be pooled by another organization.
	_, err = a.AddToPool(ctx, "org-2", pool.Credential{Secret: "sk-one"})
	assert.NoError(t, err)

	_, err = a.AddToPool(ctx, "org-1", pool.Credential{Secret: "   "})
	assert.ErrorIs(t, err, pool.ErrInvalidCredential)
}

func TestAllocate_OldestFirstAndReplacesPreviousAssignment(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	ids := addKeys(t, a, "org-1", 2)

	ref, err := a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, ids[0], ref.EntryID)

	ref, err = a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, ids[1], ref.EntryID)

	first, err := a.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, pool.StateAvailable, first.State)
	assert.Empty(t, first.AssignedTo)

	held, err := a.AssignedTo(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, ids[1], held.EntryID)
}

func TestAllocate_EmptyPool(t *testing.T) {
	obs := &countingObserver{}
	a := newAllocator(t, pool.WithObserver(obs))

	ref, err := a.Allocate(context.Background(), "org-1", "alice")
	require.NoError(t, err)
	assert.Nil(t, ref)
	assert.Equal(t, 1, obs.outcomes[pool.OutcomeEmpty])
}

func TestBulkAssign_ReportsExhaustionPerUser(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()

	result := a.BulkAssign(ctx, "org-1", []string{"alice"})
	assert.Empty(t, result.Assigned)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "alice", result.Failed[0].UserID)
	assert.Equal(t, "no available credential in pool", result.Failed[0].Reason)

	addKeys(t, a, "org-1", 2)
	result = a.BulkAssign(ctx, "org-1", []string{"bob", "carol", "dave"})
	assert.Len(t, result.Assigned, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "dave", result.Failed[0].UserID)
}

func TestAllocate_ConcurrentCallsGetDistinctEntries(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	addKeys(t, a, "org-1", 10)

	const users = 25
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[string]string)
		empty int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			ref, err := a.Allocate(ctx, "org-1", userID)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if ref == nil {
				empty++
				return
			}
			if other, dup := seen[ref.EntryID]; dup {
				t.Errorf("entry %s handed to %s and %s", ref.EntryID, other, userID)
			}
			seen[ref.EntryID] = userID
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	assert.Len(t, seen, 10)
	assert.Equal(t, users-10, empty)

	entries, err := a.List(ctx, "org-1")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, pool.StateAssigned, e.State)
		assert.Equal(t, seen[e.ID], e.AssignedTo)
	}
}

func TestRevokeAndArchiveAreAbsorbing(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	ids := addKeys(t, a, "org-1", 2)

	ref, err := a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)
	require.Equal(t, ids[0], ref.EntryID)

	require.NoError(t, a.Revoke(ctx, ids[0]))
	require.NoError(t, a.Revoke(ctx, ids[0]))

	held, err := a.AssignedTo(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, held)

	err = a.Release(ctx, ids[0])
	assert.ErrorIs(t, err, pool.ErrInvalidTransition)
	err = a.Archive(ctx, ids[0])
	assert.ErrorIs(t, err, pool.ErrInvalidTransition)

	require.NoError(t, a.Archive(ctx, ids[1]))
	require.NoError(t, a.Archive(ctx, ids[1]))
	err = a.Revoke(ctx, ids[1])
	assert.ErrorIs(t, err, pool.ErrInvalidTransition)

	ref, err = a.Allocate(ctx, "org-1", "bob")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRelease(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	ids := addKeys(t, a, "org-1", 1)

	require.NoError(t, a.Release(ctx, ids[0]))

	_, err := a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)
	require.NoError(t, a.Release(ctx, ids[0]))

	entry, err := a.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, pool.StateAvailable, entry.State)
	assert.Empty(t, entry.AssignedTo)

	assert.ErrorIs(t, a.Release(ctx, "missing"), pool.ErrEntryNotFound)
}

func TestAssignedEntryCannotBeArchived(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	ids := addKeys(t, a, "org-1", 1)
	_, err := a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)

	var te *pool.TransitionError
	err = a.Archive(ctx, ids[0])
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pool.StateAssigned, te.Current)
	assert.Equal(t, pool.StateArchived, te.Target)
}

func TestRemoveFromPool(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	ids := addKeys(t, a, "org-1", 2)

	_, err := a.Allocate(ctx, "org-1", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, a.RemoveFromPool(ctx, "org-1", ids[0]), pool.ErrEntryInUse)
	assert.ErrorIs(t, a.RemoveFromPool(ctx, "org-2", ids[1]), pool.ErrEntryNotFound)
	require.NoError(t, a.RemoveFromPool(ctx, "org-1", ids[1]))

	entries, err := a.List(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ids[0], entries[0].ID)
}
