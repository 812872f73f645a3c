package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "tollgate.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tollgate.db")

	db, err := Open(Config{Path: path})
	require.NoError(t, err)
	_, err = db.Ledger().Append(context.Background(), &ledger.UsageRecord{ID: "r1", UserID: "alice", Timestamp: t0, TotalTokens: 5, Source: ledger.SourceProxy})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer db.Close()

	r, err := db.Ledger().Aggregate(context.Background(), ledger.Query{
		Scope:  ledger.UserScope("alice"),
		Window: ledger.Window{Start: t0.Add(-time.Hour), End: t0.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.TotalTokens)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	_, err = Open(Config{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"})
	assert.ErrorContains(t, err, "unknown sqlite driver")
}

func TestLedgerStore(t *testing.T) {
	db := openTestDB(t)
	store := db.Ledger()
	ctx := context.Background()

	records := []*ledger.UsageRecord{
		{ID: "a", UserID: "alice", OrganizationID: "org-1", WorkspaceID: "ws-1", Timestamp: t0, InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Success: true, Source: ledger.SourceProxy, Model: "gpt-4o"},
		{ID: "b", UserID: "alice", OrganizationID: "org-1", Timestamp: t0.Add(time.Minute), TotalTokens: 20, Source: ledger.SourceClient},
		{ID: "c", UserID: "bob", OrganizationID: "org-1", WorkspaceID: "ws-1", Timestamp: t0.Add(2 * time.Hour), TotalTokens: 100, Success: true, Source: ledger.SourceProxy},
	}
	for _, rec := range records {
		inserted, err := store.Append(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	inserted, err := store.Append(ctx, &ledger.UsageRecord{ID: "a", UserID: "mallory", Timestamp: t0, TotalTokens: 999, Source: ledger.SourceProxy})
	require.NoError(t, err)
	assert.False(t, inserted)

	window := ledger.Window{Start: t0, End: t0.Add(2 * time.Hour)}
	r, err := store.Aggregate(ctx, ledger.Query{Scope: ledger.OrganizationScope("org-1"), Window: window})
	require.NoError(t, err)
	assert.Equal(t, int64(35), r.TotalTokens)
	assert.Equal(t, int64(10), r.InputTokens)
	assert.Equal(t, int64(2), r.RequestCount)
	assert.Equal(t, int64(1), r.SuccessCount)
	assert.InDelta(t, 0.5, r.SuccessRate, 1e-9)

	got, err := store.Records(ctx, ledger.Query{Scope: ledger.UserScope("alice"), Window: window, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, ledger.SourceClient, got[0].Source)
	assert.True(t, got[0].Timestamp.Equal(t0.Add(time.Minute)))

	got, err = store.Records(ctx, ledger.Query{Scope: ledger.WorkspaceScope("ws-1"), Window: ledger.Window{Start: t0, End: t0.Add(3 * time.Hour)}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.True(t, got[1].Success)
	assert.Equal(t, "gpt-4o", got[1].Model)

	_, err = store.Aggregate(ctx, ledger.Query{Scope: ledger.Scope{Kind: "team", ID: "x"}, Window: window})
	assert.ErrorIs(t, err, ledger.ErrInvalidQuery)
}

func newEntry(id, org, cred string, created time.Time) *pool.Entry {
	return &pool.Entry{
		ID:             id,
		OrganizationID: org,
		CredentialID:   cred,
		Secret:         "sk-" + id,
		State:          pool.StateAvailable,
		Version:        1,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestPoolStore_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	store := db.Pool()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newEntry("e1", "org-1", "cred-1", t0)))
	require.NoError(t, store.Insert(ctx, newEntry("e2", "org-1", "cred-2", t0.Add(time.Second))))
	assert.ErrorIs(t, store.Insert(ctx, newEntry("e3", "org-1", "cred-1", t0)), pool.ErrDuplicateCredential)

	e, err := store.Claim(ctx, "org-1", "alice", t0)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, pool.StateAssigned, e.State)
	assert.Equal(t, "alice", e.AssignedTo)
	assert.Equal(t, int64(2), e.Version)

	// Claiming again moves alice to e2 and frees e1.
	e, err = store.Claim(ctx, "org-1", "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, "e2", e.ID)

	e1, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, pool.StateAvailable, e1.State)
	assert.Empty(t, e1.AssignedTo)

	held, err := store.AssignedTo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "e2", held.ID)

	prev, err := store.Transition(ctx, "e2", pool.StateRevoked, []pool.State{pool.StateAvailable, pool.StateAssigned}, t0)
	require.NoError(t, err)
	assert.Equal(t, pool.StateAssigned, prev.State)

	held, err = store.AssignedTo(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, held)

	_, err = store.Transition(ctx, "e2", pool.StateAvailable, []pool.State{pool.StateAssigned}, t0)
	var te *pool.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pool.StateRevoked, te.Current)

	_, err = store.Transition(ctx, "missing", pool.StateRevoked, []pool.State{pool.StateAvailable}, t0)
	assert.ErrorIs(t, err, pool.ErrEntryNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "org-1", "e2"), pool.ErrEntryInUse)
	assert.ErrorIs(t, store.Delete(ctx, "org-2", "e1"), pool.ErrEntryNotFound)
	require.NoError(t, store.Delete(ctx, "org-1", "e1"))

	entries, err := store.List(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e2", entries[0].ID)

	// Only a revoked entry remains: the pool is empty.
	e, err = store.Claim(ctx, "org-1", "bob", t0)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPoolStore_ConcurrentClaims(t *testing.T) {
	db := openTestDB(t)
	store := db.Pool()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, newEntry(fmt.Sprintf("e%d", i), "org-1", fmt.Sprintf("cred-%d", i), t0.Add(time.Duration(i)*time.Second))))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			e, err := store.Claim(ctx, "org-1", user, t0)
			assert.NoError(t, err)
			if e == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[e.ID], "entry %s claimed twice", e.ID)
			seen[e.ID] = true
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	assert.Len(t, seen, 5)
}

func newSession(id, account string, created time.Time) *session.Session {
	return &session.Session{
		ID:             id,
		AccountID:      account,
		CreatedAt:      created,
		LastActivityAt: created,
		ExpiresAt:      created.Add(time.Hour),
		ClientIP:       "10.0.0.1",
		UserAgent:      "cli",
	}
}

func TestSessionStore(t *testing.T) {
	db := openTestDB(t)
	store := db.Sessions()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSession("s1", "acct", t0)))
	assert.ErrorIs(t, store.Insert(ctx, newSession("s2", "acct", t0)), session.ErrActiveSessionExists)

	active, err := store.Active(ctx, "acct", t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.ID)
	assert.Equal(t, "cli", active.UserAgent)

	touched, err := store.Touch(ctx, "acct", "s1", t0.Add(30*time.Minute), t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.True(t, touched.ExpiresAt.Equal(t0.Add(90*time.Minute)))

	_, err = store.Touch(ctx, "acct", "nope", t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	prior, err := store.Replace(ctx, newSession("s3", "acct", t0.Add(time.Hour)), t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "s1", prior.ID)
	assert.Equal(t, session.ReasonTakeover, prior.TerminationReason)
	require.NotNil(t, prior.TerminatedAt)

	ended, err := store.Terminate(ctx, "acct", session.ReasonLogout, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "s3", ended.ID)
	assert.Equal(t, session.ReasonLogout, ended.TerminationReason)

	ended, err = store.Terminate(ctx, "acct", session.ReasonLogout, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, ended)

	require.NoError(t, store.Insert(ctx, newSession("s4", "acct", t0.Add(2*time.Hour))))
}

func TestSessionStore_Expiry(t *testing.T) {
	db := openTestDB(t)
	store := db.Sessions()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSession("s1", "a", t0)))
	require.NoError(t, store.Insert(ctx, newSession("s2", "b", t0.Add(30*time.Minute))))

	later := t0.Add(time.Hour)
	active, err := store.Active(ctx, "a", later)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, store.ExpireAccount(ctx, "a", later))
	require.NoError(t, store.Insert(ctx, newSession("s3", "a", later)))

	n, err := store.ExpireAll(ctx, t0.Add(91*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// An expired row is terminated as expired, not taken over.
	prior, err := store.Replace(ctx, newSession("s5", "a", t0.Add(3*time.Hour)), t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "s3", prior.ID)
	assert.Equal(t, session.ReasonExpired, prior.TerminationReason)
}
