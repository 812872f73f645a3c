package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T) (*session.Manager, *memory.SessionStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.NewSessionStore()
	m := session.NewManager(store, session.Config{TTL: time.Hour, Now: clock.Now})
	return m, store, clock
}

var laptop = session.ClientMeta{IP: "10.0.0.1", UserAgent: "laptop"}

func TestCreateSession_ConflictCarriesPriorSession(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", first.ClientIP)

	_, err = m.CreateSession(ctx, "acct-1", session.ClientMeta{IP: "10.0.0.2"})
	require.ErrorIs(t, err, session.ErrSessionConflict)

	var conflict *session.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Prior)
	assert.Equal(t, first.ID, conflict.Prior.ID)
	assert.Equal(t, "laptop", conflict.Prior.UserAgent)

	active, err := m.HasActiveSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, active)

	// Other accounts are independent.
	_, err = m.CreateSession(ctx, "acct-2", laptop)
	assert.NoError(t, err)
}

func TestForceCreateSession_TakesOver(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)

	second, prior, err := m.ForceCreateSession(ctx, "acct-1", session.ClientMeta{IP: "10.0.0.2"})
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, first.ID, prior.ID)
	assert.Equal(t, session.ReasonTakeover, prior.TerminationReason)
	assert.NotEqual(t, first.ID, second.ID)

	current, err := m.Active(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	history := store.History("acct-1")
	require.Len(t, history, 1)
	assert.Equal(t, first.ID, history[0].ID)

	_, err = m.Validate(ctx, "acct-1", first.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestForceCreateSession_WithoutPriorSession(t *testing.T) {
	m, _, clock := newManager(t)
	ctx := context.Background()

	s, prior, err := m.ForceCreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)
	assert.Nil(t, prior)
	require.NotNil(t, s)

	// An expired session is not reported as taken over.
	clock.Advance(2 * time.Hour)
	_, prior, err = m.ForceCreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestClearSession(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.ClearSession(ctx, "acct-1"))

	s, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)
	require.NoError(t, m.ClearSession(ctx, "acct-1"))

	active, err := m.HasActiveSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, active)

	history := store.History("acct-1")
	require.Len(t, history, 1)
	assert.Equal(t, s.ID, history[0].ID)
	assert.Equal(t, session.ReasonLogout, history[0].TerminationReason)

	_, err = m.CreateSession(ctx, "acct-1", laptop)
	assert.NoError(t, err)
}

func TestExpiredSessionDoesNotBlockCreate(t *testing.T) {
	m, store, clock := newManager(t)
	ctx := context.Background()

	old, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	active, err := m.HasActiveSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)

	history := store.History("acct-1")
	require.Len(t, history, 1)
	assert.Equal(t, old.ID, history[0].ID)
	assert.Equal(t, session.ReasonExpired, history[0].TerminationReason)
}

func TestValidate_SlidesExpiry(t *testing.T) {
	m, _, clock := newManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	touched, err := m.Validate(ctx, "acct-1", s.ID)
	require.NoError(t, err)
	assert.True(t, touched.ExpiresAt.Equal(clock.Now().Add(time.Hour)))

	clock.Advance(45 * time.Minute)
	_, err = m.Validate(ctx, "acct-1", s.ID)
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	_, err = m.Validate(ctx, "acct-1", s.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSweepExpired(t *testing.T) {
	m, _, clock := newManager(t)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "acct-1", laptop)
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	_, err = m.CreateSession(ctx, "acct-2", laptop)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := m.HasActiveSession(ctx, "acct-2")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCreateSession_ConcurrentCallsOneWinner(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	const callers = 20
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateSession(ctx, "acct-1", laptop)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, session.ErrSessionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
}

func TestForceCreateSession_ConcurrentTakeoversLeaveOneActive(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.ForceCreateSession(ctx, "acct-1", laptop)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := m.Active(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Len(t, store.History("acct-1"), callers-1)
}

func TestSweeper_RejectsInvalidSchedule(t *testing.T) {
	m, _, _ := newManager(t)
	sw := session.NewSweeper(m, "every five minutes")
	assert.Error(t, sw.Start(context.Background()))
	assert.False(t, sw.IsRunning())
}

func TestSweeper_StartStop(t *testing.T) {
	m, _, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := session.NewSweeper(m, "*/5 * * * *")
	require.NoError(t, sw.Start(ctx))
	assert.True(t, sw.IsRunning())
	require.NotNil(t, sw.NextRun())

	sw.Stop()
	assert.False(t, sw.IsRunning())

	disabled := session.NewSweeper(m, "")
	require.NoError(t, disabled.Start(ctx))
	assert.False(t, disabled.IsRunning())
}
