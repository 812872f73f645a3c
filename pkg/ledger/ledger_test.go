package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/storage/memory"
)

var fixedNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, *memory.LedgerStore) {
	t.Helper()
	store := memory.NewLedgerStore()
	return ledger.New(store, ledger.WithClock(func() time.Time { return fixedNow })), store
}

func march() ledger.Window {
	return ledger.MonthWindow(fixedNow, time.UTC, 1)
}

func TestRecord_DerivesDefaults(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	id, err := l.Record(ctx, ledger.UsageRecord{
		UserID:       "alice",
		InputTokens:  30,
		OutputTokens: 12,
		Success:      true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, store.Len())

	records, err := l.History(ctx, ledger.UserScope("alice"), march(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, int64(42), records[0].TotalTokens)
	assert.Equal(t, ledger.SourceProxy, records[0].Source)
	assert.True(t, records[0].Timestamp.Equal(fixedNow))
}

func TestRecord_IsIdempotentOnID(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	rec := ledger.UsageRecord{ID: "rec-1", UserID: "alice", OrganizationID: "org-1", TotalTokens: 100}
	for i := 0; i < 3; i++ {
		id, err := l.Record(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, "rec-1", id)
	}
	assert.Equal(t, 1, store.Len())

	r, err := l.Rollup(ctx, ledger.OrganizationScope("org-1"), march())
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.TotalTokens)
	assert.Equal(t, int64(1), r.RequestCount)
}

func TestRecord_RejectsInvalidInput(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, ledger.UsageRecord{InputTokens: 1})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)

	_, err = l.Record(ctx, ledger.UsageRecord{UserID: "alice", OutputTokens: -1})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

func TestRollup_SumsRecordsInScopeAndWindow(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	records := []ledger.UsageRecord{
		{UserID: "alice", OrganizationID: "org-1", WorkspaceID: "ws-1", Timestamp: fixedNow.Add(-time.Hour), InputTokens: 10, OutputTokens: 5, Success: true},
		{UserID: "bob", OrganizationID: "org-1", WorkspaceID: "ws-2", Timestamp: fixedNow.Add(-2 * time.Hour), InputTokens: 20, OutputTokens: 10, Success: false},
		{UserID: "alice", OrganizationID: "org-1", WorkspaceID: "ws-1", Timestamp: fixedNow.AddDate(0, -1, 0), TotalTokens: 999},
		{UserID: "carol", OrganizationID: "org-2", Timestamp: fixedNow, TotalTokens: 50, Success: true},
	}
	for _, rec := range records {
		_, err := l.Record(ctx, rec)
		require.NoError(t, err)
	}

	org, err := l.Rollup(ctx, ledger.OrganizationScope("org-1"), march())
	require.NoError(t, err)
	assert.Equal(t, int64(30), org.InputTokens)
	assert.Equal(t, int64(15), org.OutputTokens)
	assert.Equal(t, int64(45), org.TotalTokens)
	assert.Equal(t, int64(2), org.RequestCount)
	assert.Equal(t, int64(1), org.SuccessCount)
	assert.InDelta(t, 0.5, org.SuccessRate, 1e-9)

	ws, err := l.Rollup(ctx, ledger.WorkspaceScope("ws-1"), march())
	require.NoError(t, err)
	assert.Equal(t, int64(15), ws.TotalTokens)

	empty, err := l.Rollup(ctx, ledger.UserScope("nobody"), march())
	require.NoError(t, err)
	assert.Zero(t, empty.RequestCount)
	assert.Zero(t, empty.SuccessRate)
}

func TestRollup_WindowIsHalfOpen(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	w := ledger.Window{Start: fixedNow.Add(-time.Hour), End: fixedNow}
	_, err := l.Record(ctx, ledger.UsageRecord{UserID: "alice", Timestamp: w.Start, TotalTokens: 1})
	require.NoError(t, err)
	_, err = l.Record(ctx, ledger.UsageRecord{UserID: "alice", Timestamp: w.End, TotalTokens: 10})
	require.NoError(t, err)

	r, err := l.Rollup(ctx, ledger.UserScope("alice"), w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.TotalTokens)
}

func TestRollup_RejectsInvalidQuery(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Rollup(ctx, ledger.Scope{Kind: "team", ID: "x"}, march())
	assert.ErrorIs(t, err, ledger.ErrInvalidQuery)

	_, err = l.Rollup(ctx, ledger.UserScope("alice"), ledger.Window{Start: fixedNow, End: fixedNow})
	assert.ErrorIs(t, err, ledger.ErrInvalidQuery)
}

func TestRecord_ConcurrentAppendsAreAllCounted(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, ledger.UsageRecord{UserID: "alice", TotalTokens: 2})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, err := l.Rollup(ctx, ledger.UserScope("alice"), march())
	require.NoError(t, err)
	assert.Equal(t, int64(2*n), r.TotalTokens)
	assert.Equal(t, int64(n), r.RequestCount)
}

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Record(ctx, ledger.UsageRecord{
			UserID:      "alice",
			Timestamp:   fixedNow.Add(-time.Duration(i) * time.Minute),
			TotalTokens: int64(i + 1),
		})
		require.NoError(t, err)
	}

	records, err := l.History(ctx, ledger.UserScope("alice"), march(), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(1), records[0].TotalTokens)
	assert.Equal(t, int64(2), records[1].TotalTokens)
	assert.Equal(t, int64(3), records[2].TotalTokens)

	_, err = l.History(ctx, ledger.UserScope("alice"), march(), -1)
	assert.ErrorIs(t, err, ledger.ErrInvalidQuery)
}

func TestBuckets_DenseHourlySlices(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	_, err := l.Record(ctx, ledger.UsageRecord{UserID: "alice", Timestamp: start.Add(10 * time.Minute), TotalTokens: 5})
	require.NoError(t, err)
	_, err = l.Record(ctx, ledger.UsageRecord{UserID: "alice", Timestamp: start.Add(2*time.Hour + time.Minute), TotalTokens: 7})
	require.NoError(t, err)

	buckets, err := l.Buckets(ctx, ledger.UserScope("alice"), ledger.Window{Start: start, End: start.Add(4 * time.Hour)}, ledger.GranularityHour)
	require.NoError(t, err)
	require.Len(t, buckets, 4)
	assert.Equal(t, int64(5), buckets[0].TotalTokens)
	assert.Zero(t, buckets[1].TotalTokens)
	assert.Equal(t, int64(7), buckets[2].TotalTokens)
	assert.Zero(t, buckets[3].RequestCount)

	_, err = l.Buckets(ctx, ledger.UserScope("alice"), march(), ledger.Granularity("week"))
	assert.ErrorIs(t, err, ledger.ErrInvalidQuery)
}

func TestBuckets_DailyInReferenceTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	store := memory.NewLedgerStore()
	l := ledger.New(store, ledger.WithLocation(tokyo))
	ctx := context.Background()

	// 2025-03-09 23:30 UTC is 2025-03-10 08:30 in Tokyo.
	_, err := l.Record(ctx, ledger.UsageRecord{UserID: "alice", Timestamp: time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC), TotalTokens: 3})
	require.NoError(t, err)

	w := ledger.Window{
		Start: time.Date(2025, 3, 9, 0, 0, 0, 0, tokyo),
		End:   time.Date(2025, 3, 11, 0, 0, 0, 0, tokyo),
	}
	buckets, err := l.Buckets(ctx, ledger.UserScope("alice"), w, ledger.GranularityDay)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Zero(t, buckets[0].TotalTokens)
	assert.Equal(t, int64(3), buckets[1].TotalTokens)
}
