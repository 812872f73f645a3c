package memory

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/tollgate/pkg/ledger"
)

// LedgerStore implements ledger.Storage.
type LedgerStore struct {
	mu      sync.RWMutex
	records []*ledger.UsageRecord
	byID    map[string]struct{}
}

// NewLedgerStore creates an empty ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{byID: make(map[string]struct{})}
}

// Append stores rec unless its ID is already present.
func (s *LedgerStore) Append(ctx context.Context, rec *ledger.UsageRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return false, nil
	}
	cp := *rec
	s.records = append(s.records, &cp)
	s.byID[rec.ID] = struct{}{}
	return true, nil
}

// Aggregate sums the records matching q.
func (s *LedgerStore) Aggregate(ctx context.Context, q ledger.Query) (ledger.Rollup, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Rollup{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var r ledger.Rollup
	for _, rec := range s.records {
		if q.Matches(rec) {
			r.Add(rec)
		}
	}
	r.Finalize()
	return r, nil
}

// Records returns the records matching q, newest first.
func (s *LedgerStore) Records(ctx context.Context, q ledger.Query) ([]*ledger.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*ledger.UsageRecord, 0)
	for _, rec := range s.records {
		if q.Matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
