package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxBuckets bounds the size of a bucketed rollup response.
const maxBuckets = 24 * 93

var (
	// ErrInvalidRecord is returned when a usage record fails validation.
	ErrInvalidRecord = errors.New("invalid usage record")

	// ErrInvalidQuery is returned when a scope, window or granularity is malformed.
	ErrInvalidQuery = errors.New("invalid usage query")
)

// Ledger appends usage records and computes rollups from them.
type Ledger struct {
	storage  Storage
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the reference timezone for bucket boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Ledger on top of storage.
func New(storage Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  storage,
		location: time.UTC,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Location returns the reference timezone.
func (l *Ledger) Location() *time.Location {
	return l.location
}

// Now returns the current time of the ledger's clock.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Record appends a usage record and returns its ID.
//
// When rec.ID is empty a new ID is assigned; when it is set and already
// present in storage the call succeeds without counting the usage again.
// A zero Timestamp is stamped from the ledger clock, and a zero TotalTokens
// is derived from the input and output counts.
//
// Record never fails silently: a storage failure is returned to the caller.
func (l *Ledger) Record(ctx context.Context, rec UsageRecord) (string, error) {
	if rec.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	if rec.InputTokens < 0 || rec.OutputTokens < 0 || rec.TotalTokens < 0 {
		return "", fmt.Errorf("%w: token counts must not be negative", ErrInvalidRecord)
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Source == "" {
		rec.Source = SourceProxy
	}

	inserted, err := l.storage.Append(ctx, &rec)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to append usage record",
			"record_id", rec.ID,
			"user_id", rec.UserID,
			"error", err,
		)
		return "", fmt.Errorf("append usage record %s: %w", rec.ID, err)
	}

	if !inserted {
		l.logger.DebugContext(ctx, "usage record already present", "record_id", rec.ID)
		return rec.ID, nil
	}

	l.logger.DebugContext(ctx, "usage recorded",
		"record_id", rec.ID,
		"user_id", rec.UserID,
		"organization_id", rec.OrganizationID,
		"workspace_id", rec.WorkspaceID,
		"total_tokens", rec.TotalTokens,
		"success", rec.Success,
	)
	return rec.ID, nil
}

// Rollup aggregates the records of scope inside window.
func (l *Ledger) Rollup(ctx context.Context, scope Scope, window Window) (Rollup, error) {
	if err := validate(scope, window); err != nil {
		return Rollup{}, err
	}

	r, err := l.storage.Aggregate(ctx, Query{Scope: scope, Window: window})
	if err != nil {
		return Rollup{}, fmt.Errorf("rollup %s: %w", scope, err)
	}
	r.Finalize()
	return r, nil
}

// History returns the most recent records of scope inside window, newest
// first. A limit of zero returns every matching record.
func (l *Ledger) History(ctx context.Context, scope Scope, window Window, limit int) ([]*UsageRecord, error) {
	if err := validate(scope, window); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidQuery)
	}

	records, err := l.storage.Records(ctx, Query{Scope: scope, Window: window, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", scope, err)
	}
	return records, nil
}

// Buckets splits window into hourly or daily slices in the reference
// timezone and returns one rollup per slice, including empty ones. The first
// bucket starts at the slice containing window.Start.
func (l *Ledger) Buckets(ctx context.Context, scope Scope, window Window, g Granularity) ([]Bucket, error) {
	if err := validate(scope, window); err != nil {
		return nil, err
	}
	if g != GranularityHour && g != GranularityDay {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrInvalidQuery, g)
	}

	var buckets []Bucket
	index := make(map[int64]int)
	for start := truncate(window.Start, g, l.location); start.Before(window.End); start = next(start, g) {
		if len(buckets) == maxBuckets {
			return nil, fmt.Errorf("%w: window spans more than %d buckets", ErrInvalidQuery, maxBuckets)
		}
		index[start.Unix()] = len(buckets)
		buckets = append(buckets, Bucket{Start: start})
	}

	records, err := l.storage.Records(ctx, Query{Scope: scope, Window: window})
	if err != nil {
		return nil, fmt.Errorf("buckets %s: %w", scope, err)
	}

	for _, rec := range records {
		i, ok := index[truncate(rec.Timestamp, g, l.location).Unix()]
		if !ok {
			continue
		}
		buckets[i].Add(rec)
	}
	for i := range buckets {
		buckets[i].Finalize()
	}
	return buckets, nil
}

func validate(scope Scope, window Window) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := window.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}
