package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mercator-hq/tollgate/pkg/storage"
)

// maxTxAttempts bounds retries of a transaction aborted by a serialization
// failure or deadlock.
const maxTxAttempts = 3

// Store holds the usage ledger, the credential pools and the sessions in a
// PostgreSQL database. It is safe to share between replicas.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to PostgreSQL and, when cfg.AutoMigrate is set, applies
// pending migrations.
func Open(ctx context.Context, cfg *PoolConfig) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, storage.NewError(storage.BackendPostgres, "connect", err)
	}

	s := New(pool)
	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool, s.logger); err != nil {
			pool.Close()
			return nil, storage.NewError(storage.BackendPostgres, "migrate", err)
		}
	}

	s.logger.Info("postgres storage initialized",
		"max_conns", cfg.MaxConns,
		"auto_migrate", cfg.AutoMigrate,
	)
	return s, nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: slog.Default().With("component", "storage.postgres"),
	}
}

// Ledger returns the usage record store.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{store: s} }

// Pool returns the credential pool store.
func (s *Store) Pool() *PoolStore { return &PoolStore{store: s} }

// Sessions returns the session store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{store: s} }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storage.NewError(storage.BackendPostgres, "ping", err)
	}
	return nil
}

// Close closes every connection in the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn in a read-committed transaction and commits when fn
// returns nil. Serialization failures and deadlocks restart fn. Errors from
// fn are returned as is; fn maps driver errors itself.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, op, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.WarnContext(ctx, "transaction aborted, retrying",
			"operation", op,
			"attempt", attempt,
			"error", err,
		)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPostgresError(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(op, err)
	}
	return nil
}
