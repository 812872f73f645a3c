package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"

	"mercator-hq/tollgate/pkg/storage"
)

// Driver names accepted in Config.Driver.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver.
	// Default: "sqlite" (pure Go)
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// DB is a SQLite database holding the usage ledger, the credential pools
// and the sessions. SQLite allows a single writer, so the pool is limited
// to one connection and every transaction is serialized.
type DB struct {
	db        *sql.DB
	cfg       Config
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	var dsn string
	switch cfg.Driver {
	case DriverModernc:
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.Path, cfg.BusyTimeout.Milliseconds())
	case DriverCGO:
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
			cfg.Path, cfg.BusyTimeout.Milliseconds())
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, storage.NewError(storage.BackendSQLite, "open", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := newDB(db, cfg)
	if err := d.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	go d.checkpointLoop()

	d.logger.Info("sqlite storage initialized",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"schema_version", SchemaVersion,
	)
	return d, nil
}

func newDB(db *sql.DB, cfg Config) *DB {
	return &DB{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "storage.sqlite"),
		done:   make(chan struct{}),
	}
}

func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return storage.NewError(storage.BackendSQLite, "create_schema", err)
	}
	if _, err := d.db.ExecContext(ctx, insertSchemaVersion, SchemaVersion, time.Now().UnixNano()); err != nil {
		return storage.NewError(storage.BackendSQLite, "insert_schema_version", err)
	}

	var version int
	if err := d.db.QueryRowContext(ctx, getSchemaVersion).Scan(&version); err != nil {
		return storage.NewError(storage.BackendSQLite, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return storage.NewError(storage.BackendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Ledger returns the usage record store.
func (d *DB) Ledger() *LedgerStore { return &LedgerStore{db: d} }

// Pool returns the credential pool store.
func (d *DB) Pool() *PoolStore { return &PoolStore{db: d} }

// Sessions returns the session store.
func (d *DB) Sessions() *SessionStore { return &SessionStore{db: d} }

// Ping verifies the database is reachable. It backs the readiness check.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return storage.NewError(storage.BackendSQLite, "ping", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. It is idempotent.
func (d *DB) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		close(d.done)
		_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = d.db.Close()
	})
	return closeErr
}

func (d *DB) checkpointLoop() {
	ticker := time.NewTicker(d.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := d.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				d.logger.Warn("wal checkpoint failed", "error", err)
			}
		case <-d.done:
			return
		}
	}
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (d *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.NewError(storage.BackendSQLite, op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage.NewError(storage.BackendSQLite, op, err)
	}
	return nil
}

func wrap(op string, err error) error {
	return storage.NewError(storage.BackendSQLite, op, err)
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type scanner interface {
	Scan(dest ...any) error
}
