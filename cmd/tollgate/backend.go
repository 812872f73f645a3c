package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
	"mercator-hq/tollgate/pkg/storage/memory"
	"mercator-hq/tollgate/pkg/storage/postgres"
	"mercator-hq/tollgate/pkg/storage/redisstore"
	"mercator-hq/tollgate/pkg/storage/sqlite"
	"mercator-hq/tollgate/pkg/telemetry/health"
)

// backend holds the opened stores for the configured storage and session
// backends.
type backend struct {
	name     string
	ledger   ledger.Storage
	pool     pool.Storage
	sessions session.Storage

	// pingers are registered as critical readiness checks.
	pingers map[string]health.Pinger
	closers []func() error
}

// openBackend opens cfg.Storage and, when configured, the Redis session
// store.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{
		name:    cfg.Storage.Backend,
		pingers: make(map[string]health.Pinger),
	}

	switch cfg.Storage.Backend {
	case storage.BackendMemory:
		b.ledger = memory.NewLedgerStore()
		b.pool = memory.NewPoolStore()
		b.sessions = memory.NewSessionStore()

	case storage.BackendSQLite:
		db, err := sqlite.Open(sqlite.Config{
			Path:               cfg.Storage.SQLite.Path,
			Driver:             cfg.Storage.SQLite.Driver,
			BusyTimeout:        cfg.Storage.SQLite.BusyTimeout,
			CheckpointInterval: cfg.Storage.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		b.ledger, b.pool, b.sessions = db.Ledger(), db.Pool(), db.Sessions()
		b.pingers[storage.BackendSQLite] = db
		b.closers = append(b.closers, db.Close)

	case storage.BackendPostgres:
		pg := cfg.Storage.Postgres
		store, err := postgres.Open(ctx, &postgres.PoolConfig{
			ConnString:      pg.URL,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
			MaxConnIdleTime: pg.MaxConnIdleTime,
			ConnectTimeout:  pg.ConnectTimeout,
			AutoMigrate:     config.Enabled(pg.AutoMigrate, true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		b.ledger, b.pool, b.sessions = store.Ledger(), store.Pool(), store.Sessions()
		b.pingers[storage.BackendPostgres] = store
		b.closers = append(b.closers, store.Close)

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Sessions.Backend == storage.BackendRedis {
		r := cfg.Sessions.Redis
		store, err := redisstore.Open(ctx, redisstore.Config{
			URL:          r.URL,
			KeyPrefix:    r.KeyPrefix,
			Linger:       r.Linger,
			HistoryLimit: r.HistoryLimit,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open redis session store: %w", err)
		}
		b.sessions = store
		b.pingers[storage.BackendRedis] = store
		b.closers = append(b.closers, store.Close)
	}

	logger.Info("storage opened",
		"component", "storage",
		"backend", cfg.Storage.Backend,
		"sessions", cfg.Sessions.Backend,
	)
	return b, nil
}

// Close closes every store in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// services are the domain components shared by run and the admin commands.
type services struct {
	location *time.Location
	ledger   *ledger.Ledger
	pool     *pool.Allocator
	sessions *session.Manager
}

// observer receives pool and session events; *metrics.Collector satisfies
// it. A nil observer is allowed.
type observer interface {
	pool.Observer
	session.Observer
}

func newServices(cfg *config.Config, b *backend, obs observer, logger *slog.Logger) (*services, error) {
	loc, err := time.LoadLocation(cfg.Budget.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid budget timezone: %w", err)
	}

	poolOpts := []pool.Option{pool.WithLogger(logger)}
	sessionCfg := session.Config{TTL: cfg.Sessions.TTL, Logger: logger}
	if obs != nil {
		poolOpts = append(poolOpts, pool.WithObserver(obs))
		sessionCfg.Observer = obs
	}

	return &services{
		location: loc,
		ledger:   ledger.New(b.ledger, ledger.WithLocation(loc), ledger.WithLogger(logger)),
		pool:     pool.NewAllocator(b.pool, poolOpts...),
		sessions: session.NewManager(b.sessions, sessionCfg),
	}, nil
}

// evaluator builds the budget evaluator over the ledger and dir.
func (s *services) evaluator(cfg *config.Config, dir directory.Directory, logger *slog.Logger) *budget.Evaluator {
	threshold := config.DefaultBudgetAlertThreshold
	if cfg.Budget.AlertThreshold != nil {
		threshold = *cfg.Budget.AlertThreshold
	}
	return budget.NewEvaluator(s.ledger, dir, budget.Config{
		Location:       s.location,
		AlertThreshold: threshold,
		Logger:         logger,
	})
}
