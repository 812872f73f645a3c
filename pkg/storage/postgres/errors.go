package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
)

// Constraint and index names from the migrations.
const (
	constraintOrgCredential = "pool_entries_org_credential_key"
	indexAssignedUser       = "idx_pool_assigned_user"
	indexLiveSession        = "idx_sessions_live"
)

// mapPostgresError translates a driver error for operation op. Violations
// of the uniqueness invariants become the domain errors of the pool and
// session packages; everything else is a *storage.Error.
func mapPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case constraintOrgCredential:
			return pool.ErrDuplicateCredential
		case indexAssignedUser:
			return pool.ErrAssignmentConflict
		case indexLiveSession:
			return session.ErrActiveSessionExists
		}
	}

	return storage.NewError(storage.BackendPostgres, op, err)
}

// isRetryable reports whether err is a transient condition such as a
// serialization failure or a lost connection.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.AdminShutdown,
		pgerrcode.TooManyConnections:
		return true
	default:
		return false
	}
}
