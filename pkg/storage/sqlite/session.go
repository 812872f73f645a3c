package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mercator-hq/tollgate/pkg/session"
)

// SessionStore implements session.Storage on SQLite. The partial unique
// index idx_sessions_live enforces one non-terminated session per account.
type SessionStore struct {
	db *DB
}

const sessionColumns = `id, account_id, created_at, last_activity_at, expires_at,
	client_ip, user_agent, terminated_at, termination_reason`

const insertSession = `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	ON CONFLICT DO NOTHING`

// Active returns the account's live session, or nil.
func (s *SessionStore) Active(ctx context.Context, accountID string, now time.Time) (*session.Session, error) {
	sess, err := scanSession(s.db.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = ? AND terminated_at IS NULL AND expires_at > ?`,
		accountID, nanos(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("active_session", err)
	}
	return sess, nil
}

// Insert stores sess unless the account already has a non-terminated
// session.
func (s *SessionStore) Insert(ctx context.Context, sess *session.Session) error {
	n, err := execInsertSession(ctx, s.db.db, sess)
	if err != nil {
		return wrap("insert_session", err)
	}
	if n == 0 {
		return session.ErrActiveSessionExists
	}
	return nil
}

// Replace terminates the account's session and inserts sess in one
// transaction.
func (s *SessionStore) Replace(ctx context.Context, sess *session.Session, now time.Time) (*session.Session, error) {
	var prior *session.Session
	err := s.db.withTx(ctx, "replace_session", func(tx *sql.Tx) error {
		p, err := scanSession(tx.QueryRowContext(ctx, `
			UPDATE sessions
			SET terminated_at = ?,
			    termination_reason = CASE WHEN expires_at > ? THEN 'takeover' ELSE 'expired' END
			WHERE account_id = ? AND terminated_at IS NULL
			RETURNING `+sessionColumns,
			nanos(now), nanos(now), sess.AccountID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return wrap("replace_session", err)
		default:
			prior = p
		}

		n, err := execInsertSession(ctx, tx, sess)
		if err != nil {
			return wrap("replace_session", err)
		}
		if n == 0 {
			return session.ErrActiveSessionExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// Terminate ends the account's session with reason.
func (s *SessionStore) Terminate(ctx context.Context, accountID string, reason session.TerminationReason, now time.Time) (*session.Session, error) {
	sess, err := scanSession(s.db.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET terminated_at = ?, termination_reason = ?
		WHERE account_id = ? AND terminated_at IS NULL
		RETURNING `+sessionColumns,
		nanos(now), string(reason), accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("terminate_session", err)
	}
	return sess, nil
}

// ExpireAccount terminates the account's session if it has expired.
func (s *SessionStore) ExpireAccount(ctx context.Context, accountID string, now time.Time) error {
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE sessions
		SET terminated_at = ?, termination_reason = 'expired'
		WHERE account_id = ? AND terminated_at IS NULL AND expires_at <= ?`,
		nanos(now), accountID, nanos(now))
	if err != nil {
		return wrap("expire_account", err)
	}
	return nil
}

// ExpireAll terminates every expired session.
func (s *SessionStore) ExpireAll(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE sessions
		SET terminated_at = ?, termination_reason = 'expired'
		WHERE terminated_at IS NULL AND expires_at <= ?`,
		nanos(now), nanos(now))
	if err != nil {
		return 0, wrap("expire_all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("expire_all", err)
	}
	return int(n), nil
}

// Touch slides the expiry of the account's live session sessionID.
func (s *SessionStore) Touch(ctx context.Context, accountID, sessionID string, now, expiresAt time.Time) (*session.Session, error) {
	sess, err := scanSession(s.db.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET last_activity_at = ?, expires_at = ?
		WHERE id = ? AND account_id = ? AND terminated_at IS NULL AND expires_at > ?
		RETURNING `+sessionColumns,
		nanos(now), nanos(expiresAt), sessionID, accountID, nanos(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, wrap("touch_session", err)
	}
	return sess, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execInsertSession(ctx context.Context, db execer, sess *session.Session) (int64, error) {
	res, err := db.ExecContext(ctx, insertSession,
		sess.ID, sess.AccountID, nanos(sess.CreatedAt), nanos(sess.LastActivityAt), nanos(sess.ExpiresAt),
		sess.ClientIP, sess.UserAgent)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess       session.Session
		created    int64
		activity   int64
		expires    int64
		terminated sql.NullInt64
		reason     sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.AccountID, &created, &activity, &expires,
		&sess.ClientIP, &sess.UserAgent, &terminated, &reason); err != nil {
		return nil, err
	}
	sess.CreatedAt = fromNanos(created)
	sess.LastActivityAt = fromNanos(activity)
	sess.ExpiresAt = fromNanos(expires)
	if terminated.Valid {
		t := fromNanos(terminated.Int64)
		sess.TerminatedAt = &t
		sess.TerminationReason = session.TerminationReason(reason.String)
	}
	return &sess, nil
}
