package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mercator-hq/tollgate/pkg/session"
)

// SessionStore implements session.Storage on PostgreSQL. The partial unique
// index idx_sessions_live enforces one non-terminated session per account.
type SessionStore struct {
	store *Store
}

const sessionColumns = `id, account_id, created_at, last_activity_at, expires_at,
	client_ip, user_agent, terminated_at, termination_reason`

const insertSession = `
	INSERT INTO sessions (id, account_id, created_at, last_activity_at, expires_at, client_ip, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (account_id) WHERE terminated_at IS NULL DO NOTHING`

// Active returns the account's live session, or nil.
func (s *SessionStore) Active(ctx context.Context, accountID string, now time.Time) (*session.Session, error) {
	sess, err := scanSession(s.store.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND terminated_at IS NULL AND expires_at > $2`,
		accountID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPostgresError("active_session", err)
	}
	return sess, nil
}

// Insert stores sess unless the account already has a non-terminated
// session.
func (s *SessionStore) Insert(ctx context.Context, sess *session.Session) error {
	tag, err := s.store.pool.Exec(ctx, insertSession, insertArgs(sess)...)
	if err != nil {
		return mapPostgresError("insert_session", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrActiveSessionExists
	}
	return nil
}

// Replace terminates the account's session and inserts sess in one
// transaction.
func (s *SessionStore) Replace(ctx context.Context, sess *session.Session, now time.Time) (*session.Session, error) {
	var prior *session.Session
	err := s.store.withTx(ctx, "replace_session", func(tx pgx.Tx) error {
		prior = nil

		p, err := scanSession(tx.QueryRow(ctx, `
			UPDATE sessions
			SET terminated_at = $1,
			    termination_reason = CASE WHEN expires_at > $1 THEN 'takeover' ELSE 'expired' END
			WHERE account_id = $2 AND terminated_at IS NULL
			RETURNING `+sessionColumns,
			now, sess.AccountID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return mapPostgresError("replace_session", err)
		default:
			prior = p
		}

		tag, err := tx.Exec(ctx, insertSession, insertArgs(sess)...)
		if err != nil {
			return mapPostgresError("replace_session", err)
		}
		if tag.RowsAffected() == 0 {
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
	sess, err := scanSession(s.store.pool.QueryRow(ctx, `
		UPDATE sessions
		SET terminated_at = $1, termination_reason = $2
		WHERE account_id = $3 AND terminated_at IS NULL
		RETURNING `+sessionColumns,
		now, string(reason), accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPostgresError("terminate_session", err)
	}
	return sess, nil
}

// ExpireAccount terminates the account's session if it has expired.
func (s *SessionStore) ExpireAccount(ctx context.Context, accountID string, now time.Time) error {
	_, err := s.store.pool.Exec(ctx, `
		UPDATE sessions
		SET terminated_at = $1, termination_reason = 'expired'
		WHERE account_id = $2 AND terminated_at IS NULL AND expires_at <= $1`,
		now, accountID)
	return mapPostgresError("expire_account", err)
}

// ExpireAll terminates every expired session.
func (s *SessionStore) ExpireAll(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.store.pool.Exec(ctx, `
		UPDATE sessions
		SET terminated_at = $1, termination_reason = 'expired'
		WHERE terminated_at IS NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, mapPostgresError("expire_all", err)
	}
	return int(tag.RowsAffected()), nil
}

// Touch slides the expiry of the account's live session sessionID.
func (s *SessionStore) Touch(ctx context.Context, accountID, sessionID string, now, expiresAt time.Time) (*session.Session, error) {
	sess, err := scanSession(s.store.pool.QueryRow(ctx, `
		UPDATE sessions
		SET last_activity_at = $1, expires_at = $2
		WHERE id = $3 AND account_id = $4 AND terminated_at IS NULL AND expires_at > $1
		RETURNING `+sessionColumns,
		now, expiresAt, sessionID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, mapPostgresError("touch_session", err)
	}
	return sess, nil
}

func insertArgs(sess *session.Session) []any {
	return []any{sess.ID, sess.AccountID, sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt, sess.ClientIP, sess.UserAgent}
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		sess   session.Session
		reason *string
	)
	if err := row.Scan(&sess.ID, &sess.AccountID, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt,
		&sess.ClientIP, &sess.UserAgent, &sess.TerminatedAt, &reason); err != nil {
		return nil, err
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	if sess.TerminatedAt != nil {
		t := sess.TerminatedAt.UTC()
		sess.TerminatedAt = &t
	}
	if reason != nil {
		sess.TerminationReason = session.TerminationReason(*reason)
	}
	return &sess, nil
}
