package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/pool"
)

// PoolStore implements pool.Storage on SQLite.
type PoolStore struct {
	db *DB
}

const entryColumns = `id, organization_id, credential_id, secret, display_name, state,
	assigned_to, version, created_at, updated_at`

// Insert stores a new entry.
func (s *PoolStore) Insert(ctx context.Context, e *pool.Entry) error {
	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO pool_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		e.ID, e.OrganizationID, e.CredentialID, e.Secret, e.DisplayName, string(e.State),
		nullString(e.AssignedTo), e.Version, nanos(e.CreatedAt), nanos(e.UpdatedAt),
	)
	if err != nil {
		return wrap("insert_entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("insert_entry", err)
	}
	if n == 0 {
		return pool.ErrDuplicateCredential
	}
	return nil
}

// Get returns an entry.
func (s *PoolStore) Get(ctx context.Context, id string) (*pool.Entry, error) {
	e, err := scanEntry(s.db.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM pool_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pool.ErrEntryNotFound
	}
	if err != nil {
		return nil, wrap("get_entry", err)
	}
	return e, nil
}

// List returns the entries of orgID, oldest first.
func (s *PoolStore) List(ctx context.Context, orgID string) ([]*pool.Entry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM pool_entries
		WHERE organization_id = ?
		ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, wrap("list_entries", err)
	}
	defer rows.Close()

	out := make([]*pool.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("list_entries", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_entries", err)
	}
	return out, nil
}

// Claim assigns the oldest available entry of orgID to userID in one
// transaction, releasing the user's previous entry.
func (s *PoolStore) Claim(ctx context.Context, orgID, userID string, now time.Time) (*pool.Entry, error) {
	var claimed *pool.Entry
	err := s.db.withTx(ctx, "claim", func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM pool_entries
			WHERE organization_id = ? AND state = 'available'
			ORDER BY created_at, id
			LIMIT 1`, orgID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return wrap("claim", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pool_entries
			SET state = 'available', assigned_to = NULL, version = version + 1, updated_at = ?
			WHERE state = 'assigned' AND assigned_to = ?`,
			nanos(now), userID); err != nil {
			return wrap("claim_release_previous", err)
		}

		e, err := scanEntry(tx.QueryRowContext(ctx, `
			UPDATE pool_entries
			SET state = 'assigned', assigned_to = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND state = 'available'
			RETURNING `+entryColumns,
			userID, nanos(now), id))
		if errors.Is(err, sql.ErrNoRows) {
			return pool.ErrAssignmentConflict
		}
		if err != nil {
			return wrap("claim", err)
		}
		claimed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Transition moves an entry to `to` when its state is one of `from`, using
// the version read in the same transaction as the write condition.
func (s *PoolStore) Transition(ctx context.Context, id string, to pool.State, from []pool.State, now time.Time) (*pool.Entry, error) {
	var prev *pool.Entry
	err := s.db.withTx(ctx, "transition", func(tx *sql.Tx) error {
		e, err := scanEntry(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM pool_entries WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return pool.ErrEntryNotFound
		}
		if err != nil {
			return wrap("transition", err)
		}
		if !slices.Contains(from, e.State) {
			return &pool.TransitionError{EntryID: id, Current: e.State, Target: to}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE pool_entries
			SET state = ?, assigned_to = NULL, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(to), nanos(now), id, e.Version)
		if err != nil {
			return wrap("transition", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return pool.ErrAssignmentConflict
		}
		prev = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Delete removes an available entry of orgID.
func (s *PoolStore) Delete(ctx context.Context, orgID, id string) error {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM pool_entries
		WHERE id = ? AND organization_id = ? AND state = 'available'`, id, orgID)
	if err != nil {
		return wrap("delete_entry", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var state string
	err = s.db.db.QueryRowContext(ctx,
		`SELECT state FROM pool_entries WHERE id = ? AND organization_id = ?`, id, orgID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.ErrEntryNotFound
	}
	if err != nil {
		return wrap("delete_entry", err)
	}
	return pool.ErrEntryInUse
}

// AssignedTo returns the entry bound to userID, or nil.
func (s *PoolStore) AssignedTo(ctx context.Context, userID string) (*pool.Entry, error) {
	e, err := scanEntry(s.db.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM pool_entries
		WHERE state = 'assigned' AND assigned_to = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("assigned_to", err)
	}
	return e, nil
}

func scanEntry(row scanner) (*pool.Entry, error) {
	var (
		e          pool.Entry
		state      string
		assignedTo sql.NullString
		created    int64
		updated    int64
	)
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.CredentialID, &e.Secret, &e.DisplayName, &state,
		&assignedTo, &e.Version, &created, &updated); err != nil {
		return nil, err
	}
	e.State = pool.State(strings.TrimSpace(state))
	e.AssignedTo = assignedTo.String
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
