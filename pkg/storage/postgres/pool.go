package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mercator-hq/tollgate/pkg/pool"
)

// PoolStore implements pool.Storage on PostgreSQL.
type PoolStore struct {
	store *Store
}

const entryColumns = `id, organization_id, credential_id, secret, display_name, state,
	assigned_to, version, created_at, updated_at`

// Insert stores a new entry.
func (s *PoolStore) Insert(ctx context.Context, e *pool.Entry) error {
	var assignedTo *string
	if e.AssignedTo != "" {
		assignedTo = &e.AssignedTo
	}
	_, err := s.store.pool.Exec(ctx, `
		INSERT INTO pool_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OrganizationID, e.CredentialID, e.Secret, e.DisplayName, string(e.State),
		assignedTo, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	return mapPostgresError("insert_entry", err)
}

// Get returns an entry.
func (s *PoolStore) Get(ctx context.Context, id string) (*pool.Entry, error) {
	e, err := scanEntry(s.store.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM pool_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pool.ErrEntryNotFound
	}
	if err != nil {
		return nil, mapPostgresError("get_entry", err)
	}
	return e, nil
}

// List returns the entries of orgID, oldest first.
func (s *PoolStore) List(ctx context.Context, orgID string) ([]*pool.Entry, error) {
	rows, err := s.store.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM pool_entries
		WHERE organization_id = $1
		ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, mapPostgresError("list_entries", err)
	}
	defer rows.Close()

	out := make([]*pool.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapPostgresError("list_entries", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError("list_entries", err)
	}
	return out, nil
}

// Claim locks the oldest available entry of orgID with SKIP LOCKED, so
// concurrent claims on other replicas move on to the next entry instead of
// waiting, then releases the user's previous entry and assigns the locked
// one in the same transaction.
func (s *PoolStore) Claim(ctx context.Context, orgID, userID string, now time.Time) (*pool.Entry, error) {
	var claimed *pool.Entry
	err := s.store.withTx(ctx, "claim", func(tx pgx.Tx) error {
		claimed = nil

		var id string
		err := tx.QueryRow(ctx, `
			SELECT id FROM pool_entries
			WHERE organization_id = $1 AND state = 'available'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, orgID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return mapPostgresError("claim", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE pool_entries
			SET state = 'available', assigned_to = NULL, version = version + 1, updated_at = $2
			WHERE state = 'assigned' AND assigned_to = $1`,
			userID, now); err != nil {
			return mapPostgresError("claim_release_previous", err)
		}

		e, err := scanEntry(tx.QueryRow(ctx, `
			UPDATE pool_entries
			SET state = 'assigned', assigned_to = $1, version = version + 1, updated_at = $2
			WHERE id = $3
			RETURNING `+entryColumns,
			userID, now, id))
		if err != nil {
			return mapPostgresError("claim", err)
		}
		claimed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Transition moves an entry to `to` when its state is one of `from`. The
// row is locked for the duration of the check.
func (s *PoolStore) Transition(ctx context.Context, id string, to pool.State, from []pool.State, now time.Time) (*pool.Entry, error) {
	fromNames := make([]string, len(from))
	for i, st := range from {
		fromNames[i] = string(st)
	}

	var prev *pool.Entry
	err := s.store.withTx(ctx, "transition", func(tx pgx.Tx) error {
		e, err := scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM pool_entries WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return pool.ErrEntryNotFound
		}
		if err != nil {
			return mapPostgresError("transition", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE pool_entries
			SET state = $1, assigned_to = NULL, version = version + 1, updated_at = $2
			WHERE id = $3 AND state = ANY($4)`,
			string(to), now, id, fromNames)
		if err != nil {
			return mapPostgresError("transition", err)
		}
		if tag.RowsAffected() == 0 {
			return &pool.TransitionError{EntryID: id, Current: e.State, Target: to}
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
	var state string
	err := s.store.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id, state FROM pool_entries WHERE id = $1 AND organization_id = $2
		), deleted AS (
			DELETE FROM pool_entries p
			USING target
			WHERE p.id = target.id AND target.state = 'available'
			RETURNING p.id
		)
		SELECT CASE WHEN EXISTS (SELECT 1 FROM deleted) THEN 'deleted' ELSE target.state END
		FROM target`, id, orgID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return pool.ErrEntryNotFound
	}
	if err != nil {
		return mapPostgresError("delete_entry", err)
	}
	if state != "deleted" {
		return pool.ErrEntryInUse
	}
	return nil
}

// AssignedTo returns the entry bound to userID, or nil.
func (s *PoolStore) AssignedTo(ctx context.Context, userID string) (*pool.Entry, error) {
	e, err := scanEntry(s.store.pool.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM pool_entries
		WHERE state = 'assigned' AND assigned_to = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPostgresError("assigned_to", err)
	}
	return e, nil
}

func scanEntry(row pgx.Row) (*pool.Entry, error) {
	var (
		e          pool.Entry
		state      string
		assignedTo *string
	)
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.CredentialID, &e.Secret, &e.DisplayName, &state,
		&assignedTo, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.State = pool.State(state)
	if assignedTo != nil {
		e.AssignedTo = *assignedTo
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
