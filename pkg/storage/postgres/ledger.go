package postgres

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/ledger"
)

// LedgerStore implements ledger.Storage on PostgreSQL.
type LedgerStore struct {
	store *Store
}

const usageColumns = `id, user_id, organization_id, workspace_id, project_id, ts,
	input_tokens, output_tokens, total_tokens, success, endpoint, model, source, context`

// Append inserts rec unless its ID already exists.
func (s *LedgerStore) Append(ctx context.Context, rec *ledger.UsageRecord) (bool, error) {
	tag, err := s.store.pool.Exec(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, rec.OrganizationID, rec.WorkspaceID, rec.ProjectID, rec.Timestamp,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.Success,
		rec.Endpoint, rec.Model, string(rec.Source), rec.Context,
	)
	if err != nil {
		return false, mapPostgresError("append", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Aggregate sums the records matching q.
func (s *LedgerStore) Aggregate(ctx context.Context, q ledger.Query) (ledger.Rollup, error) {
	column, err := scopeColumn(q.Scope.Kind)
	if err != nil {
		return ledger.Rollup{}, err
	}

	var r ledger.Rollup
	err = s.store.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(input_tokens), 0)::BIGINT,
			COALESCE(SUM(output_tokens), 0)::BIGINT,
			COALESCE(SUM(total_tokens), 0)::BIGINT,
			COUNT(*),
			COUNT(*) FILTER (WHERE success)
		FROM usage_records
		WHERE `+column+` = $1 AND ts >= $2 AND ts < $3`,
		q.Scope.ID, q.Window.Start, q.Window.End,
	).Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.RequestCount, &r.SuccessCount)
	if err != nil {
		return ledger.Rollup{}, mapPostgresError("aggregate", err)
	}
	r.Finalize()
	return r, nil
}

// Records returns the records matching q, newest first.
func (s *LedgerStore) Records(ctx context.Context, q ledger.Query) ([]*ledger.UsageRecord, error) {
	column, err := scopeColumn(q.Scope.Kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records
		WHERE ` + column + ` = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts DESC, id DESC`
	args := []any{q.Scope.ID, q.Window.Start, q.Window.End}
	if q.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, q.Limit)
	}

	rows, err := s.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPostgresError("records", err)
	}
	defer rows.Close()

	out := make([]*ledger.UsageRecord, 0)
	for rows.Next() {
		var (
			rec    ledger.UsageRecord
			source string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OrganizationID, &rec.WorkspaceID, &rec.ProjectID, &rec.Timestamp,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.Success,
			&rec.Endpoint, &rec.Model, &source, &rec.Context); err != nil {
			return nil, mapPostgresError("records", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Source = ledger.Source(source)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError("records", err)
	}
	return out, nil
}

func scopeColumn(kind ledger.ScopeKind) (string, error) {
	switch kind {
	case ledger.ScopeUser:
		return "user_id", nil
	case ledger.ScopeWorkspace:
		return "workspace_id", nil
	case ledger.ScopeOrganization:
		return "organization_id", nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ledger.ErrInvalidQuery, kind)
	}
}
