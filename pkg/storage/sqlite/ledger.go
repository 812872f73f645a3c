package sqlite

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/ledger"
)

// LedgerStore implements ledger.Storage on SQLite.
type LedgerStore struct {
	db *DB
}

const usageColumns = `id, user_id, organization_id, workspace_id, project_id, ts,
	input_tokens, output_tokens, total_tokens, success, endpoint, model, source, context`

// Append inserts rec unless its ID already exists.
func (s *LedgerStore) Append(ctx context.Context, rec *ledger.UsageRecord) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, rec.OrganizationID, rec.WorkspaceID, rec.ProjectID, nanos(rec.Timestamp),
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.Success,
		rec.Endpoint, rec.Model, string(rec.Source), rec.Context,
	)
	if err != nil {
		return false, wrap("append", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("append", err)
	}
	return n == 1, nil
}

// Aggregate sums the records matching q.
func (s *LedgerStore) Aggregate(ctx context.Context, q ledger.Query) (ledger.Rollup, error) {
	column, err := scopeColumn(q.Scope.Kind)
	if err != nil {
		return ledger.Rollup{}, err
	}

	var r ledger.Rollup
	err = s.db.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COUNT(*),
			COALESCE(SUM(success), 0)
		FROM usage_records
		WHERE `+column+` = ? AND ts >= ? AND ts < ?`,
		q.Scope.ID, nanos(q.Window.Start), nanos(q.Window.End),
	).Scan(&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.RequestCount, &r.SuccessCount)
	if err != nil {
		return ledger.Rollup{}, wrap("aggregate", err)
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
		WHERE ` + column + ` = ? AND ts >= ? AND ts < ?
		ORDER BY ts DESC, id DESC`
	args := []any{q.Scope.ID, nanos(q.Window.Start), nanos(q.Window.End)}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("records", err)
	}
	defer rows.Close()

	out := make([]*ledger.UsageRecord, 0)
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, wrap("records", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("records", err)
	}
	return out, nil
}

func scanUsage(row scanner) (*ledger.UsageRecord, error) {
	var (
		rec    ledger.UsageRecord
		ts     int64
		source string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.OrganizationID, &rec.WorkspaceID, &rec.ProjectID, &ts,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.Success,
		&rec.Endpoint, &rec.Model, &source, &rec.Context); err != nil {
		return nil, err
	}
	rec.Timestamp = fromNanos(ts)
	rec.Source = ledger.Source(source)
	return &rec, nil
}

// scopeColumn maps a scope kind to its column. The result is interpolated
// into SQL, so only the fixed names below may be returned.
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
