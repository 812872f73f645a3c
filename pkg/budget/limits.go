package budget

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/ledger"
)

// Limits describes every limit that applies to calls by userID under the
// given organization and workspace, together with current consumption.
// Empty ids fall back to the user's primary organization and skip the
// workspace axes. The user axis is reported as unlimited.
func (e *Evaluator) Limits(ctx context.Context, userID, orgID, workspaceID string) ([]LimitStatus, error) {
	user, err := e.directory.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		orgID = user.OrganizationID
	}

	now := e.now()
	resetDay := 1
	var statuses []LimitStatus

	if orgID != "" {
		org, err := e.directory.Organization(ctx, orgID)
		if err != nil {
			return nil, err
		}
		resetDay = org.ResetDay
		st, err := e.status(ctx, ledger.OrganizationScope(org.ID), PeriodMonthly, ledger.MonthWindow(now, e.location, resetDay), org.MonthlyTokenBudget)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}

	if workspaceID != "" {
		ws, err := e.directory.Workspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if orgID != "" && ws.OrganizationID != orgID {
			return nil, fmt.Errorf("workspace %q does not belong to organization %q", ws.ID, orgID)
		}
		scope := ledger.WorkspaceScope(ws.ID)
		monthly, err := e.status(ctx, scope, PeriodMonthly, ledger.MonthWindow(now, e.location, resetDay), ws.MonthlyTokenBudget)
		if err != nil {
			return nil, err
		}
		daily, err := e.status(ctx, scope, PeriodDaily, ledger.DayWindow(now, e.location), ws.DailyTokenBudget)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, monthly, daily)
	}

	userStatus, err := e.status(ctx, ledger.UserScope(user.ID), PeriodMonthly, ledger.MonthWindow(now, e.location, resetDay), 0)
	if err != nil {
		return nil, err
	}
	return append(statuses, userStatus), nil
}

func (e *Evaluator) status(ctx context.Context, scope ledger.Scope, period Period, window ledger.Window, limit int64) (LimitStatus, error) {
	r, err := e.usage.Rollup(ctx, scope, window)
	if err != nil {
		return LimitStatus{}, fmt.Errorf("rollup for %s: %w", scope, err)
	}

	st := LimitStatus{
		Scope:     scope.Kind,
		ScopeID:   scope.ID,
		Period:    period,
		Unlimited: limit <= 0,
		Limit:     limit,
		Used:      r.TotalTokens,
		Window:    window,
		ResetAt:   window.End,
	}
	if !st.Unlimited {
		st.Remaining = max(limit-r.TotalTokens, 0)
		st.Percentage = float64(r.TotalTokens) / float64(limit)
	}
	return st, nil
}
