package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/ledger"
)

// UsageSource computes rollups. *ledger.Ledger implements it.
type UsageSource interface {
	Rollup(ctx context.Context, scope ledger.Scope, window ledger.Window) (ledger.Rollup, error)
}

// Config configures an Evaluator.
type Config struct {
	// Location is the reference timezone for month and day boundaries.
	// Default: UTC
	Location *time.Location

	// AlertThreshold is the fraction (0.0-1.0) of a limit at which allowed
	// decisions are flagged. Zero disables alerting.
	AlertThreshold float64

	// Now is the clock. Default: time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// Evaluator decides whether a metered call may proceed.
//
// Checks run in a fixed order and the first violation is returned:
//
//  1. the user exists and has API access enabled
//  2. the organization exists, is active and not archived, and its monthly
//     rollup leaves room for the projected tokens
//  3. the workspace exists, belongs to the organization, is not archived,
//     and its monthly rollup leaves room
//  4. the workspace daily rollup leaves room, if a daily budget is set
//
// Consumption is always derived from the usage ledger. Checks are not
// serialized with the calls they admit, so a burst of concurrent calls can
// overshoot a limit by the tokens in flight at evaluation time.
type Evaluator struct {
	usage     UsageSource
	directory directory.Directory
	location  *time.Location
	threshold float64
	now       func() time.Time
	logger    *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(usage UsageSource, dir directory.Directory, cfg Config) *Evaluator {
	e := &Evaluator{
		usage:     usage,
		directory: dir,
		location:  cfg.Location,
		threshold: cfg.AlertThreshold,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "budget")
	return e
}

// CheckBudget evaluates req. Denials are returned as a Decision with
// Allowed=false; the error is reserved for lookup or storage failures.
func (e *Evaluator) CheckBudget(ctx context.Context, req Request) (*Decision, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("budget check requires a user id")
	}
	if req.ProjectedTokens < 0 {
		return nil, fmt.Errorf("projected tokens must not be negative")
	}

	now := e.now()
	allowed := &Decision{Allowed: true, Projected: req.ProjectedTokens}

	// (a) user
	user, err := e.directory.User(ctx, req.UserID)
	if err != nil {
		return e.lookupFailure(err, ledger.ScopeUser, req.UserID)
	}
	if !user.APIAccessEnabled {
		return e.deny(&Decision{
			Code:    DenyAccountDisabled,
			Reason:  "API access is disabled for this user",
			Scope:   ledger.ScopeUser,
			ScopeID: user.ID,
		}, req), nil
	}

	orgID := req.OrganizationID
	if orgID == "" {
		orgID = user.OrganizationID
	}

	// A workspace without an explicit or primary organization names its own.
	var ws *directory.Workspace
	if req.WorkspaceID != "" && orgID == "" {
		ws, err = e.directory.Workspace(ctx, req.WorkspaceID)
		if err != nil {
			return e.lookupFailure(err, ledger.ScopeWorkspace, req.WorkspaceID)
		}
		orgID = ws.OrganizationID
	}

	// (b) organization status
	var org *directory.Organization
	if orgID != "" {
		org, err = e.directory.Organization(ctx, orgID)
		if err != nil {
			return e.lookupFailure(err, ledger.ScopeOrganization, orgID)
		}
		if org.Archived {
			return e.deny(&Decision{
				Code:    DenyAccountDisabled,
				Reason:  "organization is archived",
				Scope:   ledger.ScopeOrganization,
				ScopeID: org.ID,
			}, req), nil
		}
		if org.Status != directory.OrgActive {
			return e.deny(&Decision{
				Code:    DenyAccountDisabled,
				Reason:  fmt.Sprintf("organization is %s", org.Status),
				Scope:   ledger.ScopeOrganization,
				ScopeID: org.ID,
			}, req), nil
		}
	}

	// (c) workspace status
	if req.WorkspaceID != "" {
		if ws == nil {
			ws, err = e.directory.Workspace(ctx, req.WorkspaceID)
			if err != nil {
				return e.lookupFailure(err, ledger.ScopeWorkspace, req.WorkspaceID)
			}
		}
		if org == nil || ws.OrganizationID != org.ID {
			return e.deny(&Decision{
				Code:    DenyNotFound,
				Reason:  fmt.Sprintf("workspace %q does not belong to organization %q", ws.ID, orgID),
				Scope:   ledger.ScopeWorkspace,
				ScopeID: ws.ID,
			}, req), nil
		}
		if ws.Archived {
			return e.deny(&Decision{
				Code:    DenyAccountDisabled,
				Reason:  "workspace is archived",
				Scope:   ledger.ScopeWorkspace,
				ScopeID: ws.ID,
			}, req), nil
		}
	}

	// Token limits only once every status check has passed.
	if org == nil {
		return allowed, nil
	}
	month := ledger.MonthWindow(now, e.location, org.ResetDay)
	d, err := e.checkLimit(ctx, ledger.OrganizationScope(org.ID), PeriodMonthly, month, org.MonthlyTokenBudget, allowed)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return e.deny(d, req), nil
	}

	if ws == nil {
		return allowed, nil
	}

	scope := ledger.WorkspaceScope(ws.ID)
	d, err = e.checkLimit(ctx, scope, PeriodMonthly, month, ws.MonthlyTokenBudget, allowed)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return e.deny(d, req), nil
	}

	// (d) workspace daily
	day := ledger.DayWindow(now, e.location)
	d, err = e.checkLimit(ctx, scope, PeriodDaily, day, ws.DailyTokenBudget, allowed)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return e.deny(d, req), nil
	}

	return allowed, nil
}

// checkLimit returns a denial when the limit is exceeded, nil otherwise.
// Unlimited axes are not rolled up at all. When the limit holds but the
// consumption after the pending call reaches the alert threshold, the
// running decision is flagged.
func (e *Evaluator) checkLimit(ctx context.Context, scope ledger.Scope, period Period, window ledger.Window, limit int64, running *Decision) (*Decision, error) {
	if limit <= 0 {
		return nil, nil
	}

	r, err := e.usage.Rollup(ctx, scope, window)
	if err != nil {
		return nil, fmt.Errorf("budget rollup for %s: %w", scope, err)
	}
	if !Exceeded(limit, r.TotalTokens, running.Projected) {
		if e.threshold > 0 && float64(r.TotalTokens+running.Projected) >= e.threshold*float64(limit) {
			running.AlertTriggered = true
			e.logger.WarnContext(ctx, "budget alert threshold reached",
				"scope", scope.String(),
				"period", string(period),
				"limit", limit,
				"used", r.TotalTokens,
				"threshold", e.threshold,
			)
		}
		return nil, nil
	}

	return &Decision{
		Code:    DenyBudgetExceeded,
		Reason:  fmt.Sprintf("%s %s token budget exceeded", period, scope.Kind),
		Scope:   scope.Kind,
		ScopeID: scope.ID,
		Period:  period,
		Limit:   limit,
		Used:    r.TotalTokens,
		ResetAt: window.End,
	}, nil
}

func (e *Evaluator) lookupFailure(err error, kind ledger.ScopeKind, id string) (*Decision, error) {
	if directory.IsNotFound(err) {
		return &Decision{
			Code:    DenyNotFound,
			Reason:  err.Error(),
			Scope:   kind,
			ScopeID: id,
		}, nil
	}
	return nil, fmt.Errorf("lookup %s %q: %w", kind, id, err)
}

func (e *Evaluator) deny(d *Decision, req Request) *Decision {
	d.Allowed = false
	d.Projected = req.ProjectedTokens
	e.logger.Info("budget check denied",
		"user_id", req.UserID,
		"code", string(d.Code),
		"scope", string(d.Scope),
		"scope_id", d.ScopeID,
		"limit", d.Limit,
		"used", d.Used,
		"projected", d.Projected,
	)
	return d
}
