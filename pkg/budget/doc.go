// Package budget implements the budget evaluator.
//
// # Overview
//
// The evaluator answers one question before a metered call is dispatched:
// may this user, under this organization and workspace, spend the projected
// number of tokens now? Consumption is never tracked here. It is read from
// the usage ledger for calendar windows in the deployment's reference
// timezone:
//
//   - Organization: billing month starting on the organization's reset day
//   - Workspace: the same billing month, plus an optional calendar day
//
// # Unlimited Budgets
//
// A budget of 0 never denies on that axis. This is a product rule, not a
// default waiting to be filled in.
//
// # Soft Limits
//
// Decisions are advisory at check time:
//
//	d, err := evaluator.CheckBudget(ctx, budget.Request{
//	    UserID:          "alice",
//	    WorkspaceID:     "ws-1",
//	    ProjectedTokens: 512,
//	})
//	if err != nil {
//	    return err
//	}
//	if !d.Allowed {
//	    // d.Code, d.Scope, d.Limit and d.Used explain the denial
//	}
//
// Concurrent calls that pass the check at the same time may together exceed
// the limit.
package budget
