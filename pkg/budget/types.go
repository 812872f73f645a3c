package budget

import (
	"time"

	"mercator-hq/tollgate/pkg/ledger"
)

// DenialCode classifies a denied budget check.
type DenialCode string

const (
	// DenyNotFound means the user, organization or workspace does not exist,
	// or the workspace does not belong to the organization.
	DenyNotFound DenialCode = "not_found"

	// DenyAccountDisabled means API access is off for the user, the
	// organization is not active or is archived, or the workspace is archived.
	DenyAccountDisabled DenialCode = "account_disabled"

	// DenyBudgetExceeded means the consumed tokens plus the projected tokens
	// exceed a configured limit.
	DenyBudgetExceeded DenialCode = "budget_exceeded"
)

// Period names the window a limit applies to.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodDaily   Period = "daily"
)

// Request is the input of a budget check.
type Request struct {
	UserID         string
	OrganizationID string
	WorkspaceID    string

	// ProjectedTokens is the caller's estimate of the tokens the pending
	// call will consume. Zero checks only whether a limit is already used up.
	ProjectedTokens int64
}

// Decision is the outcome of a budget check.
type Decision struct {
	// Allowed is true when no check was violated.
	Allowed bool

	// Code classifies the denial. Empty when allowed.
	Code DenialCode

	// Reason is a human-readable explanation of the denial.
	Reason string

	// Scope and ScopeID identify the limiting scope of a denial.
	Scope   ledger.ScopeKind
	ScopeID string

	// Period is the window of the violated limit (budget denials only).
	Period Period

	// Limit is the configured limit and Used the tokens already consumed in
	// the window (budget denials only).
	Limit int64
	Used  int64

	// Projected echoes Request.ProjectedTokens.
	Projected int64

	// ResetAt is when the violated window ends (budget denials only).
	ResetAt time.Time

	// AlertTriggered is set on allowed decisions when any checked limit has
	// reached the configured alert threshold.
	AlertTriggered bool
}

// LimitStatus describes one applicable limit and its consumption.
type LimitStatus struct {
	Scope      ledger.ScopeKind `json:"scope"`
	ScopeID    string           `json:"scope_id"`
	Period     Period           `json:"period"`
	Unlimited  bool             `json:"unlimited"`
	Limit      int64            `json:"limit"`
	Used       int64            `json:"used"`
	Remaining  int64            `json:"remaining"`
	Percentage float64          `json:"percentage"`
	Window     ledger.Window    `json:"window"`
	ResetAt    time.Time        `json:"reset_at"`
}

// Exceeded reports whether adding projected tokens to used would violate
// limit. A limit of zero is unlimited.
func Exceeded(limit, used, projected int64) bool {
	if limit <= 0 {
		return false
	}
	return used >= limit || used+projected > limit
}
