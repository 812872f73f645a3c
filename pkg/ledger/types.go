package ledger

import (
	"context"
	"fmt"
	"time"
)

// ScopeKind is the unit at which usage is aggregated.
type ScopeKind string

const (
	ScopeUser         ScopeKind = "user"
	ScopeWorkspace    ScopeKind = "workspace"
	ScopeOrganization ScopeKind = "organization"
)

// ParseScopeKind parses a scope kind name.
func ParseScopeKind(s string) (ScopeKind, error) {
	switch ScopeKind(s) {
	case ScopeUser, ScopeWorkspace, ScopeOrganization:
		return ScopeKind(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q (must be user, workspace or organization)", s)
	}
}

// Scope selects the records a rollup covers.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserScope returns the scope of a single user.
func UserScope(id string) Scope { return Scope{Kind: ScopeUser, ID: id} }

// WorkspaceScope returns the scope of a workspace.
func WorkspaceScope(id string) Scope { return Scope{Kind: ScopeWorkspace, ID: id} }

// OrganizationScope returns the scope of an organization.
func OrganizationScope(id string) Scope { return Scope{Kind: ScopeOrganization, ID: id} }

// String implements fmt.Stringer.
func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// Validate checks that the scope is well formed.
func (s Scope) Validate() error {
	if _, err := ParseScopeKind(string(s.Kind)); err != nil {
		return err
	}
	if s.ID == "" {
		return fmt.Errorf("scope %s requires an id", s.Kind)
	}
	return nil
}

// Window is the half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window requires both start and end")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Source identifies where a usage record came from.
type Source string

const (
	// SourceProxy marks records written by the request dispatcher.
	SourceProxy Source = "proxy"

	// SourceClient marks usage reported by a client outside a proxied call.
	SourceClient Source = "client"
)

// UsageRecord is one metered call. Records are never mutated or deleted.
type UsageRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	WorkspaceID    string    `json:"workspace_id,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	Success        bool      `json:"success"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Model          string    `json:"model,omitempty"`
	Source         Source    `json:"source"`
	Context        string    `json:"context,omitempty"`
}

// InScope reports whether the record is attributed to scope.
func (r *UsageRecord) InScope(scope Scope) bool {
	switch scope.Kind {
	case ScopeUser:
		return r.UserID == scope.ID
	case ScopeWorkspace:
		return r.WorkspaceID == scope.ID
	case ScopeOrganization:
		return r.OrganizationID == scope.ID
	default:
		return false
	}
}

// Rollup aggregates records over a scope and window.
type Rollup struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	RequestCount int64   `json:"request_count"`
	SuccessCount int64   `json:"success_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// Add folds a record into the rollup. SuccessRate is not updated; call
// Finalize once all records are added.
func (r *Rollup) Add(rec *UsageRecord) {
	r.InputTokens += rec.InputTokens
	r.OutputTokens += rec.OutputTokens
	r.TotalTokens += rec.TotalTokens
	r.RequestCount++
	if rec.Success {
		r.SuccessCount++
	}
}

// Finalize computes SuccessRate from the counts.
func (r *Rollup) Finalize() {
	if r.RequestCount == 0 {
		r.SuccessRate = 0
		return
	}
	r.SuccessRate = float64(r.SuccessCount) / float64(r.RequestCount)
}

// Granularity is the bucket size of a time-bucketed rollup.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Bucket is the rollup of one time slice.
type Bucket struct {
	Start time.Time `json:"start"`
	Rollup
}

// Query selects records from storage.
type Query struct {
	Scope  Scope
	Window Window

	// Limit caps the number of records returned by Records. Zero means no
	// limit. It is ignored by Aggregate.
	Limit int
}

// Matches reports whether rec is selected by the query.
func (q Query) Matches(rec *UsageRecord) bool {
	return rec.InScope(q.Scope) && q.Window.Contains(rec.Timestamp)
}

// Storage persists usage records.
//
// Implementations must make Append atomic and idempotent on record ID:
// appending an existing ID leaves the stored record untouched and reports
// inserted=false.
type Storage interface {
	// Append stores rec.
	Append(ctx context.Context, rec *UsageRecord) (inserted bool, err error)

	// Aggregate sums the records matching q. SuccessRate is filled in.
	Aggregate(ctx context.Context, q Query) (Rollup, error)

	// Records returns the records matching q, newest first.
	Records(ctx context.Context, q Query) ([]*UsageRecord, error)
}
