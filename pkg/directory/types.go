package directory

import (
	"context"
	"errors"
	"fmt"
)

// OrgStatus is the lifecycle status of an organization.
type OrgStatus string

const (
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
	OrgPending   OrgStatus = "pending"
)

// Role is a user's role inside their primary organization.
type Role string

const (
	RoleMember   Role = "member"
	RoleOrgAdmin Role = "org_admin"
)

// Organization owns workspaces and a credential pool.
type Organization struct {
	ID     string    `yaml:"id" json:"id"`
	Name   string    `yaml:"name" json:"name"`
	Status OrgStatus `yaml:"status" json:"status"`

	// MonthlyTokenBudget is the token limit per billing month. Zero means
	// unlimited.
	MonthlyTokenBudget int64 `yaml:"monthly_token_budget" json:"monthly_token_budget"`

	// ResetDay is the day of month (1-28) on which the billing month starts.
	ResetDay int `yaml:"reset_day" json:"reset_day"`

	Archived bool `yaml:"archived" json:"archived"`

	// PoolAutoAssign lets the dispatcher allocate a pooled credential on the
	// first metered call of a user that holds none.
	PoolAutoAssign bool `yaml:"pool_auto_assign" json:"pool_auto_assign"`
}

// Workspace belongs to exactly one organization.
type Workspace struct {
	ID                 string `yaml:"id" json:"id"`
	OrganizationID     string `yaml:"organization_id" json:"organization_id"`
	Name               string `yaml:"name" json:"name,omitempty"`
	MonthlyTokenBudget int64  `yaml:"monthly_token_budget" json:"monthly_token_budget"`

	// DailyTokenBudget is optional; zero means not configured.
	DailyTokenBudget int64 `yaml:"daily_token_budget" json:"daily_token_budget"`

	Archived bool `yaml:"archived" json:"archived"`
}

// User is an account that issues metered calls.
type User struct {
	ID               string `yaml:"id" json:"id"`
	OrganizationID   string `yaml:"organization_id" json:"organization_id,omitempty"`
	Role             Role   `yaml:"role" json:"role"`
	APIAccessEnabled bool   `yaml:"api_access_enabled" json:"api_access_enabled"`
}

// IsOrgAdmin reports whether the user administers orgID.
func (u *User) IsOrgAdmin(orgID string) bool {
	return u.OrganizationID != "" && u.OrganizationID == orgID && u.Role == RoleOrgAdmin
}

// Snapshot is a complete, consistent view of the directory.
type Snapshot struct {
	Organizations []Organization `yaml:"organizations"`
	Workspaces    []Workspace    `yaml:"workspaces"`
	Users         []User         `yaml:"users"`
}

// Validate checks referential integrity and value ranges.
func (s *Snapshot) Validate() error {
	var errs []error
	orgs := make(map[string]bool, len(s.Organizations))
	for _, o := range s.Organizations {
		if o.ID == "" {
			errs = append(errs, errors.New("organization with empty id"))
			continue
		}
		if orgs[o.ID] {
			errs = append(errs, fmt.Errorf("duplicate organization %q", o.ID))
		}
		orgs[o.ID] = true
		switch o.Status {
		case OrgActive, OrgSuspended, OrgPending:
		default:
			errs = append(errs, fmt.Errorf("organization %q: unknown status %q", o.ID, o.Status))
		}
		if o.MonthlyTokenBudget < 0 {
			errs = append(errs, fmt.Errorf("organization %q: monthly_token_budget must be >= 0", o.ID))
		}
		if o.ResetDay < 0 || o.ResetDay > 28 {
			errs = append(errs, fmt.Errorf("organization %q: reset_day must be between 1 and 28", o.ID))
		}
	}

	workspaces := make(map[string]bool, len(s.Workspaces))
	for _, w := range s.Workspaces {
		if w.ID == "" {
			errs = append(errs, errors.New("workspace with empty id"))
			continue
		}
		if workspaces[w.ID] {
			errs = append(errs, fmt.Errorf("duplicate workspace %q", w.ID))
		}
		workspaces[w.ID] = true
		if !orgs[w.OrganizationID] {
			errs = append(errs, fmt.Errorf("workspace %q: unknown organization %q", w.ID, w.OrganizationID))
		}
		if w.MonthlyTokenBudget < 0 || w.DailyTokenBudget < 0 {
			errs = append(errs, fmt.Errorf("workspace %q: budgets must be >= 0", w.ID))
		}
	}

	users := make(map[string]bool, len(s.Users))
	for _, u := range s.Users {
		if u.ID == "" {
			errs = append(errs, errors.New("user with empty id"))
			continue
		}
		if users[u.ID] {
			errs = append(errs, fmt.Errorf("duplicate user %q", u.ID))
		}
		users[u.ID] = true
		if u.OrganizationID != "" && !orgs[u.OrganizationID] {
			errs = append(errs, fmt.Errorf("user %q: unknown organization %q", u.ID, u.OrganizationID))
		}
		switch u.Role {
		case "", RoleMember, RoleOrgAdmin:
		default:
			errs = append(errs, fmt.Errorf("user %q: unknown role %q", u.ID, u.Role))
		}
	}

	return errors.Join(errs...)
}

// Directory resolves organization, workspace and user configuration by id.
// Lookups of unknown ids return a *NotFoundError.
type Directory interface {
	Organization(ctx context.Context, id string) (*Organization, error)
	Workspace(ctx context.Context, id string) (*Workspace, error)
	User(ctx context.Context, id string) (*User, error)
}

// NotFoundError is returned for unknown ids.
type NotFoundError struct {
	Kind string
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
