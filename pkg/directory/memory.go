package directory

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory Directory. Its contents are replaced atomically
// with Load, so readers never observe a half-applied snapshot.
type Memory struct {
	mu            sync.RWMutex
	organizations map[string]Organization
	workspaces    map[string]Workspace
	users         map[string]User
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		organizations: make(map[string]Organization),
		workspaces:    make(map[string]Workspace),
		users:         make(map[string]User),
	}
}

// Load validates snap and replaces the directory contents with it.
func (m *Memory) Load(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid directory snapshot: %w", err)
	}

	orgs := make(map[string]Organization, len(snap.Organizations))
	for _, o := range snap.Organizations {
		if o.ResetDay == 0 {
			o.ResetDay = 1
		}
		orgs[o.ID] = o
	}
	workspaces := make(map[string]Workspace, len(snap.Workspaces))
	for _, w := range snap.Workspaces {
		workspaces[w.ID] = w
	}
	users := make(map[string]User, len(snap.Users))
	for _, u := range snap.Users {
		if u.Role == "" {
			u.Role = RoleMember
		}
		users[u.ID] = u
	}

	m.mu.Lock()
	m.organizations = orgs
	m.workspaces = workspaces
	m.users = users
	m.mu.Unlock()
	return nil
}

// PutOrganization inserts or replaces an organization.
func (m *Memory) PutOrganization(o Organization) {
	if o.ResetDay == 0 {
		o.ResetDay = 1
	}
	if o.Status == "" {
		o.Status = OrgActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.organizations[o.ID] = o
}

// PutWorkspace inserts or replaces a workspace.
func (m *Memory) PutWorkspace(w Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[w.ID] = w
}

// PutUser inserts or replaces a user.
func (m *Memory) PutUser(u User) {
	if u.Role == "" {
		u.Role = RoleMember
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// Organization implements Directory.
func (m *Memory) Organization(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.organizations[id]
	if !ok {
		return nil, &NotFoundError{Kind: "organization", ID: id}
	}
	return &o, nil
}

// Workspace implements Directory.
func (m *Memory) Workspace(_ context.Context, id string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workspaces[id]
	if !ok {
		return nil, &NotFoundError{Kind: "workspace", ID: id}
	}
	return &w, nil
}

// User implements Directory.
func (m *Memory) User(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, &NotFoundError{Kind: "user", ID: id}
	}
	return &u, nil
}

// Counts returns the number of organizations, workspaces and users.
func (m *Memory) Counts() (orgs, workspaces, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.organizations), len(m.workspaces), len(m.users)
}
