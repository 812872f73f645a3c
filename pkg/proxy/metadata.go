package proxy

import (
	"net"
	"net/http"
	"strings"

	"mercator-hq/tollgate/pkg/session"
)

// Attribution headers. Each has a query parameter fallback for clients that
// cannot set headers, such as browser EventSource.
const (
	OrganizationIDHeader = "X-Organization-ID"
	WorkspaceIDHeader    = "X-Workspace-ID"
	ProjectIDHeader      = "X-Project-ID"

	OrganizationIDParam = "organizationId"
	WorkspaceIDParam    = "workspaceId"
	ProjectIDParam      = "projectId"
)

// CallMetadata is the attribution a client attaches to a metered call.
type CallMetadata struct {
	OrganizationID string
	WorkspaceID    string
	ProjectID      string
}

// ExtractMetadata reads the attribution of r. Headers take precedence over
// query parameters.
func ExtractMetadata(r *http.Request) CallMetadata {
	q := r.URL.Query()
	pick := func(header, param string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return strings.TrimSpace(q.Get(param))
	}
	return CallMetadata{
		OrganizationID: pick(OrganizationIDHeader, OrganizationIDParam),
		WorkspaceID:    pick(WorkspaceIDHeader, WorkspaceIDParam),
		ProjectID:      pick(ProjectIDHeader, ProjectIDParam),
	}
}

// ClientMeta describes the client of r for session bookkeeping. The first
// X-Forwarded-For hop wins over the socket address.
func ClientMeta(r *http.Request) session.ClientMeta {
	return session.ClientMeta{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// ClientIP returns the originating address of r.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
