package dispatch

import (
	"context"
	"strings"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/ledger"
)

// ClientUsage is usage reported by a client for work that did not go
// through the proxy, such as locally counted completions.
type ClientUsage struct {
	TokenCount     int64  `json:"tokenCount"`
	ModelID        string `json:"modelId"`
	Context        string `json:"context,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	WorkspaceID    string `json:"workspaceId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

// RecordClientUsage validates u and appends it to the ledger. It returns the
// record id.
func (d *Dispatcher) RecordClientUsage(ctx context.Context, p *auth.Principal, u ClientUsage) (string, error) {
	if p == nil || p.UserID == "" {
		return "", apierror.Unauthenticated("request is not authenticated")
	}
	if u.TokenCount < 0 {
		return "", apierror.InvalidRequest("tokenCount must not be negative")
	}
	if strings.TrimSpace(u.ModelID) == "" {
		return "", apierror.InvalidRequest("modelId is required")
	}

	orgID, err := d.resolveOrganization(ctx, p, u.OrganizationID)
	if err != nil {
		return "", Translate(err)
	}
	if u.WorkspaceID != "" {
		ws, err := d.directory.Workspace(ctx, u.WorkspaceID)
		if err != nil {
			return "", Translate(err)
		}
		if orgID == "" {
			orgID = ws.OrganizationID
		}
		if ws.OrganizationID != orgID {
			return "", apierror.Unauthorized("workspace does not belong to the organization")
		}
	}

	id, err := d.ledger.Record(ctx, ledger.UsageRecord{
		UserID:         p.UserID,
		OrganizationID: orgID,
		WorkspaceID:    u.WorkspaceID,
		ProjectID:      u.ProjectID,
		TotalTokens:    u.TokenCount,
		Success:        true,
		Endpoint:       "client",
		Model:          u.ModelID,
		Source:         ledger.SourceClient,
		Context:        u.Context,
	})
	if err != nil {
		return "", Translate(err)
	}
	if d.observer != nil {
		d.observer.ObserveTokensRecorded("client", u.TokenCount)
	}

	d.logger.InfoContext(ctx, "client usage recorded",
		"user_id", p.UserID,
		"organization_id", orgID,
		"model", u.ModelID,
		"tokens", u.TokenCount,
		"record_id", id,
	)
	return id, nil
}
