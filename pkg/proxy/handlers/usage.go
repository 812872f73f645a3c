package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/proxy"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// defaultHistorySpan is how far back /usage/history looks without from.
	defaultHistorySpan = 30 * 24 * time.Hour
)

// UsageHandler serves the /usage endpoints.
type UsageHandler struct {
	dispatcher Dispatcher
	usage      UsageReader
	limits     LimitsReader
	directory  directory.Directory
	logger     *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(d Dispatcher, usage UsageReader, limits LimitsReader, dir directory.Directory, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{
		dispatcher: d,
		usage:      usage,
		limits:     limits,
		directory:  dir,
		logger:     logger.With("component", "usage"),
	}
}

// UsageResponse is the body of GET /usage/me.
type UsageResponse struct {
	Scope   ledger.Scope    `json:"scope"`
	Window  ledger.Window   `json:"window"`
	Usage   ledger.Rollup   `json:"usage"`
	Buckets []ledger.Bucket `json:"buckets,omitempty"`
}

// LimitsResponse is the body of GET /usage/limits.
type LimitsResponse struct {
	Limits []budget.LimitStatus `json:"limits"`
}

// HistoryResponse is the body of GET /usage/history.
type HistoryResponse struct {
	Scope   ledger.Scope          `json:"scope"`
	Window  ledger.Window         `json:"window"`
	Records []*ledger.UsageRecord `json:"records"`
}

// Record handles POST /usage/record.
func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var u dispatch.ClientUsage
	if err := proxy.DecodeJSON(r, &u); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	id, err := h.dispatcher.RecordClientUsage(ctx, p, u)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	proxy.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Me handles GET /usage/me. The scope defaults to the caller; organization
// and workspace scopes are limited to the caller's organization unless the
// caller is a platform administrator. The window defaults to the current
// billing month.
func (h *UsageHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return
	}

	scope, user, err := h.resolveScope(ctx, p, r)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	month, err := h.billingMonth(ctx, user)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	window, err := queryWindow(r, month)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	rollup, err := h.usage.Rollup(ctx, scope, window)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	resp := UsageResponse{Scope: scope, Window: window, Usage: rollup}

	if g := r.URL.Query().Get("granularity"); g != "" {
		resp.Buckets, err = h.usage.Buckets(ctx, scope, window, ledger.Granularity(g))
		if err != nil {
			writeError(ctx, h.logger, w, err)
			return
		}
	}

	proxy.WriteJSON(w, http.StatusOK, resp)
}

// Limits handles GET /usage/limits.
func (h *UsageHandler) Limits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return
	}

	meta := proxy.ExtractMetadata(r)
	user, err := h.directory.User(ctx, p.UserID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if meta.OrganizationID != "" && meta.OrganizationID != user.OrganizationID && !p.IsAdmin() {
		writeError(ctx, h.logger, w, apierror.Unauthorized("organization does not belong to the caller"))
		return
	}
	if meta.WorkspaceID != "" {
		ws, err := h.directory.Workspace(ctx, meta.WorkspaceID)
		if err != nil {
			writeError(ctx, h.logger, w, err)
			return
		}
		orgID := meta.OrganizationID
		if orgID == "" {
			orgID = user.OrganizationID
		}
		if ws.OrganizationID != orgID {
			writeError(ctx, h.logger, w, apierror.Newf(apierror.CodeInvalidRequest,
				"workspace %s does not belong to organization %s", ws.ID, orgID))
			return
		}
	}

	statuses, err := h.limits.Limits(ctx, p.UserID, meta.OrganizationID, meta.WorkspaceID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if statuses == nil {
		statuses = []budget.LimitStatus{}
	}
	proxy.WriteJSON(w, http.StatusOK, LimitsResponse{Limits: statuses})
}

// History handles GET /usage/history. It accepts the scope parameters of
// Me and returns records newest first.
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return
	}

	scope, _, err := h.resolveScope(ctx, p, r)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	limit, err := proxy.QueryInt(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	now := h.usage.Now()
	window, err := queryWindow(r, ledger.Window{
		Start: now.Add(-defaultHistorySpan),
		End:   now.Add(time.Second),
	})
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	records, err := h.usage.History(ctx, scope, window, limit)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if records == nil {
		records = []*ledger.UsageRecord{}
	}
	proxy.WriteJSON(w, http.StatusOK, HistoryResponse{Scope: scope, Window: window, Records: records})
}

// resolveScope turns the scope, organizationId and workspaceId parameters
// into a ledger scope the caller may read.
func (h *UsageHandler) resolveScope(ctx context.Context, p *auth.Principal, r *http.Request) (ledger.Scope, *directory.User, error) {
	user, err := h.directory.User(ctx, p.UserID)
	if err != nil {
		return ledger.Scope{}, nil, err
	}

	kind := ledger.ScopeUser
	if raw := r.URL.Query().Get("scope"); raw != "" {
		kind, err = ledger.ParseScopeKind(raw)
		if err != nil {
			return ledger.Scope{}, nil, apierror.InvalidRequest(err.Error())
		}
	}

	meta := proxy.ExtractMetadata(r)
	switch kind {
	case ledger.ScopeOrganization:
		orgID := meta.OrganizationID
		if orgID == "" {
			orgID = user.OrganizationID
		}
		if orgID == "" {
			return ledger.Scope{}, nil, apierror.InvalidRequest("organizationId is required for organization scope")
		}
		if orgID != user.OrganizationID && !p.IsAdmin() {
			return ledger.Scope{}, nil, apierror.Unauthorized("organization does not belong to the caller")
		}
		if _, err := h.directory.Organization(ctx, orgID); err != nil {
			return ledger.Scope{}, nil, err
		}
		return ledger.OrganizationScope(orgID), user, nil

	case ledger.ScopeWorkspace:
		if meta.WorkspaceID == "" {
			return ledger.Scope{}, nil, apierror.InvalidRequest("workspaceId is required for workspace scope")
		}
		ws, err := h.directory.Workspace(ctx, meta.WorkspaceID)
		if err != nil {
			return ledger.Scope{}, nil, err
		}
		if ws.OrganizationID != user.OrganizationID && !p.IsAdmin() {
			return ledger.Scope{}, nil, apierror.Unauthorized("workspace does not belong to the caller's organization")
		}
		return ledger.WorkspaceScope(ws.ID), user, nil

	default:
		return ledger.UserScope(p.UserID), user, nil
	}
}

// billingMonth returns the current billing month of the user's primary
// organization, or the calendar month when the user has none.
func (h *UsageHandler) billingMonth(ctx context.Context, user *directory.User) (ledger.Window, error) {
	resetDay := 1
	if user.OrganizationID != "" {
		org, err := h.directory.Organization(ctx, user.OrganizationID)
		if err != nil {
			return ledger.Window{}, err
		}
		resetDay = org.ResetDay
	}
	return ledger.MonthWindow(h.usage.Now(), h.usage.Location(), resetDay), nil
}

// queryWindow overlays the from and to parameters on def.
func queryWindow(r *http.Request, def ledger.Window) (ledger.Window, error) {
	from, err := proxy.QueryTime(r, "from")
	if err != nil {
		return ledger.Window{}, err
	}
	to, err := proxy.QueryTime(r, "to")
	if err != nil {
		return ledger.Window{}, err
	}
	if !from.IsZero() {
		def.Start = from
	}
	if !to.IsZero() {
		def.End = to
	}
	return def, nil
}
