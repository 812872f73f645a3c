package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/proxy"
)

// maxBulkAssign caps the users of one bulk assignment request.
const maxBulkAssign = 1000

// PoolHandler serves the credential pool administration endpoints. Every
// route requires the organization administrator role in {orgID}, or the
// platform administrator role.
type PoolHandler struct {
	pool      CredentialPool
	directory directory.Directory
	logger    *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(p CredentialPool, dir directory.Directory, logger *slog.Logger) *PoolHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolHandler{
		pool:      p,
		directory: dir,
		logger:    logger.With("component", "pool"),
	}
}

// ListResponse is the body of GET /orgs/{orgID}/pool.
type ListResponse struct {
	Entries []*pool.Entry `json:"entries"`
}

// BulkAssignRequest is the body of POST /orgs/{orgID}/assignments.
type BulkAssignRequest struct {
	UserIDs []string `json:"user_ids"`
}

// Add handles POST /orgs/{orgID}/pool.
func (h *PoolHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var cred pool.Credential
	if err := proxy.DecodeJSON(r, &cred); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	entryID, err := h.pool.AddToPool(ctx, orgID, cred)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	entry, err := h.pool.Get(ctx, entryID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	proxy.WriteJSON(w, http.StatusCreated, entry)
}

// List handles GET /orgs/{orgID}/pool.
func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	entries, err := h.pool.List(ctx, orgID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if entries == nil {
		entries = []*pool.Entry{}
	}
	proxy.WriteJSON(w, http.StatusOK, ListResponse{Entries: entries})
}

// Remove handles DELETE /orgs/{orgID}/pool/{entryID}.
func (h *PoolHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.pool.RemoveFromPool(ctx, orgID, mux.Vars(r)["entryID"]); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Release handles POST /orgs/{orgID}/pool/{entryID}/release.
func (h *PoolHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pool.Release)
}

// Revoke handles POST /orgs/{orgID}/pool/{entryID}/revoke.
func (h *PoolHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pool.Revoke)
}

// Archive handles POST /orgs/{orgID}/pool/{entryID}/archive.
func (h *PoolHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pool.Archive)
}

// transition applies op to an entry of {orgID} and responds with the entry
// after the change.
func (h *PoolHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	entryID := mux.Vars(r)["entryID"]
	if _, err := h.entry(ctx, orgID, entryID); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if err := op(ctx, entryID); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	entry, err := h.pool.Get(ctx, entryID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	proxy.WriteJSON(w, http.StatusOK, entry)
}

// BulkAssign handles POST /orgs/{orgID}/assignments. Users outside the
// organization are reported as failures without touching the pool.
func (h *PoolHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req BulkAssignRequest
	if err := proxy.DecodeJSON(r, &req); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(ctx, h.logger, w, apierror.InvalidRequest("user_ids must not be empty"))
		return
	}
	if len(req.UserIDs) > maxBulkAssign {
		writeError(ctx, h.logger, w, apierror.Newf(apierror.CodeInvalidRequest,
			"at most %d users may be assigned per request", maxBulkAssign))
		return
	}

	var (
		members  []string
		rejected []pool.Failure
		seen     = make(map[string]bool, len(req.UserIDs))
	)
	for _, id := range req.UserIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := h.member(ctx, orgID, id); err != nil {
			rejected = append(rejected, pool.Failure{UserID: id, Reason: dispatch.Translate(err).Message})
			continue
		}
		members = append(members, id)
	}

	result := &pool.BulkResult{Assigned: []pool.Assignment{}, Failed: []pool.Failure{}}
	if len(members) > 0 {
		result = h.pool.BulkAssign(ctx, orgID, members)
	}
	result.Failed = append(result.Failed, rejected...)
	proxy.WriteJSON(w, http.StatusOK, result)
}

// Assign handles PUT /orgs/{orgID}/users/{userID}/credential. An empty pool
// is reported as PoolExhausted.
func (h *PoolHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	userID := mux.Vars(r)["userID"]
	if err := h.member(ctx, orgID, userID); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	ref, err := h.pool.Allocate(ctx, orgID, userID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	if ref == nil {
		writeError(ctx, h.logger, w, apierror.PoolExhausted(orgID))
		return
	}
	proxy.WriteJSON(w, http.StatusOK, ref)
}

// authorize checks that the caller administers {orgID} and that the
// organization exists.
func (h *PoolHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return "", false
	}

	orgID := mux.Vars(r)["orgID"]
	if err := h.requireOrgAdmin(ctx, p, orgID); err != nil {
		writeError(ctx, h.logger, w, err)
		return "", false
	}
	return orgID, true
}

func (h *PoolHandler) requireOrgAdmin(ctx context.Context, p *auth.Principal, orgID string) error {
	if !p.IsAdmin() {
		user, err := h.directory.User(ctx, p.UserID)
		if err != nil {
			return err
		}
		if !user.IsOrgAdmin(orgID) {
			return apierror.Unauthorized("organization administrator role required")
		}
	}
	_, err := h.directory.Organization(ctx, orgID)
	return err
}

// entry returns entryID when it belongs to orgID. Entries of other
// organizations are reported as not found.
func (h *PoolHandler) entry(ctx context.Context, orgID, entryID string) (*pool.Entry, error) {
	entry, err := h.pool.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.OrganizationID != orgID {
		return nil, apierror.NotFound("pool entry", entryID)
	}
	return entry, nil
}

// member checks that userID exists and belongs to orgID.
func (h *PoolHandler) member(ctx context.Context, orgID, userID string) error {
	user, err := h.directory.User(ctx, userID)
	if err != nil {
		if directory.IsNotFound(err) {
			return apierror.NotFound("user", userID)
		}
		return err
	}
	if user.OrganizationID != orgID {
		return apierror.Newf(apierror.CodeInvalidRequest,
			"user %s is not a member of organization %s", userID, orgID)
	}
	return nil
}
