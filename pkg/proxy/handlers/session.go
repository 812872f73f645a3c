package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/proxy"
	"mercator-hq/tollgate/pkg/session"
)

// SessionHandler serves /accounts/{accountID}/session. Only the account
// owner and platform administrators may call it.
type SessionHandler struct {
	sessions  SessionManager
	directory directory.Directory
	signer    TokenSigner
	logger    *slog.Logger
}

// NewSessionHandler creates a SessionHandler. When signer is non-nil, an
// owner opening a session receives a token bound to it.
func NewSessionHandler(sessions SessionManager, dir directory.Directory, signer TokenSigner, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		sessions:  sessions,
		directory: dir,
		signer:    signer,
		logger:    logger.With("component", "session"),
	}
}

// SessionStatus is the body of GET /accounts/{accountID}/session.
type SessionStatus struct {
	Active  bool             `json:"active"`
	Session *session.Session `json:"session,omitempty"`
}

// SessionResponse is the body of a created session.
type SessionResponse struct {
	Session *session.Session `json:"session"`

	// PriorSession is the session terminated by a forced creation.
	PriorSession *apierror.SessionInfo `json:"prior_session,omitempty"`

	// Token is a bearer token carrying the session id. It is only issued to
	// the account owner.
	Token string `json:"token,omitempty"`
}

// Get handles GET /accounts/{accountID}/session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, accountID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.Active(ctx, accountID)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	proxy.WriteJSON(w, http.StatusOK, SessionStatus{Active: s != nil, Session: s})
}

// Create handles POST /accounts/{accountID}/session. An account that
// already has an active session gets a SessionConflict describing it.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, accountID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.CreateSession(ctx, accountID, proxy.ClientMeta(r))
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	h.respond(w, r, p, s, nil)
}

// Force handles POST /accounts/{accountID}/session/force. Any active
// session is terminated and returned as prior_session.
func (h *SessionHandler) Force(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, accountID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	s, prior, err := h.sessions.ForceCreateSession(ctx, accountID, proxy.ClientMeta(r))
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	h.respond(w, r, p, s, prior)
}

// Delete handles DELETE /accounts/{accountID}/session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, accountID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.sessions.ClearSession(ctx, accountID); err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, p *auth.Principal, s, prior *session.Session) {
	resp := SessionResponse{Session: s, PriorSession: dispatch.SessionInfo(prior)}

	if h.signer != nil && p.UserID == s.AccountID {
		token, err := h.signer.Sign(auth.Principal{
			UserID:    p.UserID,
			Role:      p.Role,
			SessionID: s.ID,
		}, s.ExpiresAt.Sub(s.CreatedAt))
		if err != nil {
			writeError(r.Context(), h.logger, w, err)
			return
		}
		resp.Token = token
	}

	proxy.WriteJSON(w, http.StatusCreated, resp)
}

// authorize checks that the caller owns {accountID} or is a platform
// administrator, and that the account exists.
func (h *SessionHandler) authorize(w http.ResponseWriter, r *http.Request) (*auth.Principal, string, bool) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return nil, "", false
	}

	accountID := mux.Vars(r)["accountID"]
	if accountID != p.UserID && !p.IsAdmin() {
		writeError(ctx, h.logger, w, apierror.Unauthorized("sessions of other accounts are not accessible"))
		return nil, "", false
	}
	if _, err := h.directory.User(ctx, accountID); err != nil {
		writeError(ctx, h.logger, w, err)
		return nil, "", false
	}
	return p, accountID, true
}
