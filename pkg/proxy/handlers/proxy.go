package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/proxy"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/upstream"
)

// ProxyHandler serves the metered completion endpoints.
type ProxyHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(d Dispatcher, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		dispatcher: d,
		logger:     logger.With("component", "proxy"),
	}
}

// Chat handles POST /proxy/chat.
func (h *ProxyHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, upstream.EndpointChat)
}

// Completions handles POST /proxy/completions.
func (h *ProxyHandler) Completions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, upstream.EndpointCompletions)
}

func (h *ProxyHandler) serve(w http.ResponseWriter, r *http.Request, endpoint upstream.Endpoint) {
	ctx := r.Context()
	p, ok := principal(w, r)
	if !ok {
		return
	}

	body, err := proxy.ReadBody(r)
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	meta := proxy.ExtractMetadata(r)
	res, err := h.dispatcher.Dispatch(ctx, dispatch.Call{
		Principal:      p,
		Endpoint:       endpoint,
		OrganizationID: meta.OrganizationID,
		WorkspaceID:    meta.WorkspaceID,
		ProjectID:      meta.ProjectID,
		Body:           body,
		RequestID:      logging.RequestID(ctx),
	})
	if err != nil {
		writeError(ctx, h.logger, w, err)
		return
	}

	proxy.WriteResult(w, res)
}
