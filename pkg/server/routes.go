package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/proxy/handlers"
	"mercator-hq/tollgate/pkg/proxy/middleware"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Handlers groups the endpoint handlers mounted behind authentication.
type Handlers struct {
	Proxy   *handlers.ProxyHandler
	Usage   *handlers.UsageHandler
	Pool    *handlers.PoolHandler
	Session *handlers.SessionHandler
}

// RouterConfig wires NewRouter.
type RouterConfig struct {
	Server *config.ServerConfig
	Health *config.HealthConfig

	// MetricsPath is where Metrics is mounted.
	MetricsPath string

	Handlers Handlers

	// Authenticate guards every route except health, version and metrics.
	Authenticate func(http.Handler) http.Handler

	Checker *health.Checker

	// Metrics serves the Prometheus registry. Nil disables the route.
	Metrics http.Handler

	// Version serves build information. Nil disables the route.
	Version http.Handler

	// Recorder receives per-request metrics. Nil disables them.
	Recorder middleware.HTTPRecorder

	Logger *slog.Logger
}

// NewRouter builds the route table and wraps it in the shared middleware
// chain: recovery, logging, request id, tracing, CORS and body limit.
func NewRouter(rc RouterConfig) http.Handler {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierror.Write(w, apierror.Newf(apierror.CodeNotFound, "no route for %s %s", req.Method, req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	if rc.Checker != nil {
		r.Handle(rc.Health.LivenessPath, rc.Checker.LivenessHandler()).Methods(http.MethodGet, http.MethodHead)
		r.Handle(rc.Health.ReadinessPath, rc.Checker.ReadinessHandler()).Methods(http.MethodGet, http.MethodHead)
	}
	if rc.Version != nil {
		r.Handle("/version", rc.Version).Methods(http.MethodGet, http.MethodHead)
	}
	if rc.Metrics != nil {
		r.Handle(rc.MetricsPath, rc.Metrics).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	if rc.Authenticate != nil {
		api.Use(mux.MiddlewareFunc(rc.Authenticate))
	}
	h := rc.Handlers

	api.HandleFunc("/proxy/chat", h.Proxy.Chat).Methods(http.MethodPost)
	api.HandleFunc("/proxy/completions", h.Proxy.Completions).Methods(http.MethodPost)

	api.HandleFunc("/usage/record", h.Usage.Record).Methods(http.MethodPost)
	api.HandleFunc("/usage/me", h.Usage.Me).Methods(http.MethodGet)
	api.HandleFunc("/usage/limits", h.Usage.Limits).Methods(http.MethodGet)
	api.HandleFunc("/usage/history", h.Usage.History).Methods(http.MethodGet)

	orgs := api.PathPrefix("/orgs/{orgID}").Subrouter()
	orgs.HandleFunc("/pool", h.Pool.Add).Methods(http.MethodPost)
	orgs.HandleFunc("/pool", h.Pool.List).Methods(http.MethodGet)
	orgs.HandleFunc("/pool/{entryID}", h.Pool.Remove).Methods(http.MethodDelete)
	orgs.HandleFunc("/pool/{entryID}/release", h.Pool.Release).Methods(http.MethodPost)
	orgs.HandleFunc("/pool/{entryID}/revoke", h.Pool.Revoke).Methods(http.MethodPost)
	orgs.HandleFunc("/pool/{entryID}/archive", h.Pool.Archive).Methods(http.MethodPost)
	orgs.HandleFunc("/assignments", h.Pool.BulkAssign).Methods(http.MethodPost)
	orgs.HandleFunc("/users/{userID}/credential", h.Pool.Assign).Methods(http.MethodPut)

	accounts := api.PathPrefix("/accounts/{accountID}").Subrouter()
	accounts.HandleFunc("/session", h.Session.Get).Methods(http.MethodGet)
	accounts.HandleFunc("/session", h.Session.Create).Methods(http.MethodPost)
	accounts.HandleFunc("/session", h.Session.Delete).Methods(http.MethodDelete)
	accounts.HandleFunc("/session/force", h.Session.Force).Methods(http.MethodPost)

	var handler http.Handler = r
	handler = middleware.MaxBody(rc.Server.MaxBodyBytes)(handler)
	handler = middleware.CORS(rc.Server.CORS)(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Logging(logger, rc.Recorder, routeTemplate(r))(handler)
	handler = middleware.Recovery(logger)(handler)
	return handler
}

// routeTemplate names requests by the path template of the route they
// match, such as "/orgs/{orgID}/pool/{entryID}".
func routeTemplate(r *mux.Router) middleware.RouteFunc {
	return func(req *http.Request) string {
		var match mux.RouteMatch
		if !r.Match(req, &match) || match.Route == nil || match.MatchErr != nil {
			return ""
		}
		tmpl, err := match.Route.GetPathTemplate()
		if err != nil {
			return ""
		}
		return tmpl
	}
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	apiErr := apierror.Newf(apierror.CodeInvalidRequest, "method %s is not allowed on %s", req.Method, req.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_ = json.NewEncoder(w).Encode(apiErr.Response())
}
