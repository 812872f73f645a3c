package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/proxy/handlers"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage/memory"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, call dispatch.Call) (*dispatch.Result, error) {
	if call.Principal.UserID == "panic" {
		panic("dispatcher exploded")
	}
	return &dispatch.Result{StatusCode: http.StatusOK, Body: []byte(`{"choices":[]}`), RecordID: "rec-1"}, nil
}

func (stubDispatcher) RecordClientUsage(context.Context, *auth.Principal, dispatch.ClientUsage) (string, error) {
	return "rec-2", nil
}

type testRouter struct {
	handler   http.Handler
	verifier  *auth.Verifier
	collector *metrics.Collector
}

func newTestRouter(t *testing.T, mutate func(*config.ServerConfig)) *testRouter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(&cfg.Server)
	}

	dir := directory.NewMemory()
	dir.PutOrganization(directory.Organization{ID: "acme", Status: directory.OrgActive, ResetDay: 1})
	dir.PutUser(directory.User{ID: "alice", OrganizationID: "acme", APIAccessEnabled: true})
	dir.PutUser(directory.User{ID: "bob", OrganizationID: "acme", Role: directory.RoleOrgAdmin, APIAccessEnabled: true})

	l := ledger.New(memory.NewLedgerStore(), ledger.WithLogger(logger))
	allocator := pool.NewAllocator(memory.NewPoolStore(), pool.WithLogger(logger))
	sessions := session.NewManager(memory.NewSessionStore(), session.Config{Logger: logger})
	verifier, err := auth.NewVerifier(auth.Config{Secret: testSecret})
	require.NoError(t, err)
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())

	checker := health.New(time.Second)
	checker.RegisterCheck("storage", func(context.Context) error { return nil })

	d := stubDispatcher{}
	handler := NewRouter(RouterConfig{
		Server:      &cfg.Server,
		Health:      &cfg.Telemetry.Health,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Handlers: Handlers{
			Proxy:   handlers.NewProxyHandler(d, logger),
			Usage:   handlers.NewUsageHandler(d, l, budget.NewEvaluator(l, dir, budget.Config{}), dir, logger),
			Pool:    handlers.NewPoolHandler(allocator, dir, logger),
			Session: handlers.NewSessionHandler(sessions, dir, verifier, logger),
		},
		Authenticate: auth.Middleware(verifier, sessions, logger),
		Checker:      checker,
		Metrics:      collector.Handler(),
		Version:      health.VersionHandler("1.2.3", "abc123", "2026-01-01"),
		Recorder:     collector,
		Logger:       logger,
	})

	return &testRouter{handler: handler, verifier: verifier, collector: collector}
}

func (tr *testRouter) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := tr.verifier.Sign(p, time.Hour)
	require.NoError(t, err)
	return tok
}

func (tr *testRouter) serve(method, target, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	tr := newTestRouter(t, nil)

	for _, path := range []string{"/health", "/ready", "/version", "/metrics"} {
		w := tr.serve(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	tr := newTestRouter(t, nil)

	for _, route := range [][2]string{
		{http.MethodPost, "/proxy/chat"},
		{http.MethodGet, "/usage/me"},
		{http.MethodGet, "/orgs/acme/pool"},
		{http.MethodDelete, "/accounts/alice/session"},
	} {
		w := tr.serve(route[0], route[1], "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, route[1])
	}

	w := tr.serve(http.MethodGet, "/usage/me", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_ProxyChat(t *testing.T) {
	tr := newTestRouter(t, nil)
	tok := tr.token(t, auth.Principal{UserID: "alice", Role: auth.RoleUser})

	w := tr.serve(http.MethodPost, "/proxy/chat", tok, `{"model":"gpt-4o"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "rec-1", w.Header().Get("X-Usage-Record-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_PoolRoutesUseTemplates(t *testing.T) {
	tr := newTestRouter(t, nil)
	tok := tr.token(t, auth.Principal{UserID: "bob", Role: auth.RoleUser})

	w := tr.serve(http.MethodPost, "/orgs/acme/pool", tok, `{"secret":"sk-live-router-test"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry pool.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))

	w = tr.serve(http.MethodPost, "/orgs/acme/pool/"+entry.ID+"/archive", tok, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = tr.serve(http.MethodGet, "/orgs/acme/pool", tok, "")
	require.Equal(t, http.StatusOK, w.Code)

	expected := `
		# HELP tollgate_http_requests_total HTTP requests by route and status
		# TYPE tollgate_http_requests_total counter
		tollgate_http_requests_total{method="GET",route="/orgs/{orgID}/pool",status="200"} 1
		tollgate_http_requests_total{method="POST",route="/orgs/{orgID}/pool",status="201"} 1
		tollgate_http_requests_total{method="POST",route="/orgs/{orgID}/pool/{entryID}/archive",status="200"} 1
	`
	assert.NoError(t, testutil.GatherAndCompare(tr.collector.Registry(), strings.NewReader(expected), "tollgate_http_requests_total"))
}

func TestRouter_SessionBoundTokens(t *testing.T) {
	tr := newTestRouter(t, nil)
	plain := tr.token(t, auth.Principal{UserID: "alice", Role: auth.RoleUser})

	w := tr.serve(http.MethodPost, "/accounts/alice/session", plain, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created handlers.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)

	w = tr.serve(http.MethodGet, "/accounts/alice/session", created.Token, "")
	require.Equal(t, http.StatusOK, w.Code)

	// A takeover from another client invalidates the first token.
	w = tr.serve(http.MethodPost, "/accounts/alice/session/force", plain, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = tr.serve(http.MethodGet, "/accounts/alice/session", created.Token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	tr := newTestRouter(t, nil)
	tok := tr.token(t, auth.Principal{UserID: "alice", Role: auth.RoleUser})

	w := tr.serve(http.MethodGet, "/nope", tok, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)

	w = tr.serve(http.MethodGet, "/proxy/chat", tok, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), `"invalid_request"`)
}

func TestRouter_BodyLimit(t *testing.T) {
	tr := newTestRouter(t, func(s *config.ServerConfig) { s.MaxBodyBytes = 32 })
	tok := tr.token(t, auth.Principal{UserID: "alice", Role: auth.RoleUser})

	w := tr.serve(http.MethodPost, "/proxy/chat", tok, `{"model":"gpt-4o","messages":[{"role":"user","content":"hello there"}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 32 bytes")
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	tr := newTestRouter(t, nil)
	tok := tr.token(t, auth.Principal{UserID: "panic", Role: auth.RoleUser})

	w := tr.serve(http.MethodPost, "/proxy/chat", tok, `{}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"internal_error"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	tr := newTestRouter(t, func(s *config.ServerConfig) {
		s.CORS.Enabled = true
		s.CORS.AllowedOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/proxy/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
