package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []dispatch.Call
	reported []dispatch.ClientUsage
	result   *dispatch.Result
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, call dispatch.Call) (*dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func (f *fakeDispatcher) RecordClientUsage(_ context.Context, _ *auth.Principal, u dispatch.ClientUsage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reported = append(f.reported, u)
	return "rec-1", nil
}

type fixture struct {
	dir        *directory.Memory
	ledger     *ledger.Ledger
	evaluator  *budget.Evaluator
	allocator  *pool.Allocator
	sessions   *session.Manager
	verifier   *auth.Verifier
	dispatcher *fakeDispatcher
	logger     *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := directory.NewMemory()
	dir.PutOrganization(directory.Organization{ID: "acme", Status: directory.OrgActive, MonthlyTokenBudget: 1000, ResetDay: 1})
	dir.PutOrganization(directory.Organization{ID: "globex", Status: directory.OrgActive, ResetDay: 1})
	dir.PutWorkspace(directory.Workspace{ID: "research", OrganizationID: "acme", MonthlyTokenBudget: 500, DailyTokenBudget: 100})
	dir.PutWorkspace(directory.Workspace{ID: "sales", OrganizationID: "globex"})
	dir.PutUser(directory.User{ID: "alice", OrganizationID: "acme", Role: directory.RoleMember, APIAccessEnabled: true})
	dir.PutUser(directory.User{ID: "dave", OrganizationID: "acme", Role: directory.RoleMember, APIAccessEnabled: true})
	dir.PutUser(directory.User{ID: "bob", OrganizationID: "acme", Role: directory.RoleOrgAdmin, APIAccessEnabled: true})
	dir.PutUser(directory.User{ID: "carol", OrganizationID: "globex", Role: directory.RoleMember, APIAccessEnabled: true})
	dir.PutUser(directory.User{ID: "root", Role: directory.RoleMember})

	l := ledger.New(memory.NewLedgerStore(), ledger.WithClock(clock), ledger.WithLogger(logger))
	verifier, err := auth.NewVerifier(auth.Config{Secret: testSecret})
	require.NoError(t, err)

	return &fixture{
		dir:        dir,
		ledger:     l,
		evaluator:  budget.NewEvaluator(l, dir, budget.Config{Now: clock, Logger: logger}),
		allocator:  pool.NewAllocator(memory.NewPoolStore(), pool.WithClock(clock), pool.WithLogger(logger)),
		sessions:   session.NewManager(memory.NewSessionStore(), session.Config{TTL: time.Hour, Now: clock, Logger: logger}),
		verifier:   verifier,
		dispatcher: &fakeDispatcher{},
		logger:     logger,
	}
}

func member(id string) *auth.Principal { return &auth.Principal{UserID: id, Role: auth.RoleUser} }

func admin(id string) *auth.Principal { return &auth.Principal{UserID: id, Role: auth.RoleAdmin} }

// do serves one request through h as p, with the given route variables.
func do(t *testing.T, h http.HandlerFunc, p *auth.Principal, method, target, body string, vars map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		Scope        string `json:"scope"`
		PriorSession *struct {
			ID string `json:"id"`
		} `json:"prior_session"`
	} `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, w).Error.Code
}
