package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/proxy/handlers"
)

func (f *fixture) poolHandler() *handlers.PoolHandler {
	return handlers.NewPoolHandler(f.allocator, f.dir, f.logger)
}

func addCredential(t *testing.T, h *handlers.PoolHandler, org, secret string) *pool.Entry {
	t.Helper()
	w := do(t, h.Add, member("bob"), http.MethodPost, "/orgs/"+org+"/pool",
		`{"secret":"`+secret+`","display_name":"team key"}`, map[string]string{"orgID": org})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	entry := decode[pool.Entry](t, w)
	return &entry
}

func TestPoolHandler_AddAndList(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()

	entry := addCredential(t, h, "acme", "sk-live-secret-one")
	assert.Equal(t, pool.StateAvailable, entry.State)
	assert.Equal(t, "acme", entry.OrganizationID)

	w := do(t, h.List, member("bob"), http.MethodGet, "/orgs/acme/pool", "", map[string]string{"orgID": "acme"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-live-secret-one")
	list := decode[handlers.ListResponse](t, w)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, entry.ID, list.Entries[0].ID)

	t.Run("duplicate credential", func(t *testing.T) {
		w := do(t, h.Add, member("bob"), http.MethodPost, "/orgs/acme/pool",
			`{"secret":"sk-live-secret-one"}`, map[string]string{"orgID": "acme"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "conflict", errorCode(t, w))
	})
}

func TestPoolHandler_Authorization(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	vars := map[string]string{"orgID": "acme"}

	w := do(t, h.List, member("alice"), http.MethodGet, "/orgs/acme/pool", "", vars)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h.List, member("bob"), http.MethodGet, "/orgs/globex/pool", "", map[string]string{"orgID": "globex"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h.List, admin("root"), http.MethodGet, "/orgs/acme/pool", "", vars)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.List, admin("root"), http.MethodGet, "/orgs/initech/pool", "", map[string]string{"orgID": "initech"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPoolHandler_AssignExhaustsPool(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	entry := addCredential(t, h, "acme", "sk-live-only-key")

	w := do(t, h.Assign, member("bob"), http.MethodPut, "/orgs/acme/users/alice/credential", "",
		map[string]string{"orgID": "acme", "userID": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entry.ID, decode[pool.CredentialRef](t, w).EntryID)
	assert.NotContains(t, w.Body.String(), "sk-live-only-key")

	w = do(t, h.Assign, member("bob"), http.MethodPut, "/orgs/acme/users/dave/credential", "",
		map[string]string{"orgID": "acme", "userID": "dave"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "pool_exhausted", errorCode(t, w))

	w = do(t, h.Assign, member("bob"), http.MethodPut, "/orgs/acme/users/carol/credential", "",
		map[string]string{"orgID": "acme", "userID": "carol"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPoolHandler_Transitions(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	entry := addCredential(t, h, "acme", "sk-live-rotating")
	vars := map[string]string{"orgID": "acme", "entryID": entry.ID}

	w := do(t, h.Assign, member("bob"), http.MethodPut, "/orgs/acme/users/alice/credential", "",
		map[string]string{"orgID": "acme", "userID": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.Release, member("bob"), http.MethodPost, "/release", "", vars)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, pool.StateAvailable, decode[pool.Entry](t, w).State)

	w = do(t, h.Revoke, member("bob"), http.MethodPost, "/revoke", "", vars)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pool.StateRevoked, decode[pool.Entry](t, w).State)

	// Revoking twice is a no-op.
	w = do(t, h.Revoke, member("bob"), http.MethodPost, "/revoke", "", vars)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.Archive, member("bob"), http.MethodPost, "/archive", "", vars)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h.Remove, member("bob"), http.MethodDelete, "/", "", vars)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPoolHandler_EntriesOfOtherOrganizations(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	entry := addCredential(t, h, "acme", "sk-live-acme")

	w := do(t, h.Revoke, admin("root"), http.MethodPost, "/revoke", "",
		map[string]string{"orgID": "globex", "entryID": entry.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h.Archive, member("bob"), http.MethodPost, "/archive", "",
		map[string]string{"orgID": "acme", "entryID": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPoolHandler_RemoveAvailable(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	entry := addCredential(t, h, "acme", "sk-live-spare")

	w := do(t, h.Remove, member("bob"), http.MethodDelete, "/", "", map[string]string{"orgID": "acme", "entryID": entry.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h.List, member("bob"), http.MethodGet, "/", "", map[string]string{"orgID": "acme"})
	assert.Empty(t, decode[handlers.ListResponse](t, w).Entries)
}

func TestPoolHandler_BulkAssign(t *testing.T) {
	f := newFixture(t)
	h := f.poolHandler()
	addCredential(t, h, "acme", "sk-live-bulk-1")
	vars := map[string]string{"orgID": "acme"}

	w := do(t, h.BulkAssign, member("bob"), http.MethodPost, "/orgs/acme/assignments",
		`{"user_ids":["alice","dave","carol","alice"]}`, vars)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode[pool.BulkResult](t, w)
	require.Len(t, result.Assigned, 1)
	assert.Equal(t, "alice", result.Assigned[0].UserID)

	failed := map[string]string{}
	for _, fl := range result.Failed {
		failed[fl.UserID] = fl.Reason
	}
	assert.Len(t, failed, 2)
	assert.Contains(t, failed, "dave")
	assert.Contains(t, failed["carol"], "not a member")

	w = do(t, h.BulkAssign, member("bob"), http.MethodPost, "/orgs/acme/assignments", `{"user_ids":[]}`, vars)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
