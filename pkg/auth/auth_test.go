package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "test-secret", Issuer: "tollgate-test", Audience: "tollgate"})
	require.NoError(t, err)
	return v
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Sign(Principal{UserID: "alice", Role: RoleAdmin, SessionID: "s1"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &Principal{UserID: "alice", Role: RoleAdmin, SessionID: "s1"}, p)
	assert.True(t, p.IsAdmin())
}

func TestVerifier_Rejects(t *testing.T) {
	v := newVerifier(t)

	sign := func(method jwt.SigningMethod, key any, claims Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "tollgate-test",
		Audience:  jwt.ClaimStrings{"tollgate"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = ""

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": sign(jwt.SigningMethodHS256, []byte("other"), Claims{RegisteredClaims: valid}),
		"wrong alg":    sign(jwt.SigningMethodHS512, []byte("test-secret"), Claims{RegisteredClaims: valid}),
		"expired":      sign(jwt.SigningMethodHS256, []byte("test-secret"), Claims{RegisteredClaims: expired}),
		"wrong issuer": sign(jwt.SigningMethodHS256, []byte("test-secret"), Claims{RegisteredClaims: wrongIssuer}),
		"no subject":   sign(jwt.SigningMethodHS256, []byte("test-secret"), Claims{RegisteredClaims: noSubject}),
		"unknown role": sign(jwt.SigningMethodHS256, []byte("test-secret"), Claims{Role: "root", RegisteredClaims: valid}),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifier_DefaultRole(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign(Principal{UserID: "bob"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

type fakeSessions struct {
	err   error
	calls int
}

func (f *fakeSessions) Validate(_ context.Context, accountID, sessionID string) (*session.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{ID: sessionID, AccountID: accountID}, nil
}

func serve(t *testing.T, v *Verifier, sessions SessionValidator, authz string) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()
	var got *Principal
	h := Middleware(v, sessions, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/usage/me", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	plain, err := v.Sign(Principal{UserID: "alice"}, time.Minute)
	require.NoError(t, err)
	bound, err := v.Sign(Principal{UserID: "alice", SessionID: "s1"}, time.Minute)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		rec, p := serve(t, v, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthenticated", errorCode(t, rec))
		assert.Nil(t, p)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec, _ := serve(t, v, nil, "Basic "+plain)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		sessions := &fakeSessions{}
		rec, p := serve(t, v, sessions, "Bearer "+plain)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, p)
		assert.Equal(t, "alice", p.UserID)
		assert.Zero(t, sessions.calls)
	})

	t.Run("active session", func(t *testing.T) {
		sessions := &fakeSessions{}
		rec, p := serve(t, v, sessions, "bearer "+bound)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "s1", p.SessionID)
		assert.Equal(t, 1, sessions.calls)
	})

	t.Run("terminated session", func(t *testing.T) {
		rec, _ := serve(t, v, &fakeSessions{err: session.ErrSessionNotFound}, "Bearer "+bound)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session store down", func(t *testing.T) {
		err := storage.NewError(storage.BackendRedis, "get_session", errors.New("connection refused"))
		rec, _ := serve(t, v, &fakeSessions{err: err}, "Bearer "+bound)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "transient_failure", errorCode(t, rec))
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})
}
