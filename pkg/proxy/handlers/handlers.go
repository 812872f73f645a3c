package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/proxy"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Dispatcher runs metered calls. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) (*dispatch.Result, error)
	RecordClientUsage(ctx context.Context, p *auth.Principal, u dispatch.ClientUsage) (string, error)
}

// UsageReader answers usage queries. *ledger.Ledger implements it.
type UsageReader interface {
	Rollup(ctx context.Context, scope ledger.Scope, window ledger.Window) (ledger.Rollup, error)
	Buckets(ctx context.Context, scope ledger.Scope, window ledger.Window, g ledger.Granularity) ([]ledger.Bucket, error)
	History(ctx context.Context, scope ledger.Scope, window ledger.Window, limit int) ([]*ledger.UsageRecord, error)
	Now() time.Time
	Location() *time.Location
}

// LimitsReader reports applicable limits. *budget.Evaluator implements it.
type LimitsReader interface {
	Limits(ctx context.Context, userID, orgID, workspaceID string) ([]budget.LimitStatus, error)
}

// CredentialPool administers credential pools. *pool.Allocator implements
// it.
type CredentialPool interface {
	AddToPool(ctx context.Context, orgID string, cred pool.Credential) (string, error)
	Allocate(ctx context.Context, orgID, userID string) (*pool.CredentialRef, error)
	Release(ctx context.Context, entryID string) error
	Revoke(ctx context.Context, entryID string) error
	Archive(ctx context.Context, entryID string) error
	RemoveFromPool(ctx context.Context, orgID, entryID string) error
	Get(ctx context.Context, entryID string) (*pool.Entry, error)
	List(ctx context.Context, orgID string) ([]*pool.Entry, error)
	BulkAssign(ctx context.Context, orgID string, userIDs []string) *pool.BulkResult
}

// SessionManager enforces one active session per account.
// *session.Manager implements it.
type SessionManager interface {
	Active(ctx context.Context, accountID string) (*session.Session, error)
	CreateSession(ctx context.Context, accountID string, meta session.ClientMeta) (*session.Session, error)
	ForceCreateSession(ctx context.Context, accountID string, meta session.ClientMeta) (*session.Session, *session.Session, error)
	ClearSession(ctx context.Context, accountID string) error
}

// TokenSigner issues session-bound tokens. *auth.Verifier implements it.
type TokenSigner interface {
	Sign(p auth.Principal, ttl time.Duration) (string, error)
}

// principal returns the authenticated caller or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil || p.UserID == "" {
		proxy.WriteError(w, apierror.Unauthenticated("request is not authenticated"))
		return nil, false
	}
	return p, true
}

// writeError writes err and logs it when it maps to a server-side failure.
func writeError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	apiErr := dispatch.Translate(err)
	if apiErr.HTTPStatus() >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed",
			"request_id", logging.RequestID(ctx),
			"code", apiErr.Code,
			"error", err,
		)
	}
	apierror.Write(w, apiErr)
}
