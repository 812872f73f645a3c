package dispatch

import (
	"context"
	"errors"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
	"mercator-hq/tollgate/pkg/upstream"
)

// Translate maps a domain, storage or upstream error onto the caller-facing
// taxonomy. Errors that already carry an *apierror.Error are returned as
// is; unknown errors become internal errors.
func Translate(err error) *apierror.Error {
	if err == nil {
		return nil
	}

	var (
		apiErr      *apierror.Error
		conflict    *session.ConflictError
		notFound    *directory.NotFoundError
		providerErr *upstream.ProviderError
		timeoutErr  *upstream.TimeoutError
		transport   *upstream.TransportError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr

	case errors.As(err, &conflict):
		return apierror.SessionConflict(conflict.AccountID, SessionInfo(conflict.Prior))
	case errors.Is(err, session.ErrActiveSessionExists):
		return apierror.New(apierror.CodeSessionConflict, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		return apierror.New(apierror.CodeNotFound, err.Error())

	case errors.As(err, &notFound):
		return apierror.NotFound(notFound.Kind, notFound.ID)
	case errors.Is(err, pool.ErrEntryNotFound):
		return apierror.New(apierror.CodeNotFound, err.Error())
	case errors.Is(err, pool.ErrDuplicateCredential),
		errors.Is(err, pool.ErrEntryInUse),
		errors.Is(err, pool.ErrInvalidTransition),
		errors.Is(err, pool.ErrAssignmentConflict):
		return apierror.Wrap(apierror.CodeConflict, err.Error(), err)

	case errors.Is(err, pool.ErrInvalidCredential),
		errors.Is(err, ledger.ErrInvalidRecord),
		errors.Is(err, ledger.ErrInvalidQuery):
		return apierror.Wrap(apierror.CodeInvalidRequest, err.Error(), err)

	case errors.As(err, &providerErr):
		return apierror.Upstream(providerErr.StatusCode, providerErr.Message, err)
	case errors.As(err, &timeoutErr):
		return apierror.Transient("upstream request timed out", err)
	case errors.As(err, &transport):
		return apierror.Transient("upstream request failed", err)

	case storage.IsStorageError(err), errors.Is(err, storage.ErrClosed):
		return apierror.Transient("storage is temporarily unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apierror.Transient("operation timed out", err)

	default:
		return apierror.From(err)
	}
}

// SessionInfo converts a session into the metadata attached to session
// errors and takeover responses.
func SessionInfo(s *session.Session) *apierror.SessionInfo {
	if s == nil {
		return nil
	}
	return &apierror.SessionInfo{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ClientIP:       s.ClientIP,
		UserAgent:      s.UserAgent,
	}
}

// decisionError converts a denied budget decision.
func decisionError(d *budget.Decision) *apierror.Error {
	scope := string(d.Scope)
	switch d.Code {
	case budget.DenyBudgetExceeded:
		return apierror.BudgetExceeded(scope, d.ScopeID, d.Limit, d.Used, d.Reason)
	case budget.DenyAccountDisabled:
		return apierror.AccountDisabled(scope, d.ScopeID, d.Reason)
	case budget.DenyNotFound:
		e := apierror.New(apierror.CodeNotFound, d.Reason)
		e.Scope, e.ScopeID = scope, d.ScopeID
		return e
	default:
		return apierror.Newf(apierror.CodeInternal, "unknown budget denial %q", d.Code)
	}
}
