package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
)

// SessionValidator checks that a session is still the account's active one.
// *session.Manager implements it.
type SessionValidator interface {
	Validate(ctx context.Context, accountID, sessionID string) (*session.Session, error)
}

// Middleware authenticates every request with v. Tokens carrying a session
// id are additionally checked against sessions, when it is non-nil.
func Middleware(v *Verifier, sessions SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			tokenString := bearerToken(r)
			if tokenString == "" {
				apierror.Write(w, apierror.Unauthenticated("missing bearer token"))
				return
			}

			p, err := v.Verify(tokenString)
			if err != nil {
				logger.WarnContext(ctx, "token rejected", "error", err, "path", r.URL.Path)
				apierror.Write(w, apierror.Unauthenticated("invalid or expired token"))
				return
			}

			if p.SessionID != "" && sessions != nil {
				if _, err := sessions.Validate(ctx, p.UserID, p.SessionID); err != nil {
					switch {
					case errors.Is(err, session.ErrSessionNotFound):
						logger.InfoContext(ctx, "session no longer active",
							"user_id", p.UserID,
							"session_id", p.SessionID,
						)
						apierror.Write(w, apierror.Unauthenticated("session is no longer active"))
					case storage.IsStorageError(err):
						apierror.Write(w, apierror.Transient("session store unavailable", err))
					default:
						apierror.Write(w, apierror.From(err))
					}
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
