package memory

import (
	"context"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/session"
)

// SessionStore implements session.Storage. It keeps the non-terminated
// session of each account plus a history of terminated ones.
type SessionStore struct {
	mu         sync.Mutex
	active     map[string]*session.Session
	terminated []*session.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{active: make(map[string]*session.Session)}
}

// Active returns the account's live session, or nil.
func (s *SessionStore) Active(ctx context.Context, accountID string, now time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.active[accountID]
	if !ok || !cur.Active(now) {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

// Insert stores a new session when the account has none.
func (s *SessionStore) Insert(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[sess.AccountID]; ok {
		return session.ErrActiveSessionExists
	}
	cp := *sess
	s.active[sess.AccountID] = &cp
	return nil
}

// Replace terminates the account's current session and stores sess.
func (s *SessionStore) Replace(ctx context.Context, sess *session.Session, now time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prior *session.Session
	if cur, ok := s.active[sess.AccountID]; ok {
		reason := session.ReasonTakeover
		if !cur.Active(now) {
			reason = session.ReasonExpired
		}
		prior = s.terminateLocked(cur, reason, now)
	}

	cp := *sess
	s.active[sess.AccountID] = &cp
	return prior, nil
}

// Terminate ends the account's current session.
func (s *SessionStore) Terminate(ctx context.Context, accountID string, reason session.TerminationReason, now time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.active[accountID]
	if !ok {
		return nil, nil
	}
	return s.terminateLocked(cur, reason, now), nil
}

// ExpireAccount terminates the account's session if it has expired.
func (s *SessionStore) ExpireAccount(ctx context.Context, accountID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.active[accountID]; ok && !now.Before(cur.ExpiresAt) {
		s.terminateLocked(cur, session.ReasonExpired, now)
	}
	return nil
}

// ExpireAll terminates every expired session.
func (s *SessionStore) ExpireAll(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cur := range s.active {
		if !now.Before(cur.ExpiresAt) {
			s.terminateLocked(cur, session.ReasonExpired, now)
			n++
		}
	}
	return n, nil
}

// Touch slides the expiry of the account's live session sessionID.
func (s *SessionStore) Touch(ctx context.Context, accountID, sessionID string, now, expiresAt time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.active[accountID]
	if !ok || cur.ID != sessionID || !cur.Active(now) {
		return nil, session.ErrSessionNotFound
	}
	cur.LastActivityAt = now
	cur.ExpiresAt = expiresAt
	cp := *cur
	return &cp, nil
}

// History returns the terminated sessions of accountID, oldest first.
func (s *SessionStore) History(accountID string) []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*session.Session
	for _, t := range s.terminated {
		if t.AccountID == accountID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// terminateLocked must be called with s.mu held.
func (s *SessionStore) terminateLocked(cur *session.Session, reason session.TerminationReason, now time.Time) *session.Session {
	at := now
	cur.TerminatedAt = &at
	cur.TerminationReason = reason
	delete(s.active, cur.AccountID)
	s.terminated = append(s.terminated, cur)
	cp := *cur
	return &cp
}
