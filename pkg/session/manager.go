package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxReplaceAttempts bounds ForceCreateSession retries when concurrent
// takeovers of the same account race each other.
const maxReplaceAttempts = 3

// Observer receives session events. The metrics collector implements it.
type Observer interface {
	ObserveSessionEvent(event string)
}

// Config configures a Manager.
type Config struct {
	// TTL is the idle lifetime of a session. Validate extends it.
	// Default: 12h
	TTL time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time

	Logger   *slog.Logger
	Observer Observer
}

// Manager enforces at most one active session per account.
type Manager struct {
	storage  Storage
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// NewManager creates a Manager on top of storage.
func NewManager(storage Storage, cfg Config) *Manager {
	m := &Manager{
		storage:  storage,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if m.ttl <= 0 {
		m.ttl = 12 * time.Hour
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// HasActiveSession reports whether accountID has an active session.
func (m *Manager) HasActiveSession(ctx context.Context, accountID string) (bool, error) {
	s, err := m.storage.Active(ctx, accountID, m.now().UTC())
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

// Active returns the active session of accountID, or nil.
func (m *Manager) Active(ctx context.Context, accountID string) (*Session, error) {
	return m.storage.Active(ctx, accountID, m.now().UTC())
}

// CreateSession opens a session for accountID. When the account already
// has an active session it fails with a *ConflictError carrying that
// session. Of two concurrent calls for an account without a session,
// exactly one succeeds.
func (m *Manager) CreateSession(ctx context.Context, accountID string, meta ClientMeta) (*Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	now := m.now().UTC()
	if err := m.storage.ExpireAccount(ctx, accountID, now); err != nil {
		return nil, err
	}

	s := m.newSession(accountID, meta, now)
	err := m.storage.Insert(ctx, s)
	if errors.Is(err, ErrActiveSessionExists) {
		prior, lookupErr := m.storage.Active(ctx, accountID, now)
		if lookupErr != nil {
			return nil, lookupErr
		}
		m.observe("conflict")
		m.logger.InfoContext(ctx, "session conflict", "account_id", accountID)
		return nil, &ConflictError{AccountID: accountID, Prior: prior}
	}
	if err != nil {
		return nil, err
	}

	m.observe("created")
	m.logger.InfoContext(ctx, "session created",
		"account_id", accountID,
		"session_id", s.ID,
		"client_ip", meta.IP,
	)
	return s, nil
}

// ForceCreateSession terminates any existing session of accountID and opens
// a new one. It returns the new session and the previously active session,
// or nil when there was none.
func (m *Manager) ForceCreateSession(ctx context.Context, accountID string, meta ClientMeta) (*Session, *Session, error) {
	if accountID == "" {
		return nil, nil, fmt.Errorf("account id is required")
	}

	var lastErr error
	for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
		now := m.now().UTC()
		s := m.newSession(accountID, meta, now)

		prior, err := m.storage.Replace(ctx, s, now)
		if errors.Is(err, ErrActiveSessionExists) {
			lastErr = err
			m.logger.DebugContext(ctx, "session takeover raced, retrying",
				"account_id", accountID,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if prior != nil && prior.TerminationReason != ReasonTakeover {
			prior = nil
		}

		m.observe("takeover")
		attrs := []any{"account_id", accountID, "session_id", s.ID}
		if prior != nil {
			attrs = append(attrs, "prior_session_id", prior.ID)
		}
		m.logger.InfoContext(ctx, "session force-created", attrs...)
		return s, prior, nil
	}

	return nil, nil, fmt.Errorf("force create session for %s: %w", accountID, lastErr)
}

// ClearSession terminates the active session of accountID. It is a no-op
// when there is none.
func (m *Manager) ClearSession(ctx context.Context, accountID string) error {
	s, err := m.storage.Terminate(ctx, accountID, ReasonLogout, m.now().UTC())
	if err != nil {
		return err
	}
	if s != nil {
		m.observe("cleared")
		m.logger.InfoContext(ctx, "session cleared",
			"account_id", accountID,
			"session_id", s.ID,
		)
	}
	return nil
}

// Validate checks that sessionID is the active session of accountID and
// slides its expiry forward.
func (m *Manager) Validate(ctx context.Context, accountID, sessionID string) (*Session, error) {
	now := m.now().UTC()
	return m.storage.Touch(ctx, accountID, sessionID, now, now.Add(m.ttl))
}

// SweepExpired terminates every expired session.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.storage.ExpireAll(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.observe("expired")
	}
	return n, nil
}

func (m *Manager) newSession(accountID string, meta ClientMeta, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
		ClientIP:       meta.IP,
		UserAgent:      meta.UserAgent,
	}
}

func (m *Manager) observe(event string) {
	if m.observer != nil {
		m.observer.ObserveSessionEvent(event)
	}
}
