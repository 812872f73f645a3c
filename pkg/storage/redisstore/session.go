// Package redisstore implements session.Storage on Redis, for deployments
// that keep sessions out of the SQL database.
//
// Each account's live session is a single JSON value under
// "<prefix>session:<account>". Writes that depend on the current value run
// in WATCH/MULTI transactions, so a concurrent writer aborts the transaction
// instead of being overwritten. Terminated sessions are pushed onto a capped
// per-account history list.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/storage"
)

// maxWatchAttempts bounds retries of a WATCH transaction that lost a race.
const maxWatchAttempts = 3

// Config configures the Redis session store.
type Config struct {
	// URL is a redis:// connection URL.
	URL string

	// KeyPrefix namespaces every key.
	// Default: "tollgate:"
	KeyPrefix string

	// Linger keeps a session key around after its expiry so the expiry is
	// observed and recorded in the history instead of the key vanishing.
	// Default: 1h
	Linger time.Duration

	// HistoryLimit caps the per-account history list.
	// Default: 50
	HistoryLimit int64
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tollgate:"
	}
	if c.Linger == 0 {
		c.Linger = time.Hour
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 50
	}
}

// SessionStore implements session.Storage.
type SessionStore struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// Open connects to the server at cfg.URL and verifies it with PING.
func Open(ctx context.Context, cfg Config) (*SessionStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, storage.NewError(storage.BackendRedis, "connect", err)
	}

	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config) *SessionStore {
	cfg.applyDefaults()
	return &SessionStore{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "storage.redis"),
	}
}

// Ping verifies the server is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storage.NewError(storage.BackendRedis, "ping", err)
	}
	return nil
}

// Close closes the client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// History returns up to HistoryLimit terminated sessions of accountID,
// newest first.
func (s *SessionStore) History(ctx context.Context, accountID string) ([]*session.Session, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, storage.NewError(storage.BackendRedis, "history", err)
	}
	out := make([]*session.Session, 0, len(raw))
	for _, item := range raw {
		var sess session.Session
		if err := json.Unmarshal([]byte(item), &sess); err != nil {
			return nil, storage.NewError(storage.BackendRedis, "history", err)
		}
		out = append(out, &sess)
	}
	return out, nil
}

// Active returns the account's live session, or nil.
func (s *SessionStore) Active(ctx context.Context, accountID string, now time.Time) (*session.Session, error) {
	cur, err := s.load(ctx, s.client, accountID)
	if err != nil {
		return nil, err
	}
	if cur == nil || !cur.Active(now) {
		return nil, nil
	}
	return cur, nil
}

// Insert stores sess with SET NX.
func (s *SessionStore) Insert(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.AccountID), data, s.keyTTL(sess)).Result()
	if err != nil {
		return storage.NewError(storage.BackendRedis, "insert_session", err)
	}
	if !ok {
		return session.ErrActiveSessionExists
	}
	return nil
}

// Replace terminates the account's session and stores sess atomically.
// A concurrent change to the key aborts the transaction and is reported as
// ErrActiveSessionExists so the caller retries.
func (s *SessionStore) Replace(ctx context.Context, sess *session.Session, now time.Time) (*session.Session, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	key := s.sessionKey(sess.AccountID)
	var prior *session.Session
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		prior = nil
		cur, err := s.load(ctx, tx, sess.AccountID)
		if err != nil {
			return err
		}

		var ended []byte
		if cur != nil {
			reason := session.ReasonTakeover
			if !cur.Active(now) {
				reason = session.ReasonExpired
			}
			prior = terminated(cur, reason, now)
			if ended, err = json.Marshal(prior); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ended != nil {
				s.pushHistory(ctx, pipe, sess.AccountID, ended)
			}
			pipe.Set(ctx, key, data, s.keyTTL(sess))
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, s.mapTxError("replace_session", err)
	}
	return prior, nil
}

// Terminate ends the account's session with reason.
func (s *SessionStore) Terminate(ctx context.Context, accountID string, reason session.TerminationReason, now time.Time) (*session.Session, error) {
	return s.end(ctx, "terminate_session", accountID, now, func(*session.Session) (session.TerminationReason, bool) {
		return reason, true
	})
}

// ExpireAccount terminates the account's session if it has expired.
func (s *SessionStore) ExpireAccount(ctx context.Context, accountID string, now time.Time) error {
	_, err := s.end(ctx, "expire_account", accountID, now, expiredOnly(now))
	return err
}

// ExpireAll scans every session key and terminates the expired ones.
func (s *SessionStore) ExpireAll(ctx context.Context, now time.Time) (int, error) {
	prefix := s.cfg.KeyPrefix + "session:"
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	n := 0
	for iter.Next(ctx) {
		accountID := iter.Val()[len(prefix):]
		ended, err := s.end(ctx, "expire_all", accountID, now, expiredOnly(now))
		if err != nil {
			return n, err
		}
		if ended != nil {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return n, storage.NewError(storage.BackendRedis, "expire_all", err)
	}
	return n, nil
}

// Touch slides the expiry of the account's live session sessionID.
func (s *SessionStore) Touch(ctx context.Context, accountID, sessionID string, now, expiresAt time.Time) (*session.Session, error) {
	key := s.sessionKey(accountID)
	var touched *session.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if cur == nil || cur.ID != sessionID || !cur.Active(now) {
			return session.ErrSessionNotFound
		}

		cur.LastActivityAt = now
		cur.ExpiresAt = expiresAt
		data, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.keyTTL(cur))
			return nil
		})
		touched = cur
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer changed the session; it is no longer the one
			// the caller holds.
			return nil, session.ErrSessionNotFound
		}
		return nil, s.mapTxError("touch_session", err)
	}
	return touched, nil
}

// end terminates the account's session when decide allows it. A
// transaction aborted by a concurrent write is retried against the new
// value.
func (s *SessionStore) end(ctx context.Context, op, accountID string, now time.Time, decide func(*session.Session) (session.TerminationReason, bool)) (*session.Session, error) {
	key := s.sessionKey(accountID)
	var (
		ended *session.Session
		err   error
	)
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			ended = nil
			cur, err := s.load(ctx, tx, accountID)
			if err != nil || cur == nil {
				return err
			}
			reason, ok := decide(cur)
			if !ok {
				return nil
			}

			t := terminated(cur, reason, now)
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				s.pushHistory(ctx, pipe, accountID, data)
				return nil
			})
			ended = t
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, s.mapTxError(op, err)
	}
	return ended, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) load(ctx context.Context, c getter, accountID string) (*session.Session, error) {
	data, err := c.Get(ctx, s.sessionKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.NewError(storage.BackendRedis, "get_session", err)
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, storage.NewError(storage.BackendRedis, "decode_session", err)
	}
	return &sess, nil
}

func (s *SessionStore) pushHistory(ctx context.Context, pipe redis.Pipeliner, accountID string, data []byte) {
	key := s.historyKey(accountID)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.cfg.HistoryLimit-1)
}

// mapTxError passes domain and storage errors through and wraps the rest.
func (s *SessionStore) mapTxError(op string, err error) error {
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return session.ErrActiveSessionExists
	case errors.Is(err, session.ErrSessionNotFound), storage.IsStorageError(err):
		return err
	default:
		return storage.NewError(storage.BackendRedis, op, err)
	}
}

func (s *SessionStore) sessionKey(accountID string) string {
	return s.cfg.KeyPrefix + "session:" + accountID
}

func (s *SessionStore) historyKey(accountID string) string {
	return s.cfg.KeyPrefix + "session-history:" + accountID
}

func (s *SessionStore) keyTTL(sess *session.Session) time.Duration {
	return sess.ExpiresAt.Sub(sess.LastActivityAt) + s.cfg.Linger
}

func terminated(cur *session.Session, reason session.TerminationReason, now time.Time) *session.Session {
	t := *cur
	at := now
	t.TerminatedAt = &at
	t.TerminationReason = reason
	return &t
}

func expiredOnly(now time.Time) func(*session.Session) (session.TerminationReason, bool) {
	return func(cur *session.Session) (session.TerminationReason, bool) {
		return session.ReasonExpired, !now.Before(cur.ExpiresAt)
	}
}
