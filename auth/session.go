package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/reportmate/fleetgate/cache"
)

var (
	ErrSessionNotFound = errors.New("auth: session not found")
	ErrSessionExpired  = errors.New("auth: session expired")
)

// Session is the opaque record behind one issued token.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SessionStoreOptions struct {
	Prefix     string
	DefaultTTL time.Duration
}

// SessionStore keeps issued session tokens in a cache.Store. Token values are
// random; the store holds only the session metadata keyed by token.
type SessionStore struct {
	store      cache.Store
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
	newToken   func() (string, error)
}

func NewSessionStore(store cache.Store, opts SessionStoreOptions) *SessionStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "session"
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		store:      store,
		prefix:     prefix,
		defaultTTL: ttl,
		now:        time.Now,
		newToken:   randomToken,
	}
}

// WithClock overrides the time source, used by tests.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Create issues a new session token valid for the store's default TTL.
func (s *SessionStore) Create(ctx context.Context) (string, Session, error) {
	token, err := s.newToken()
	if err != nil {
		return "", Session{}, fmt.Errorf("auth: issue session token: %w", err)
	}
	now := s.now()
	session := Session{
		ID:        token[:8],
		CreatedAt: now,
		ExpiresAt: now.Add(s.defaultTTL),
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", Session{}, fmt.Errorf("auth: encode session: %w", err)
	}
	if err := s.store.Set(ctx, s.key(token), payload, s.defaultTTL); err != nil {
		return "", Session{}, fmt.Errorf("auth: store session: %w", err)
	}
	return token, session, nil
}

// Get resolves a session token. Expired or unknown tokens return an error.
func (s *SessionStore) Get(ctx context.Context, token string) (Session, error) {
	payload, err := s.store.Get(ctx, s.key(token))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, fmt.Errorf("auth: decode session: %w", err)
	}
	if !s.now().Before(session.ExpiresAt) {
		_ = s.store.Delete(ctx, s.key(token))
		return Session{}, ErrSessionExpired
	}
	return session, nil
}

// Delete revokes a session token.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.store.Delete(ctx, s.key(token)); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Parse lets the SessionStore serve as a CredentialParser for session tokens.
func (s *SessionStore) Parse(ctx context.Context, raw string) (Principal, error) {
	session, err := s.Get(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Kind: "session", SessionID: session.ID}, nil
}

func (s *SessionStore) key(token string) string {
	return s.prefix + ":" + token
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
