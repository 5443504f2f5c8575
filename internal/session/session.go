package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/store"
	"go.uber.org/zap"
)

// ErrNoSession is returned when an operation needs a logged-in user.
var ErrNoSession = errors.New("not logged in")

// TokenStore persists the auth token across restarts.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

const tokenKey = store.KeyAuthToken

// Session is the explicit auth context handed to the API client and the chat
// components. Initialize and Teardown bracket a login.
type Session struct {
	mu        sync.RWMutex
	token     string
	userID    string
	expiresAt time.Time

	store      TokenStore
	clock      clockwork.Clock
	logger     *zap.Logger
	teardownFn []func(context.Context)
}

// New creates an empty session backed by store.
func New(store TokenStore, clock clockwork.Clock, logger *zap.Logger) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{store: store, clock: clock, logger: logger}
}

// Restore loads a previously persisted token. A missing or unreadable token
// leaves the session logged out without error.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	token, err := s.store.Get(ctx, tokenKey)
	if err != nil || token == "" {
		return nil
	}
	if err := s.set(token); err != nil {
		s.logger.Warn("discarding stored token", zap.Error(err))
		return s.store.Delete(ctx, tokenKey)
	}
	s.logger.Info("session restored", zap.String("user_id", s.UserID()))
	return nil
}

// Initialize logs in with token, persisting it for later runs.
func (s *Session) Initialize(ctx context.Context, token string) error {
	if err := s.set(token); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, tokenKey, token); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
	}
	s.logger.Info("session initialized", zap.String("user_id", s.UserID()))
	return nil
}

// OnTeardown registers fn to run on logout, before the token is cleared.
func (s *Session) OnTeardown(fn func(context.Context)) {
	s.mu.Lock()
	s.teardownFn = append(s.teardownFn, fn)
	s.mu.Unlock()
}

// Teardown logs out: registered hooks run first (so they can still call the
// API), then the token is forgotten locally and in the store.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.RLock()
	hooks := append([]func(context.Context){}, s.teardownFn...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx)
	}

	s.mu.Lock()
	s.token, s.userID, s.expiresAt = "", "", time.Time{}
	s.mu.Unlock()

	if s.store != nil {
		return s.store.Delete(ctx, tokenKey)
	}
	return nil
}

// Token returns the bearer token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the logged-in user's ID.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// ExpiresAt returns the token expiry, zero if the token has none.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Active reports whether a non-expired token is held.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return s.expiresAt.IsZero() || s.clock.Now().Before(s.expiresAt)
}

// set parses token claims without verifying the signature; the API verifies
// tokens, the client only needs the subject and expiry.
func (s *Session) set(token string) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return errors.New("parse token: missing sub claim")
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.token = token
	s.userID = claims.Subject
	s.expiresAt = exp
	s.mu.Unlock()
	return nil
}
