package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]string{}
	}
	s.m[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestInitializeAndRestore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &memStore{}
	token := signToken(t, "user-42", clock.Now().Add(time.Hour))

	s := New(store, clock, nil)
	require.NoError(t, s.Initialize(ctx, token))
	assert.Equal(t, "user-42", s.UserID())
	assert.True(t, s.Active())

	restored := New(store, clock, nil)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, token, restored.Token())
	assert.Equal(t, "user-42", restored.UserID())

	clock.Advance(2 * time.Hour)
	assert.False(t, restored.Active(), "expired token should not be active")
}

func TestInitializeRejectsGarbage(t *testing.T) {
	s := New(&memStore{}, nil, nil)
	assert.Error(t, s.Initialize(context.Background(), "not-a-jwt"))
	assert.False(t, s.Active())

	noSub := signToken(t, "", time.Time{})
	assert.Error(t, s.Initialize(context.Background(), noSub))
}

func TestRestoreDropsCorruptToken(t *testing.T) {
	store := &memStore{m: map[string]string{tokenKey: "garbage"}}
	s := New(store, nil, nil)
	require.NoError(t, s.Restore(context.Background()))
	assert.False(t, s.Active())
	_, err := store.Get(context.Background(), tokenKey)
	assert.Error(t, err, "corrupt token should be deleted")
}

func TestTeardownRunsHooksBeforeClearing(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := New(store, nil, nil)
	require.NoError(t, s.Initialize(ctx, signToken(t, "u1", time.Time{})))

	var sawToken string
	s.OnTeardown(func(context.Context) { sawToken = s.Token() })

	require.NoError(t, s.Teardown(ctx))
	assert.NotEmpty(t, sawToken, "hook should run while the token is still set")
	assert.Empty(t, s.Token())
	assert.False(t, s.Active())
	_, err := store.Get(ctx, tokenKey)
	assert.Error(t, err)
}
