package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Well-known keys.
const (
	KeyAuthToken        = "auth.token"
	KeyPushDeviceToken  = "push.device_token"
	KeyOnboardingPrefix = "onboarding."
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Get returns the value stored under key.
func (db *DB) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set inserts or replaces the value under key.
func (db *DB) Set(ctx context.Context, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Flag reads a boolean flag; missing flags are false.
func (db *DB) Flag(ctx context.Context, key string) (bool, error) {
	v, err := db.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetFlag stores a boolean flag.
func (db *DB) SetFlag(ctx context.Context, key string, on bool) error {
	return db.Set(ctx, key, strconv.FormatBool(on))
}
