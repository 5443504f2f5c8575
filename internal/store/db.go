// Package store is the profile's small persistent key-value store: the auth
// token, the registered push token and onboarding flags. Conversations and
// messages are never written here.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite-backed key-value store.
type DB struct {
	*sql.DB
}

// Open opens or creates the store at path. The file holds a bearer token,
// so it is restricted to the current user.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open kv store %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restrict kv store permissions: %w", err)
	}
	return &DB{db}, nil
}
