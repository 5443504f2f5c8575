package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/handychat/internal/store/migrations"
)

// MigrateResult reports the kv schema version after Migrate.
type MigrateResult struct {
	Version uint
	Dirty   bool
	// Changed is set when at least one migration was applied.
	Changed bool
}

// Migrate applies the embedded kv schema migrations. Running it on every
// start is cheap: an up-to-date store reports Changed=false.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	before, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate kv schema from version %d: %w", before, err)
	}
	after, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read kv schema version: %w", err)
	}
	return &MigrateResult{Version: after, Dirty: dirty, Changed: after != before}, nil
}

// migrator binds the embedded migrations to this connection. It is not
// closed: closing the driver would close db itself.
func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("kv migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("kv migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("kv migrator: %w", err)
	}
	return m, nil
}

// schemaVersion returns 0 for a store that was never migrated.
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read kv schema version: %w", err)
	}
	return v, nil
}
