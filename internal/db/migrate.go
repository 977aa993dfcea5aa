package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/db/migrations"
)

// MigrateUp applies every pending migration for the given driver.
func MigrateUp(db *sql.DB, driver string) error {
	return runMigrations(db, driver, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back every applied migration for the given driver.
func MigrateDown(db *sql.DB, driver string) error {
	return runMigrations(db, driver, func(m *migrate.Migrate) error { return m.Down() })
}

func runMigrations(db *sql.DB, driver string, step func(*migrate.Migrate) error) error {
	var (
		dbDriver database.Driver
		err      error
	)
	source := migrations.Postgres
	dir := "postgres"

	switch driver {
	case config.DriverSQLite:
		source = migrations.SQLite
		dir = "sqlite"
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case config.DriverPostgres, "":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("init migration driver failed: %w", err)
	}

	sourceDriver, err := iofs.New(source, dir)
	if err != nil {
		return fmt.Errorf("init migration source failed: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	// Closing a migrator closes the *sql.DB given to WithInstance. The sqlite
	// callers keep using their handle (an in-memory database lives only as
	// long as it), so that migrator is left open; postgres callers hand over
	// a handle they close anyway.
	if driver != config.DriverSQLite {
		defer func() {
			_, _ = migrator.Close()
		}()
	}

	if err := step(migrator); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}
