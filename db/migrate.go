// Package db persists generation history.
//
// migrate.go runs schema migrations via golang-migrate with the file
// source driver.
package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file" // File source driver
)

// MigrateUp applies all pending up migrations. A database with nothing
// pending is not an error.
//
// The migrator takes ownership of the connection and closes it; do not
// reuse the connection afterwards.
func MigrateUp(conn *sql.DB, migrationsPath string) error {
	m, err := newMigrator(conn, migrationsPath)
	if err != nil {
		return fmt.Errorf("db: failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the given number of migrations; -1 rolls back
// everything. Nothing to roll back is not an error.
func MigrateDown(conn *sql.DB, migrationsPath string, steps int) error {
	m, err := newMigrator(conn, migrationsPath)
	if err != nil {
		return fmt.Errorf("db: failed to create migrator: %w", err)
	}
	defer m.Close()

	var migrateErr error
	if steps == -1 {
		migrateErr = m.Down()
	} else {
		migrateErr = m.Steps(-steps)
	}
	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		return fmt.Errorf("db: failed to roll back migrations: %w", migrateErr)
	}
	return nil
}

// MigrateUpFromPath opens its own connection to the database file and
// applies all pending up migrations. Use this when the main connection
// must stay open, since the migrator closes the connection it is given.
func MigrateUpFromPath(dbPath, migrationsPath string) error {
	conn, err := NewSQLiteConnectionWithDefaults(dbPath)
	if err != nil {
		return fmt.Errorf("db: failed to open migration connection: %w", err)
	}
	return MigrateUp(conn, migrationsPath)
}

func newMigrator(conn *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	if conn == nil {
		return nil, errors.New("database connection is required")
	}
	if migrationsPath == "" {
		return nil, errors.New("migrations path is required")
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	return migrate.NewWithDatabaseInstance(migrationsPath, "sqlite", driver)
}
