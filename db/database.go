// Package db persists generation history including connection management,
// async write functionality, and migration support.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Database is the main database organism that composes:
// - SQLite connection with WAL mode (molecule)
// - Migration runner (molecule)
// - Async writer for non-blocking history writes (molecule)
//
// This is an organism-level component that manages the database lifecycle
// including initialization, migration, and graceful shutdown.
//
// Usage:
//
//	db, err := NewDatabase("/path/to/history.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Access underlying connection for repositories
//	conn := db.DB()
type Database struct {
	db             *sql.DB
	path           string
	migrationsPath string
	mu             sync.RWMutex
}

// DatabaseConfig holds configuration for the Database organism.
type DatabaseConfig struct {
	// Path is the database file path
	Path string
	// MigrationsPath is the path to migrations directory (file:// URL format)
	// Default: "file://db/migrations"
	MigrationsPath string
	// ConnectionConfig allows customizing the SQLite connection
	ConnectionConfig *ConnectionConfig
}

// DefaultDatabaseConfig returns sensible defaults for the history database.
func DefaultDatabaseConfig(path string) DatabaseConfig {
	return DatabaseConfig{
		Path:             path,
		MigrationsPath:   "file://db/migrations",
		ConnectionConfig: nil, // Use defaults
	}
}

// NewDatabase creates a new Database instance with default configuration.
// It initializes the connection with WAL mode and foreign keys enabled.
// The database file and its parent directories are created if they don't
// exist. Call Migrate before handing the connection to a Repository.
func NewDatabase(path string) (*Database, error) {
	return NewDatabaseWithConfig(DefaultDatabaseConfig(path))
}

// NewDatabaseWithConfig creates a new Database instance with custom configuration.
//
// Example:
//
//	config := DatabaseConfig{
//	    Path:           "/path/to/history.db",
//	    MigrationsPath: "file://custom/migrations",
//	}
//	db, err := NewDatabaseWithConfig(config)
func NewDatabaseWithConfig(config DatabaseConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(config.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	var connConfig ConnectionConfig
	if config.ConnectionConfig != nil {
		connConfig = *config.ConnectionConfig
	} else {
		connConfig = DefaultConnectionConfig(config.Path)
	}

	conn, err := NewSQLiteConnection(connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	migrationsPath := config.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}

	return &Database{
		db:             conn,
		path:           config.Path,
		migrationsPath: migrationsPath,
	}, nil
}

// Migrate runs all pending database migrations. Safe to call multiple
// times; only migrations that haven't been applied yet are run.
//
// Note: this creates a separate connection for migrations to avoid
// connection ownership issues with golang-migrate.
func (d *Database) Migrate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := MigrateUpFromPath(d.path, d.migrationsPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// MigrateWithPath runs migrations from a specific path.
// Use this when migrations are located in a non-default location.
func (d *Database) MigrateWithPath(migrationsPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := MigrateUpFromPath(d.path, migrationsPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// DB returns the underlying sql.DB connection for use by repositories.
// The returned connection should not be closed directly; use
// Database.Close() instead.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close gracefully closes the database connection.
// After Close is called, the Database instance should not be used.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.db = nil
	return nil
}

// Ping verifies the database connection is alive.
func (d *Database) Ping() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database connection is closed")
	}
	return d.db.Ping()
}

// Stats returns database connection pool statistics.
func (d *Database) Stats() sql.DBStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return sql.DBStats{}
	}
	return d.db.Stats()
}
