package db

import (
	"path/filepath"
	"testing"
)

// TestNewSQLiteConnectionEnablesWAL verifies the pragmas took effect.
func TestNewSQLiteConnectionEnablesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		t.Fatalf("NewSQLiteConnectionWithDefaults() error = %v", err)
	}
	defer conn.Close()

	var journalMode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("journal_mode query error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var foreignKeys int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("foreign_keys query error = %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}
}

// TestNewSQLiteConnectionRequiresPath verifies the empty-path guard.
func TestNewSQLiteConnectionRequiresPath(t *testing.T) {
	if _, err := NewSQLiteConnection(ConnectionConfig{}); err == nil {
		t.Error("NewSQLiteConnection(empty path) error = nil, want error")
	}
}
