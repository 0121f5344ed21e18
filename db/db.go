// ABOUTME: Database connection management and initialization
// ABOUTME: Opens the lifecycle SQLite database with WAL mode and schema
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDatabase opens (creating if needed) the lifecycle database at path.
func OpenDatabase(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// WAL mode plus a busy timeout so a manual transition racing the
	// orchestrator waits instead of failing immediately.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Single connection avoids SQLITE_BUSY between the engine's own writers.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
