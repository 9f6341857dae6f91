package macro

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"
)

// Schema creates the history.db tables. Tests apply it to their own
// temporary databases.
//
//go:embed schema.sql
var Schema string

// Open opens history.db at path, creating tables as needed. History holds
// refreshable provider data and sits outside the managed store set, so this
// package opens it directly.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(24 * time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return db, nil
}
