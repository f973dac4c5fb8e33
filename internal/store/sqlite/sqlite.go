// Package sqlite opens the SQLite-backed exchange log.
package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/cardswap/internal/store"
)

// OpenExchangeLog opens (creating if needed) the database file at path.
func OpenExchangeLog(ctx context.Context, path string) (*store.SQLExchangeLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; readers share the WAL.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	log, err := store.NewSQLExchangeLog(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}
