// Package pg opens the Postgres-backed exchange log.
package pg

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/cardswap/internal/store"
)

// OpenDB creates a sqlx connection to Postgres using the pgx driver.
func OpenDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	slog.Info("postgres connected", "dsn_len", len(dsn))
	return db, nil
}

// OpenExchangeLog connects and ensures the schema exists.
func OpenExchangeLog(ctx context.Context, dsn string) (*store.SQLExchangeLog, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log, err := store.NewSQLExchangeLog(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}
