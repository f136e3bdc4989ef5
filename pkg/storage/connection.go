// Package storage opens the relational store of record and keeps its schema current.
//
// Tenancy, roles, ACL rows and API keys live in one database. Every statement
// issued by the stores is portable between PostgreSQL (production, via lib/pq)
// and SQLite (tests, via go-sqlite3): positional $N placeholders in ascending
// order, timestamps supplied by the caller, no RETURNING clauses.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Open connects to PostgreSQL, configures the pool and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return OpenDriver(ctx, "postgres", cfg.PostgresURL, cfg)
}

// OpenDriver is Open for an arbitrary registered database/sql driver.
func OpenDriver(ctx context.Context, driver, dsn string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	if cfg.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
	}
	if cfg.PostgresMinConns > 0 {
		db.SetMaxIdleConns(cfg.PostgresMinConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx := ctx
	if cfg.PostgresTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PostgresTimeout)
		defer cancel()
	}

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
