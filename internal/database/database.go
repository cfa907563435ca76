// Package database owns the pgx pool and the embedded schema migration.
package database

import (
	"context"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN. Every
// connection registers the shopspring decimal codec so material quantities
// scan into decimal.Decimal without float round-trips.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Having the migration in code
// keeps the demo self-contained so docker-compose can bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS ifc_files (
	id UUID PRIMARY KEY,
	original_filename TEXT NOT NULL,
	object_key TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	project_id UUID NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ifc_files_project ON ifc_files(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ifc_files_status ON ifc_files(status, updated_at);

CREATE TABLE IF NOT EXISTS materials (
	id UUID PRIMARY KEY,
	ifc_file_id UUID NOT NULL REFERENCES ifc_files(id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	quantity NUMERIC(14,4) NOT NULL,
	unit TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_materials_file ON materials(ifc_file_id);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
