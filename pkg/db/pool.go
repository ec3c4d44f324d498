// Package db provides PostgreSQL access via pgx: pools, the status connection, migrations
// and the local administration store.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolOption adjusts a pool configuration before connecting.
type PoolOption func(*pgxpool.Config)

// WithSearchPath makes every pooled connection resolve unqualified names in schema.
func WithSearchPath(schema string) PoolOption {
	return func(c *pgxpool.Config) {
		if schema == "" {
			return
		}
		c.ConnConfig.RuntimeParams["search_path"] = pgx.Identifier{schema}.Sanitize()
	}
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		c.MaxConns = n
		if c.MinConns > n {
			c.MinConns = n
		}
	}
}

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = 4
	config.MinConns = 0
	for _, opt := range opts {
		opt(config)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// EnsureSchema creates schema if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if schema == "" || schema == "public" {
		return nil
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("%s - failed to create schema %q: %w", logPrefix, schema, err)
	}
	return nil
}

// RunMigrations applies SQL migration files in order. Every migration is idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrationFiles)))

	for _, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration failed: %w", logPrefix, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// MigrationStatus reports whether the guest_status table exists in the pool's search path.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (bool, int, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx, `SELECT to_regclass('guest_status') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return false, 0, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return false, 0, fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}
	return exists, len(files), nil
}
