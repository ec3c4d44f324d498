package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const adminLogPrefix = "db:admin_store"

// AdminStore runs administrative statements against the local database server. The pool is
// opened on first use, so an agent on a guest without a database server starts cleanly.
type AdminStore struct {
	databaseURL string
	pool        *pgxpool.Pool
}

// NewAdminStore returns a store for databaseURL without connecting.
func NewAdminStore(databaseURL string) *AdminStore {
	return &AdminStore{databaseURL: databaseURL}
}

func (s *AdminStore) acquire(ctx context.Context) (*pgxpool.Pool, error) {
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := NewPool(ctx, s.databaseURL, WithMaxConns(2))
	if err != nil {
		return nil, fmt.Errorf("%s - local database unavailable: %w", adminLogPrefix, err)
	}
	s.pool = pool
	return pool, nil
}

// Exec runs a statement that returns no rows.
func (s *AdminStore) Exec(ctx context.Context, sql string, args ...any) error {
	pool, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s - exec failed: %w", adminLogPrefix, err)
	}
	return nil
}

// QueryStrings returns the first column of every row.
func (s *AdminStore) QueryStrings(ctx context.Context, sql string, args ...any) ([]string, error) {
	pool, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - query failed: %w", adminLogPrefix, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", adminLogPrefix, err)
	}
	return out, nil
}

// QueryBool returns the single boolean produced by sql.
func (s *AdminStore) QueryBool(ctx context.Context, sql string, args ...any) (bool, error) {
	pool, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	var v bool
	if err := pool.QueryRow(ctx, sql, args...).Scan(&v); err != nil {
		return false, fmt.Errorf("%s - query failed: %w", adminLogPrefix, err)
	}
	return v, nil
}

// QuoteIdentifier quotes name for use as an SQL identifier.
func (s *AdminStore) QuoteIdentifier(name string) string {
	return quoteIdent(name)
}

// QuoteLiteral quotes v as a string literal for statements that take no parameters, such as
// CREATE ROLE ... PASSWORD. The server runs with standard_conforming_strings.
func (s *AdminStore) QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// Close releases the pool if it was opened.
func (s *AdminStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
