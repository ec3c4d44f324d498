package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const statusConnLogPrefix = "db:status_conn"

// ErrNotOpen is returned when a StatusConn is used before Open.
var ErrNotOpen = errors.New("status connection is not open")

// StatusConn is a single, privately owned connection to the status database. It is closed
// and reopened by its owner on every refresh and is not safe for concurrent use.
type StatusConn struct {
	databaseURL string
	conn        *pgx.Conn
}

// NewStatusConn returns an unopened connection to databaseURL.
func NewStatusConn(databaseURL string) *StatusConn {
	return &StatusConn{databaseURL: databaseURL}
}

// Open connects. A connection that is already open is closed first.
func (c *StatusConn) Open(ctx context.Context) error {
	if c.IsOpen() {
		if err := c.Close(ctx); err != nil {
			return err
		}
	}
	conn, err := pgx.Connect(ctx, c.databaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect: %w", statusConnLogPrefix, err)
	}
	c.conn = conn
	slog.Debug(fmt.Sprintf("%s - Connection opened", statusConnLogPrefix))
	return nil
}

// Close disconnects. Closing a connection that is not open is a no-op.
func (c *StatusConn) Close(ctx context.Context) error {
	if !c.IsOpen() {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("%s - failed to close: %w", statusConnLogPrefix, err)
	}
	return nil
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (c *StatusConn) IsOpen() bool {
	return c.conn != nil
}

// EscapeIdentifier quotes name for use as an SQL identifier.
func (c *StatusConn) EscapeIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Exec runs a statement that returns no rows.
func (c *StatusConn) Exec(ctx context.Context, sql string, args ...any) error {
	if !c.IsOpen() {
		return fmt.Errorf("%s - exec: %w", statusConnLogPrefix, ErrNotOpen)
	}
	if _, err := c.conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s - exec failed: %w", statusConnLogPrefix, err)
	}
	return nil
}

// UpsertStatus inserts the row for s.HostID or replaces its columns.
func (c *StatusConn) UpsertStatus(ctx context.Context, s *GuestStatus) error {
	if !c.IsOpen() {
		return fmt.Errorf("%s - upsert: %w", statusConnLogPrefix, ErrNotOpen)
	}
	_, err := c.conn.Exec(ctx, `
		INSERT INTO guest_status (
			host_id, address, state, state_description,
			mem_used_percent, load1, disk_used_percent, agent_version, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (host_id) DO UPDATE SET
			address = EXCLUDED.address,
			state = EXCLUDED.state,
			state_description = EXCLUDED.state_description,
			mem_used_percent = EXCLUDED.mem_used_percent,
			load1 = EXCLUDED.load1,
			disk_used_percent = EXCLUDED.disk_used_percent,
			agent_version = EXCLUDED.agent_version,
			observed_at = EXCLUDED.observed_at,
			modified = now()`,
		s.HostID, s.Address, s.State, s.StateDescription,
		s.MemUsedPercent, s.Load1, s.DiskUsedPercent, s.AgentVersion, s.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("%s - upsert %s failed: %w", statusConnLogPrefix, s.HostID, err)
	}
	return nil
}

// GetStatus reads the row for hostID, or nil when none exists.
func (c *StatusConn) GetStatus(ctx context.Context, hostID string) (*GuestStatus, error) {
	if !c.IsOpen() {
		return nil, fmt.Errorf("%s - get: %w", statusConnLogPrefix, ErrNotOpen)
	}
	var s GuestStatus
	err := c.conn.QueryRow(ctx, `
		SELECT host_id, address, state, state_description,
		       mem_used_percent, load1, disk_used_percent, agent_version, observed_at, modified
		FROM guest_status WHERE host_id = $1`, hostID,
	).Scan(&s.HostID, &s.Address, &s.State, &s.StateDescription,
		&s.MemUsedPercent, &s.Load1, &s.DiskUsedPercent, &s.AgentVersion, &s.ObservedAt, &s.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get %s failed: %w", statusConnLogPrefix, hostID, err)
	}
	return &s, nil
}
