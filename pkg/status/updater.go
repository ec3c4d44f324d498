package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/guest-agent/pkg/db"
)

const logPrefix = "status:updater"

// Conn is the private connection to the status database. db.StatusConn implements it.
type Conn interface {
	Close(ctx context.Context) error
	Open(ctx context.Context) error
	EscapeIdentifier(name string) string
	Exec(ctx context.Context, sql string, args ...any) error
	UpsertStatus(ctx context.Context, row *db.GuestStatus) error
}

// Probe inspects the local host and produces a Record.
type Probe interface {
	Compute(ctx context.Context) (*Record, error)
}

// ProbeFactory returns a new Probe for a single refresh.
type ProbeFactory func() Probe

// RefreshObserver is told about every refresh; rec is nil when err is set before a record exists.
type RefreshObserver interface {
	ObserveRefresh(rec *Record, err error)
}

// UpdaterParams configures an Updater.
type UpdaterParams struct {
	Conn     Conn
	Schema   string
	NewProbe ProbeFactory
	Observer RefreshObserver
}

// Updater writes the local status to the status database. Only the periodic tasker calls
// Refresh, so it needs no locking.
type Updater struct {
	conn     Conn
	schema   string
	newProbe ProbeFactory
	observer RefreshObserver
}

// NewUpdater creates an Updater.
func NewUpdater(params UpdaterParams) *Updater {
	return &Updater{
		conn:     params.Conn,
		schema:   params.Schema,
		newProbe: params.NewProbe,
		observer: params.Observer,
	}
}

// Refresh reopens the connection, selects the schema, computes a fresh Record and upserts it.
// Errors are returned as-is to the caller; nothing is retried.
func (u *Updater) Refresh(ctx context.Context) error {
	rec, err := u.refresh(ctx)
	if u.observer != nil {
		u.observer.ObserveRefresh(rec, err)
	}
	return err
}

func (u *Updater) refresh(ctx context.Context) (*Record, error) {
	if u.newProbe == nil {
		return nil, errors.New(logPrefix + " - no probe factory configured")
	}

	if err := u.conn.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s - close status database: %w", logPrefix, err)
	}
	if err := u.conn.Open(ctx); err != nil {
		return nil, fmt.Errorf("%s - open status database: %w", logPrefix, err)
	}

	if err := u.conn.Exec(ctx, "SET search_path TO "+u.conn.EscapeIdentifier(u.schema)); err != nil {
		return nil, fmt.Errorf("%s - select schema %q: %w", logPrefix, u.schema, err)
	}

	rec, err := u.newProbe().Compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - compute status: %w", logPrefix, err)
	}

	if err := u.conn.UpsertStatus(ctx, rec.Row()); err != nil {
		return rec, fmt.Errorf("%s - write status: %w", logPrefix, err)
	}

	slog.Debug(fmt.Sprintf("%s - Status for %s is %s", logPrefix, rec.HostID, rec.StateDescription))
	return rec, nil
}

// Close releases the connection.
func (u *Updater) Close(ctx context.Context) error {
	return u.conn.Close(ctx)
}
