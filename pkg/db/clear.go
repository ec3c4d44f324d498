package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearStatus removes every guest status row. The schema is preserved.
func ClearStatus(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing guest status table", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE guest_status`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Guest status cleared", clearLogPrefix))
	return nil
}
