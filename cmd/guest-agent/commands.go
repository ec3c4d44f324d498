package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/guest-agent/internal/agent"
	"github.com/morezero/guest-agent/internal/config"
	"github.com/morezero/guest-agent/pkg/db"
	"github.com/morezero/guest-agent/pkg/status"
)

func newMigrateCmd(fv *flagValues) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the status database schema",
	}
	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the status schema if needed and apply migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDBConfig(cmd, fv)
			if err != nil {
				return err
			}
			if err := agent.MigrateStatus(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to schema %q.\n", cfg.StatusSchema)
			return nil
		},
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the status table exists and how many migrations are known",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDBConfig(cmd, fv)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.StatusDatabaseURL, db.WithSearchPath(cfg.StatusSchema))
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			applied, count, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema=%s migrations=%d guest_status=%t\n", cfg.StatusSchema, count, applied)
			return nil
		},
	})
	return migrate
}

func newEnsureDBCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db [name]",
		Short: "Create the status database if missing (default: the database in STATUS_DATABASE_URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDBConfig(cmd, fv)
			if err != nil {
				return err
			}
			target := cfg.StatusDatabaseURL
			if len(args) == 1 && args[0] != "" {
				if target, err = withDatabase(target, args[0]); err != nil {
					return err
				}
			}
			if err := db.EnsureDatabase(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database is ready.")
			return nil
		},
	}
}

// withDatabase replaces the database name in a PostgreSQL URL, keeping host, user and query.
func withDatabase(databaseURL, name string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse STATUS_DATABASE_URL: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}

func newClearCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every status row; the schema is preserved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDBConfig(cmd, fv)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.StatusDatabaseURL, db.WithSearchPath(cfg.StatusSchema))
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := db.ClearStatus(ctx, pool); err != nil {
				return fmt.Errorf("clear status: %w", err)
			}
			return nil
		},
	}
}

func newStatusCmd(fv *flagValues) *cobra.Command {
	var stored bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compute this host's status record and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, fv)
			if err != nil {
				return err
			}
			agent.ConfigureLogging(cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var out any
			if stored {
				out, err = storedStatus(ctx, cfg)
			} else {
				out, err = localStatus(ctx, cfg)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&stored, "stored", false, "print the row last written for this host instead of probing")
	return cmd
}

func localStatus(ctx context.Context, cfg *config.Config) (*status.Record, error) {
	probeCfg, err := agent.NewProbeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return status.NewSystemProbe(probeCfg).Compute(ctx)
}

func storedStatus(ctx context.Context, cfg *config.Config) (*db.GuestStatus, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("read hostname: %w", err)
	}
	conn := db.NewStatusConn(cfg.StatusDatabaseURL)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	defer conn.Close(context.Background())

	if err := conn.Exec(ctx, "SET search_path TO "+conn.EscapeIdentifier(cfg.StatusSchema)); err != nil {
		return nil, err
	}
	row, err := conn.GetStatus(ctx, host)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("no status row for host %q", host)
	}
	return row, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), agent.Version)
		},
	}
}

func loadDBConfig(cmd *cobra.Command, fv *flagValues) (*config.Config, error) {
	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	agent.ConfigureLogging(cfg.LogLevel)
	return cfg, nil
}
