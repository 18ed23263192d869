package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/guestlink-core/internal/infrastructure/config"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/database"
)

// errHistoryDisabled is returned by migrate when database.enabled is false.
var errHistoryDisabled = errors.New("report history is disabled (database.enabled: false)")

// migrateCmd manages the report history schema outside of serve, which
// only ever migrates up.
func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the report history schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(c *cobra.Command, _ []string) error {
			return withDatabase(c.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				return printStatus(ctx, c.OutOrStdout(), db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(c *cobra.Command, _ []string) error {
			return withDatabase(c.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				return printStatus(ctx, c.OutOrStdout(), db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(c *cobra.Command, _ []string) error {
			return withDatabase(c.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				return printStatus(ctx, c.OutOrStdout(), db)
			})
		},
	})

	return cmd
}

// withDatabase opens the configured history database for the duration of fn.
func withDatabase(ctx context.Context, configPath string, fn func(context.Context, *database.DB) error) (err error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return errHistoryDisabled
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", closeErr)
		}
	}()

	return fn(ctx, db)
}

func printStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	current := status.Current()
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(w, "schema version: %s\n", current)
	for _, r := range status.Applied {
		fmt.Fprintf(w, "  applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "  pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
