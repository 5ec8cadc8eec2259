package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *postgres.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		return withMigrator(func(m *postgres.Migrator) error {
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(m)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(printVersion)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(fn func(*postgres.Migrator) error) error {
	cfg := config.Load()
	if cfg.Storage.PostgresURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	m, err := postgres.NewMigrator(cfg.Storage.PostgresURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.WithError(err).Warn("failed to close migrator")
		}
	}()

	return fn(m)
}

func printVersion(m *postgres.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.WithField("version", version).WithField("dirty", dirty).Info("schema version")
	return nil
}
