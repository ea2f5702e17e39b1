package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"SweepTrader/internal/di"
	"SweepTrader/internal/repository"
	"SweepTrader/pkg/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the postgres and clickhouse schemas",
	Long: `Create the session store tables in postgres (when postgres.dsn is set) and
the audit tables in clickhouse (when clickhouse.enabled). Every statement is
idempotent.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	out := cmd.OutOrStdout()

	applied := 0
	if cfg.Postgres.DSN != "" {
		client, err := postgres.NewClient(cfg.Postgres.DSN, postgres.WithQueryTimeout(cfg.Postgres.QueryTimeout))
		if err != nil {
			return fmt.Errorf("postgres client: %w", err)
		}
		defer client.Close()
		if err := repository.NewPostgresSessionRepository(client).Init(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		fmt.Fprintf(out, "postgres: %d statements applied\n", len(repository.PostgresSchema))
		applied++
	}

	if cfg.ClickHouse.Enabled {
		ch, cleanup, err := di.ProvideClickHouse(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := ch.InitSchema(ctx, repository.ClickHouseSchema); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
		fmt.Fprintf(out, "clickhouse: %d statements applied\n", len(repository.ClickHouseSchema))
		applied++
	}

	if applied == 0 {
		fmt.Fprintln(out, "nothing to migrate: set postgres.dsn or enable clickhouse")
	}
	return nil
}
