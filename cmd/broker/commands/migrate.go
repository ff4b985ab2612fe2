package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gcp-broker/tokenbroker/internal/broker/config"
	"github.com/gcp-broker/tokenbroker/internal/broker/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the postgres record-store migrations",
	Long: `Apply pending schema migrations to the postgres record store.

Only needed when backends.database=postgres (POSTGRES_DSN); the memory and
badger backends have no schema to migrate.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Backends.Database != "postgres" {
		return fmt.Errorf("migrate: backends.database=%s has no schema to migrate", cfg.Backends.Database)
	}

	if err := postgres.Migrate(context.Background(), cfg.Backends.PostgresDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	cmd.Println("migrations applied successfully")
	return nil
}
