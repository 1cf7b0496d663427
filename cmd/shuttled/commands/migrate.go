package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/config"
	"github.com/shuttleup/shuttle/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the upload session database.

This command applies pending database migrations to the configured upload
session database (SQLite or PostgreSQL). It is required after upgrading
Shuttle when schema changes have been made.

Examples:
  # Run migrations with default config
  shuttled migrate

  # Run migrations with custom config
  shuttled migrate --config /etc/shuttle/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Opening the store triggers migration
	ctx := context.Background()
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked by checking if we can query sessions
	if _, err := st.ListUploads(ctx, ""); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
