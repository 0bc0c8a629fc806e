package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-spend-approvals/internal/app"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the schema of the configured store (DB_DRIVER)
to the latest version. Already applied migrations are skipped.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	fmt.Fprintf(out(cmd), "Database migrations completed (%s)\n", cfg.Database.Driver)
	return nil
}
