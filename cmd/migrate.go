package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/indigobot/indigo/db"
	"github.com/indigobot/indigo/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := db.Migrate(cfg.ConnString()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	fmt.Println("database is up to date")
	return nil
}
