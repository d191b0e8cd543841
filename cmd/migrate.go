package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley0/parley/db"
	"github.com/parley0/parley/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
