package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/config"
	"github.com/tolkaudit/tolkaudit/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openConfiguredDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("schema up to date")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and re-apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openConfiguredDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("database reset")
		return nil
	},
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete job events older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		database, err := openConfiguredDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		n, err := database.PruneEvents(cmd.Context(), cfg.Audit.RetentionDays)
		if err != nil {
			return err
		}
		cmd.Printf("pruned %d events\n", n)
		return nil
	},
}

func openConfiguredDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if cfg.Audit.DatabaseURL == "" {
		return nil, fmt.Errorf("audit.database_url is not configured")
	}
	return db.Open(cmd.Context(), cfg.Audit.DatabaseURL)
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbPruneCmd)
}
