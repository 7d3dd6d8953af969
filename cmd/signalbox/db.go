package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Signalbox tables",
		Long:  "Migrates the projects and agents tables and makes sure the default project exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "signalbox.yaml", "path to Signalbox config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := openDB(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables on %s\n", len(db.AllModels()), cfg.Database.Driver)
	fmt.Fprintf(out, "Default project: %d\n", cfg.DefaultProjectID)
	return nil
}

// openDB connects, migrates, and seeds the default project.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	if _, err := db.EnsureProject(gdb, cfg.DefaultProjectID, db.DefaultProjectName); err != nil {
		return nil, err
	}
	return gdb, nil
}
