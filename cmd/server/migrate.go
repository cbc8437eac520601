package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smarttodos/backend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	applied, err := db.RunMigrations(database, cfg.Database.MigrationsDir, logger)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	if len(applied) == 0 {
		green.Println("Database is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("  applied %s\n", name)
	}
	green.Printf("Applied %d migration(s) to %s\n", len(applied), cfg.Database.Path)
	return nil
}
