package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/caremart/internal/db"
	"github.com/gyeh/caremart/internal/exitcode"
	"github.com/gyeh/caremart/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply warehouse schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat)
	ctx := context.Background()

	if cfg.TargetDSN == "" {
		log.Error().Msg("--target-dsn or WAREHOUSE_DB_URL is required")
		os.Exit(exitcode.UsageError)
	}

	pool, err := db.NewPool(ctx, cfg.TargetDSN)
	if err != nil {
		log.Error().Err(err).Msg("warehouse connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(exitcode.LoadError)
	}

	log.Info().Msg("all migrations applied successfully")
	return nil
}
