package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/caremart/internal/db"
	"github.com/gyeh/caremart/internal/etl"
	"github.com/gyeh/caremart/internal/exitcode"
	"github.com/gyeh/caremart/internal/logging"
	"github.com/gyeh/caremart/internal/source"
	"github.com/gyeh/caremart/internal/warehouse"
)

var configFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full pipeline run against the warehouse",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&cfg.RunDate, "run-date", "", "As-of date for effective dating, YYYY-MM-DD (required)")
	f.StringVar(&configFile, "config", "", "Optional YAML config overlay")
	_ = runCmd.MarkFlagRequired("run-date")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat)
	ctx := context.Background()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			log.Error().Err(err).Msg("config file load failed")
			os.Exit(exitcode.UsageError)
		}
	}
	if err := cfg.ValidateWithTarget(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	var reader source.Reader
	if cfg.SourceDir != "" {
		reader = source.NewParquetDir(cfg.SourceDir)
	} else {
		srcPool, err := db.NewPool(ctx, cfg.SourceDSN)
		if err != nil {
			log.Error().Err(err).Msg("source database connection failed")
			os.Exit(exitcode.DBConnError)
		}
		defer srcPool.Close()
		reader = source.NewPostgres(srcPool)
	}

	targetPool, err := db.NewPool(ctx, cfg.TargetDSN)
	if err != nil {
		log.Error().Err(err).Msg("warehouse connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer targetPool.Close()

	summary, err := etl.Run(ctx, reader, warehouse.NewPostgres(targetPool), log, &cfg)
	if err != nil {
		if se, ok := err.(*etl.StageError); ok {
			log.Error().Err(se.Err).Str("stage", se.Stage).Msg("pipeline run failed")
			if se.Stage == "extract" {
				os.Exit(exitcode.ExtractError)
			}
			os.Exit(exitcode.LoadError)
		}
		log.Error().Err(err).Msg("pipeline run failed")
		os.Exit(exitcode.LoadError)
	}

	fmt.Printf("Run complete: %d facts inserted, %d updated, %d rows skipped (%.1fs)\n",
		summary.Facts.Inserted, summary.Facts.Updated,
		int64(len(summary.SkippedRows)), summary.DurationTotal.Seconds())
	if len(summary.SkippedRows) > 0 {
		os.Exit(exitcode.PartialSuccess)
	}
	return nil
}
