package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/caremart/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "martload",
	Short: "Clinical OLTP → star-schema batch loader",
	Long:  "Transforms a normalized clinical source snapshot into a dimensional star schema: slowly-changing dimensions, encounter facts, and diagnosis/procedure bridges.",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.SourceDSN, "source-dsn", os.Getenv("SOURCE_DB_URL"), "Source OLTP connection string (or set SOURCE_DB_URL)")
	pf.StringVar(&cfg.SourceDir, "source-dir", "", "Directory of Parquet snapshot files (alternative to --source-dsn)")
	pf.StringVar(&cfg.TargetDSN, "target-dsn", os.Getenv("WAREHOUSE_DB_URL"), "Warehouse connection string (or set WAREHOUSE_DB_URL)")
	pf.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
