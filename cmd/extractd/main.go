// Package main implements the extractd CLI: goal-driven extraction of
// structured disclosure records from sectionized fund documents.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/storage"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "extractd",
	Short: "Extract structured disclosure records from fund documents",
	Long: `extractd runs goal-driven extraction over sectionized fund documents:
each configured field is retrieved lexically (BM25), answered by a bounded
worker call, validated, and recorded with citations. Runs are idempotent
per document version.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/extractd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(showCmd)
}

// setup loads config and builds the logger and store shared by commands.
func setup() (*config.Config, *zap.Logger, storage.Store, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

// openStore opens the SQLite store, defaulting to the user's data directory
// when no path is configured.
func openStore(path string) (storage.Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".local", "share", "extractd", "extractd.db")
	}
	return storage.OpenSQLite(path)
}
