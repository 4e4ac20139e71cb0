package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/devblac/reward-tower/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	logLevel  string
	logFormat string
	rootCmd   = &cobra.Command{
		Use:   "reward-tower",
		Short: "Soroban reward campaign indexer and operator CLI",
	}
)

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error); defaults to LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text|pretty); defaults to LOG_FORMAT")

	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		validateCmd,
		runCmd,
		stateCmd,
		exportCmd,
		campaignCmd,
		rewardsCmd,
		migrateCmd,
	)
}

// Execute runs the root command tree.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func newLogger() *slog.Logger {
	level := logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	format := logFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	return logging.NewWithOptions(logging.Options{Level: level, Format: format, Out: os.Stderr})
}
