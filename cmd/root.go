// Package cmd implements the indigo command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/indigobot/indigo/internal/app"
	"github.com/indigobot/indigo/internal/config"
	"github.com/indigobot/indigo/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "indigo",
	Short: "Indigo - retrieval-augmented assistant for community resources",
	Long: `Indigo crawls configured websites, deduplicates and refines their
content into a vector knowledge store, and answers questions with
retrieval-augmented generation enriched by place lookups.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger from the verbose flag.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// newApp loads configuration and wires the application.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	a, err := app.New(ctx, cfg, newLogger())
	if err != nil {
		return nil, fmt.Errorf("wiring application: %w", err)
	}
	return a, nil
}
