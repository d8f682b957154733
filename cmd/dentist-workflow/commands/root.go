package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dentist-workflow",
		Short: "A make-like engine for scientific workflows",
		Long: `dentist-workflow executes workflows of shell jobs with explicit input
and output files. Jobs whose outputs are up to date are skipped, failed
jobs have their outputs discarded, and batches of jobs can be submitted
to a SLURM cluster for detached execution.

Workflows are defined in Starlark scripts using the collect_job and
execute_jobs builtins.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// newLogger builds the logger configured by the global flags.
func newLogger() (*telemetry.Logger, error) {
	cfg := telemetry.DefaultLoggingConfig()
	cfg.Level = logLevel
	cfg.Format = logFormat
	return telemetry.NewLogger(cfg)
}
