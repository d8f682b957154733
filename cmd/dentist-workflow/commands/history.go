package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/a-ludi/dentist-workflow/pkg/stores"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

func newHistoryCommand() *cobra.Command {
	var (
		workflowDir string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded workflow runs",
		Long: `Show workflow runs recorded in the history database.

Without arguments the most recent runs are listed; with a run ID the job
results of that run are shown.`,
		Example: `  # List the last 20 runs
  dentist-workflow history

  # Show the job results of one run
  dentist-workflow history 4f0c9a7e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dbPath := filepath.Join(workflowDir, "history.db")
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("no run history found at %s", dbPath)
			}
			store, err := stores.Open(ctx, dbPath)
			if err != nil {
				return fmt.Errorf("could not open run history: %w", err)
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return printRunDetails(cmd, store, args[0])
			}
			return printRunList(cmd, store, limit)
		},
	}

	cmd.Flags().StringVar(&workflowDir, "workflow-dir", workflow.DefaultWorkflowDir, "directory for engine-private files")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func printRunList(cmd *cobra.Command, store *stores.HistoryStore, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("no recorded runs")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tWORKFLOW\tSTATUS\tSTARTED\tDURATION\tEXECUTED\tFAILED\tSKIPPED")
	for _, run := range runs {
		duration := "-"
		if !run.CompletedAt.IsZero() {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.ID,
			run.Workflow,
			run.Status,
			run.StartedAt.Format(time.RFC3339),
			duration,
			run.Executed,
			run.Failed,
			run.Skipped,
		)
	}
	return tw.Flush()
}

func printRunDetails(cmd *cobra.Command, store *stores.HistoryStore, runID string) error {
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	jobs, err := store.ListJobs(cmd.Context(), runID)
	if err != nil {
		return err
	}

	cmd.Printf("run %s: workflow %s, status %s\n", run.ID, run.Workflow, run.Status)
	if len(jobs) == 0 {
		cmd.Println("no recorded job results")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tEXIT CODE\tDURATION")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			job.FullName,
			job.State,
			job.ExitCode,
			job.Duration.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
