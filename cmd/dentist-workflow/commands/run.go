package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/a-ludi/dentist-workflow/pkg/executor"
	"github.com/a-ludi/dentist-workflow/pkg/script"
	"github.com/a-ludi/dentist-workflow/pkg/slurm"
	"github.com/a-ludi/dentist-workflow/pkg/stores"
	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workdir"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

func newRunCommand() *cobra.Command {
	var (
		dryRun        bool
		printCommands bool
		force         bool
		touch         bool
		deleteOutputs bool
		threads       int
		targets       []string
		workflowDir   string
		resourcesFile string
		submitJobs    string
		checkDelay    time.Duration
		debugFlags    []string
		params        []string
		noHistory     bool
		enableTracing bool
		submitHost    string
		submitUser    string
		submitKey     string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.star>",
		Short: "Execute a workflow script",
		Long: `Execute a Starlark workflow script.

Jobs are collected with explicit inputs and outputs; jobs whose outputs
are newer than all inputs are skipped. With --submit-jobs slurm, jobs
are submitted to a SLURM cluster and tracked through status files.`,
		Example: `  # Run a workflow locally with 8 threads
  dentist-workflow run workflow.star --threads 8

  # Show the commands that would be run
  dentist-workflow run workflow.star --dry-run --print-commands

  # Submit jobs to SLURM and poll every 30s
  dentist-workflow run workflow.star --submit-jobs slurm --check-delay 30s

  # Rebuild only the named jobs and their prerequisites
  dentist-workflow run workflow.star -T assemble -T polish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scriptPath := args[0]

			logger, err := newLogger()
			if err != nil {
				return err
			}

			scriptParams, err := parseParams(params)
			if err != nil {
				return err
			}
			debug := make(map[string]bool, len(debugFlags))
			for _, flag := range debugFlags {
				debug[flag] = true
			}

			tracing, err := telemetry.InitTracing(telemetry.TracingConfig{
				Enabled:     enableTracing,
				ServiceName: "dentist-workflow",
			})
			if err != nil {
				return err
			}
			defer func() {
				// The run context may already be cancelled on SIGINT.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tracing.Shutdown(shutdownCtx)
			}()

			wd := workdir.New(workflowDir)

			var recorder workflow.RunRecorder
			if !noHistory {
				dbPath, err := wd.AcquireFile("history.db", workdir.AcquireOptions{ExistOK: true})
				if err != nil {
					return err
				}
				store, err := stores.Open(ctx, dbPath)
				if err != nil {
					return fmt.Errorf("could not open run history: %w", err)
				}
				defer func() { _ = store.Close() }()
				recorder = store
			}

			exec, closeExec, err := buildExecutor(executorConfig{
				submitJobs: submitJobs,
				checkDelay: checkDelay,
				debug:      debug["slurm"],
				submitHost: submitHost,
				submitUser: submitUser,
				submitKey:  submitKey,
				workdir:    wd,
				logger:     logger,
			})
			if err != nil {
				return err
			}
			defer closeExec()

			name := workflowName(scriptPath)
			w, err := workflow.New(name, exec, workflow.Options{
				WorkflowDir:   workflowDir,
				DryRun:        dryRun,
				PrintCommands: printCommands,
				Force:         force,
				Touch:         touch,
				DeleteOutputs: deleteOutputs,
				Threads:       threads,
				Targets:       targets,
				ResourcesFile: resourcesFile,
				DebugFlags:    debug,
				Workdir:       wd,
				Logger:        logger,
				Metrics:       telemetry.NewMetrics(),
				Tracer:        tracing.Tracer("dentist-workflow"),
				Recorder:      recorder,
			})
			if err != nil {
				return err
			}

			evaluator := script.NewEvaluator(0, logger)
			if err := evaluator.RunFile(ctx, scriptPath, w, scriptParams); err != nil {
				w.Abort(ctx)
				return err
			}
			return w.Finalize(ctx)
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "display what would be done without executing")
	cmd.Flags().BoolVar(&printCommands, "print-commands", false, "print every executed command")
	cmd.Flags().BoolVar(&force, "force", false, "unconditionally recreate files")
	cmd.Flags().BoolVarP(&touch, "touch", "t", false, "mark outputs up to date instead of executing")
	cmd.Flags().BoolVar(&deleteOutputs, "delete-outputs", false, "delete all collected outputs (implies --dry-run --force)")
	cmd.Flags().IntVarP(&threads, "threads", "j", 1, "number of local worker threads")
	cmd.Flags().StringArrayVarP(&targets, "targets", "T", nil, "stop once the named jobs have been executed")
	cmd.Flags().StringVar(&workflowDir, "workflow-dir", workflow.DefaultWorkflowDir, "directory for engine-private files")
	cmd.Flags().StringVar(&resourcesFile, "resources", "", "YAML or JSON resources file")
	cmd.Flags().StringVar(&submitJobs, "submit-jobs", "", "submit jobs for detached execution (slurm)")
	cmd.Flags().DurationVar(&checkDelay, "check-delay", executor.DefaultCheckDelay, "status poll interval for detached jobs")
	cmd.Flags().StringArrayVar(&debugFlags, "debug-flag", nil, "activate a debugging facility (slurm, metrics)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "script parameter as key=value")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this run in the history database")
	cmd.Flags().BoolVar(&enableTracing, "trace", false, "emit trace spans to stdout")
	cmd.Flags().StringVar(&submitHost, "submit-host", "", "submit via SSH on this head node instead of locally")
	cmd.Flags().StringVar(&submitUser, "submit-user", "", "SSH user for --submit-host")
	cmd.Flags().StringVar(&submitKey, "submit-key", "", "SSH private key for --submit-host")

	return cmd
}

type executorConfig struct {
	submitJobs string
	checkDelay time.Duration
	debug      bool
	submitHost string
	submitUser string
	submitKey  string
	workdir    *workdir.Dir
	logger     *telemetry.Logger
}

// buildExecutor selects the execution backend. The returned close function
// releases backend resources after the run.
func buildExecutor(cfg executorConfig) (workflow.Executor, func(), error) {
	switch cfg.submitJobs {
	case "":
		return executor.NewLocal(cfg.logger), func() {}, nil

	case "slurm":
		scripts, err := cfg.workdir.AcquireDir("job-scripts", workdir.AcquireOptions{
			ForceEmpty: true,
			ExistOK:    true,
		})
		if err != nil {
			return nil, nil, err
		}

		var runner slurm.Runner
		closeRunner := func() {}
		if cfg.submitHost != "" {
			sshConfig := slurm.DefaultSSHConfig(cfg.submitHost, cfg.submitUser)
			if cfg.submitKey != "" {
				sshConfig.PrivateKeyPath = cfg.submitKey
			}
			sshRunner, err := slurm.DialSSH(sshConfig)
			if err != nil {
				return nil, nil, err
			}
			runner = sshRunner
			closeRunner = func() { _ = sshRunner.Close() }
		}

		submitter := slurm.NewSubmitter(runner, scripts, slurm.Options{
			Debug:  cfg.debug,
			Logger: cfg.logger,
		})
		return executor.NewDetached(submitter, cfg.checkDelay, cfg.logger), closeRunner, nil

	default:
		return nil, nil, fmt.Errorf("unknown job submission interface %q (available: slurm)", cfg.submitJobs)
	}
}

// parseParams converts repeated key=value flags to script parameters.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// workflowName derives the workflow name from the script file name.
func workflowName(scriptPath string) string {
	base := filepath.Base(scriptPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
