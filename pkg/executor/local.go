package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// Local executes jobs on the local machine. Shell actions run through
// os/exec with stdout/stderr passed through; GoFunc actions run
// in-process.
type Local struct {
	log *telemetry.Logger
}

// NewLocal creates a local executor. A nil logger is silent.
func NewLocal(logger *telemetry.Logger) *Local {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Local{log: logger.NewComponentLogger("executor.local")}
}

// RequiresStatusTracking is false: local jobs report through their process
// exit codes.
func (l *Local) RequiresStatusTracking() bool {
	return false
}

// Execute runs jobs serially or with a bounded worker pool.
func (l *Local) Execute(ctx context.Context, jobs []*workflow.Job, opts workflow.ExecOptions) error {
	if opts.Threads <= 1 && len(jobs) <= 1 {
		return l.runSerial(ctx, jobs, opts.PrintCommands)
	}
	return l.runParallel(ctx, jobs, opts)
}

func (l *Local) runSerial(ctx context.Context, jobs []*workflow.Job, printCommands bool) error {
	for _, job := range jobs {
		if err := l.runJob(ctx, job, printCommands); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) runParallel(ctx context.Context, jobs []*workflow.Job, opts workflow.ExecOptions) error {
	workerCount := opts.Threads
	if workerCount <= 0 {
		workerCount = 1
	}
	if len(jobs) < workerCount {
		workerCount = len(jobs)
	}

	workQueue := make(chan *workflow.Job, len(jobs))
	for _, job := range jobs {
		workQueue <- job
	}
	close(workQueue)

	var wg sync.WaitGroup
	errChan := make(chan *JobError, len(jobs))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for job := range workQueue {
				if err := l.runJob(ctx, job, opts.PrintCommands); err != nil {
					var jobErr *JobError
					if errors.As(err, &jobErr) {
						errChan <- jobErr
					} else {
						errChan <- &JobError{Job: job, Err: err}
					}
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(errChan)

	var failures []*JobError
	for jobErr := range errChan {
		failures = append(failures, jobErr)
	}
	return combineFailures(failures, len(jobs))
}

func (l *Local) runJob(ctx context.Context, job *workflow.Job, printCommands bool) error {
	if printCommands {
		fmt.Println(job)
	}
	job.StartedAt = time.Now()

	var err error
	exitCode := 0
	switch action := job.Action.(type) {
	case *actions.GoFunc:
		err = action.Run(ctx)
		if err != nil {
			exitCode = 1
		}
	default:
		exitCode, err = l.runCommand(ctx, job)
	}

	if err != nil {
		job.Failed(exitCode)
		l.log.Errorf("job %s FAILED.", job.Describe())
		return &JobError{Job: job, Err: err}
	}

	job.Done()
	l.log.Infof("job %s done.", job.Describe())
	return nil
}

func (l *Local) runCommand(ctx context.Context, job *workflow.Job) (int, error) {
	argv, err := job.ToCommand()
	if err != nil {
		return -1, err
	}
	if len(argv) == 0 {
		return -1, fmt.Errorf("job %s renders to an empty command", job.Describe())
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), err
		}
		return -1, err
	}
	return 0, nil
}
