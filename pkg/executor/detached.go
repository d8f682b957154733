package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// DefaultCheckDelay is the fallback poll interval for detached jobs.
const DefaultCheckDelay = 15 * time.Second

// Submitter hands jobs to a batch system and returns one ID per job in
// input order.
type Submitter interface {
	Submit(ctx context.Context, jobs []*workflow.Job) ([]string, error)
}

// Detached executes jobs through a Submitter and waits for their status
// files. Status directories are watched with fsnotify; a poll every
// check-delay covers filesystems without reliable notifications.
type Detached struct {
	submitter  Submitter
	checkDelay time.Duration
	log        *telemetry.Logger
}

// NewDetached creates a detached executor. A zero checkDelay uses
// DefaultCheckDelay; a nil logger is silent.
func NewDetached(submitter Submitter, checkDelay time.Duration, logger *telemetry.Logger) *Detached {
	if checkDelay <= 0 {
		checkDelay = DefaultCheckDelay
	}
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Detached{
		submitter:  submitter,
		checkDelay: checkDelay,
		log:        logger.NewComponentLogger("executor.detached"),
	}
}

// RequiresStatusTracking is true: detached jobs report through status
// files only.
func (d *Detached) RequiresStatusTracking() bool {
	return true
}

// Execute submits all jobs and blocks until every job has finished or the
// context is cancelled.
func (d *Detached) Execute(ctx context.Context, jobs []*workflow.Job, opts workflow.ExecOptions) error {
	for _, job := range jobs {
		if job.StatusFile() == "" {
			return fmt.Errorf("job %s has no status file; detached execution requires status tracking", job.Describe())
		}
		if opts.PrintCommands {
			fmt.Println(job)
		}
	}

	now := time.Now()
	for _, job := range jobs {
		job.StartedAt = now
	}

	ids, err := d.submitter.Submit(ctx, jobs)
	if err != nil {
		for _, job := range jobs {
			if !job.State.IsFinished() {
				job.Failed(-1)
			}
		}
		return fmt.Errorf("could not submit jobs: %w", err)
	}
	if len(ids) != len(jobs) {
		return fmt.Errorf("submitter returned %d IDs for %d jobs", len(ids), len(jobs))
	}
	for i, job := range jobs {
		job.ID = ids[i]
		d.log.Infof("waiting for job %s.", job.Describe())
	}

	return d.waitForJobs(ctx, jobs)
}

func (d *Detached) waitForJobs(ctx context.Context, jobs []*workflow.Job) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create status watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]struct{})
	for _, job := range jobs {
		dir := filepath.Dir(job.StatusFile())
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("could not watch status directory %s: %w", dir, err)
		}
		watched[dir] = struct{}{}
	}

	pending := make(map[*workflow.Job]struct{}, len(jobs))
	for _, job := range jobs {
		pending[job] = struct{}{}
	}

	var failures []*JobError

	checkPending := func() {
		for job := range pending {
			status := ReadStatus(job.StatusFile())
			if status < 0 {
				continue
			}
			delete(pending, job)
			if status == 0 {
				job.Done()
				d.log.Infof("job %s done.", job.Describe())
			} else {
				job.Failed(status)
				d.log.Errorf("job %s FAILED.", job.Describe())
				failures = append(failures, &JobError{
					Job: job,
					Err: fmt.Errorf("exit code %d", status),
				})
			}
		}
	}

	ticker := time.NewTicker(d.checkDelay)
	defer ticker.Stop()

	checkPending()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("status watcher closed unexpectedly")
			}
			// Status files receive the exit code via a write or are
			// freshly created; either way re-check the pending set.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				checkPending()
			}
		case watchErr, ok := <-watcher.Errors:
			if ok && watchErr != nil {
				d.log.Warnf("status watcher error: %v", watchErr)
			}
		case <-ticker.C:
			checkPending()
		}
	}

	return combineFailures(failures, len(jobs))
}
