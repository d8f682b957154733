package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// fakeSubmitter records exit codes into the jobs' status files after a
// short delay, standing in for a batch system.
type fakeSubmitter struct {
	exitCodes map[string]int
	delay     time.Duration
	submitErr error
	submitted []*workflow.Job
}

func (s *fakeSubmitter) Submit(_ context.Context, jobs []*workflow.Job) ([]string, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submitted = append(s.submitted, jobs...)

	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = fmt.Sprintf("fake-%d", i+1)
	}

	go func() {
		time.Sleep(s.delay)
		for _, job := range jobs {
			exitCode := s.exitCodes[job.FullName()]
			content := fmt.Sprintf("%d\n", exitCode)
			_ = os.WriteFile(job.StatusFile(), []byte(content), 0o644)
		}
	}()

	return ids, nil
}

func trackedJob(t *testing.T, statusDir, name string) *workflow.Job {
	t.Helper()
	job := &workflow.Job{
		Name:     name,
		Index:    workflow.NoIndex,
		Inputs:   workflow.NoFiles(),
		Outputs:  workflow.NoFiles(),
		Action:   actions.Script(actions.Command("true")),
		State:    workflow.StateWaiting,
		ExitCode: -1,
	}
	if err := job.EnableTracking(filepath.Join(statusDir, job.Hash())); err != nil {
		t.Fatalf("EnableTracking failed: %v", err)
	}
	return job
}

func TestDetached_WaitsForStatusFiles(t *testing.T) {
	statusDir := t.TempDir()
	jobs := []*workflow.Job{
		trackedJob(t, statusDir, "align"),
		trackedJob(t, statusDir, "merge"),
	}

	submitter := &fakeSubmitter{
		exitCodes: map[string]int{},
		delay:     50 * time.Millisecond,
	}
	detached := NewDetached(submitter, 20*time.Millisecond, nil)

	err := detached.Execute(context.Background(), jobs, workflow.ExecOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, job := range jobs {
		if !job.State.IsDone() {
			t.Errorf("job %s state = %v, want done", job.FullName(), job.State)
		}
		if job.ID == "" {
			t.Errorf("job %s has no submission ID", job.FullName())
		}
	}
	if len(submitter.submitted) != 2 {
		t.Errorf("submitted %d jobs, want 2", len(submitter.submitted))
	}
}

func TestDetached_ReportsFailedJobs(t *testing.T) {
	statusDir := t.TempDir()
	good := trackedJob(t, statusDir, "good")
	bad := trackedJob(t, statusDir, "bad")

	submitter := &fakeSubmitter{
		exitCodes: map[string]int{"bad": 3},
		delay:     20 * time.Millisecond,
	}
	detached := NewDetached(submitter, 20*time.Millisecond, nil)

	err := detached.Execute(context.Background(), []*workflow.Job{good, bad}, workflow.ExecOptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %T: %v", err, err)
	}
	if jobErr.Job != bad {
		t.Errorf("JobError references %s, want bad", jobErr.Job.FullName())
	}
	if !good.State.IsDone() {
		t.Errorf("good job state = %v, want done", good.State)
	}
	if !bad.State.IsFailed() || bad.ExitCode != 3 {
		t.Errorf("bad job state = %v exit = %d, want failed with 3", bad.State, bad.ExitCode)
	}
}

func TestDetached_SubmitErrorFailsAllJobs(t *testing.T) {
	statusDir := t.TempDir()
	job := trackedJob(t, statusDir, "never_runs")

	submitter := &fakeSubmitter{submitErr: errors.New("sbatch: command not found")}
	detached := NewDetached(submitter, time.Millisecond, nil)

	err := detached.Execute(context.Background(), []*workflow.Job{job}, workflow.ExecOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !job.State.IsFailed() {
		t.Errorf("job state = %v, want failed", job.State)
	}
}

func TestDetached_RequiresStatusFile(t *testing.T) {
	job := &workflow.Job{
		Name:     "untracked",
		Index:    workflow.NoIndex,
		Inputs:   workflow.NoFiles(),
		Outputs:  workflow.NoFiles(),
		Action:   actions.Script(actions.Command("true")),
		State:    workflow.StateWaiting,
		ExitCode: -1,
	}

	detached := NewDetached(&fakeSubmitter{}, time.Millisecond, nil)
	err := detached.Execute(context.Background(), []*workflow.Job{job}, workflow.ExecOptions{})
	if err == nil {
		t.Fatal("expected error for job without status file")
	}
}

func TestDetached_ContextCancellation(t *testing.T) {
	statusDir := t.TempDir()
	job := trackedJob(t, statusDir, "stuck")

	// Status file is never written: the wait must end with the context.
	submitter := &fakeSubmitter{exitCodes: map[string]int{}, delay: time.Hour}
	detached := NewDetached(submitter, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := detached.Execute(ctx, []*workflow.Job{job}, workflow.ExecOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
