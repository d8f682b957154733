package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

func shellJob(t *testing.T, name string, script *actions.ShellScript) *workflow.Job {
	t.Helper()
	return &workflow.Job{
		Name:     name,
		Index:    workflow.NoIndex,
		Inputs:   workflow.NoFiles(),
		Outputs:  workflow.NoFiles(),
		Action:   script,
		State:    workflow.StateWaiting,
		ExitCode: -1,
	}
}

func TestLocal_RunsShellJob(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	job := shellJob(t, "write", actions.Script(
		actions.Command("echo", "hello").Stdout(out),
	))

	local := NewLocal(nil)
	err := local.Execute(context.Background(), []*workflow.Job{job}, workflow.ExecOptions{Threads: 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !job.State.IsDone() {
		t.Errorf("job state = %v, want done", job.State)
	}
	if job.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", job.ExitCode)
	}
	content, err := os.ReadFile(out)
	if err != nil || string(content) != "hello\n" {
		t.Errorf("output file content = %q, err=%v", content, err)
	}
}

func TestLocal_FailingJobReturnsJobError(t *testing.T) {
	job := shellJob(t, "fail", actions.Script(actions.Command("false")))

	local := NewLocal(nil)
	err := local.Execute(context.Background(), []*workflow.Job{job}, workflow.ExecOptions{Threads: 1})
	if err == nil {
		t.Fatal("expected error for failing job")
	}

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %T: %v", err, err)
	}
	if jobErr.Job != job {
		t.Error("JobError references wrong job")
	}
	if !job.State.IsFailed() {
		t.Errorf("job state = %v, want failed", job.State)
	}
	if job.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", job.ExitCode)
	}
}

func TestLocal_RunsGoFunc(t *testing.T) {
	ran := false
	job := shellJob(t, "inproc", nil)
	job.Action = actions.Func("mark", func(context.Context) error {
		ran = true
		return nil
	})

	local := NewLocal(nil)
	err := local.Execute(context.Background(), []*workflow.Job{job}, workflow.ExecOptions{Threads: 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !ran {
		t.Error("GoFunc did not run")
	}
	if !job.State.IsDone() {
		t.Errorf("job state = %v, want done", job.State)
	}
}

func TestLocal_ParallelExecution(t *testing.T) {
	dir := t.TempDir()
	jobs := make([]*workflow.Job, 0, 20)
	for i := 0; i < 20; i++ {
		out := filepath.Join(dir, fmt.Sprintf("file_%d", i))
		jobs = append(jobs, shellJob(t, fmt.Sprintf("generate_%d", i), actions.Script(
			actions.Command("echo", fmt.Sprintf("data-%05d", i)).Stdout(out),
		)))
	}

	local := NewLocal(nil)
	err := local.Execute(context.Background(), jobs, workflow.ExecOptions{Threads: 4})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for i, job := range jobs {
		if !job.State.IsDone() {
			t.Errorf("job %d state = %v, want done", i, job.State)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 20 {
		t.Errorf("expected 20 output files, got %d (err=%v)", len(entries), err)
	}
}

func TestLocal_ParallelFailuresCombined(t *testing.T) {
	jobs := []*workflow.Job{
		shellJob(t, "ok", actions.Script(actions.Command("true"))),
		shellJob(t, "bad_a", actions.Script(actions.Command("false"))),
		shellJob(t, "bad_b", actions.Script(actions.Command("false"))),
	}

	local := NewLocal(nil)
	err := local.Execute(context.Background(), jobs, workflow.ExecOptions{Threads: 3})
	if err == nil {
		t.Fatal("expected error")
	}

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %T: %v", err, err)
	}
	if len(batchErr.Failures) != 2 || batchErr.Total != 3 {
		t.Errorf("BatchError = %d/%d, want 2/3", len(batchErr.Failures), batchErr.Total)
	}
}

func TestReadStatus(t *testing.T) {
	dir := t.TempDir()

	if got := ReadStatus(filepath.Join(dir, "missing")); got != StatusAbsent {
		t.Errorf("missing file status = %d, want %d", got, StatusAbsent)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ReadStatus(empty); got != StatusStarted {
		t.Errorf("empty file status = %d, want %d", got, StatusStarted)
	}

	done := filepath.Join(dir, "done")
	if err := os.WriteFile(done, []byte("17\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ReadStatus(done); got != 17 {
		t.Errorf("status = %d, want 17", got)
	}
}
