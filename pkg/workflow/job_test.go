package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
)

func TestJob_FullName(t *testing.T) {
	solitary := &Job{Name: "assemble", Index: NoIndex}
	if got := solitary.FullName(); got != "assemble" {
		t.Errorf("FullName() = %q, want assemble", got)
	}
	if solitary.IsBatch() {
		t.Error("solitary job reported as batch")
	}

	batch := &Job{Name: "align", Index: 7}
	if got := batch.FullName(); got != "align.7" {
		t.Errorf("FullName() = %q, want align.7", got)
	}
	if !batch.IsBatch() {
		t.Error("indexed job not reported as batch")
	}
}

func TestJob_Hash(t *testing.T) {
	a := &Job{Name: "align", Index: 0}
	b := &Job{Name: "align", Index: 1}

	if len(a.Hash()) != 32 {
		t.Errorf("hash %q is not an MD5 hex digest", a.Hash())
	}
	if a.Hash() == b.Hash() {
		t.Error("distinct jobs share a hash")
	}
	if a.Hash() != (&Job{Name: "align", Index: 0}).Hash() {
		t.Error("hash is not stable")
	}
}

func TestJob_Describe(t *testing.T) {
	job := &Job{Name: "align", Index: NoIndex}
	if got := job.Describe(); got != "`align`" {
		t.Errorf("Describe() = %q", got)
	}

	job.ID = "4711"
	if got := job.Describe(); got != "`align` (id=4711)" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{Name: "align", Index: NoIndex, ExitCode: -1}
	if !job.State.IsWaiting() || job.State.IsFinished() {
		t.Errorf("fresh job state = %v", job.State)
	}

	job.Done()
	if !job.State.IsDone() || job.ExitCode != 0 || job.FinishedAt.IsZero() {
		t.Errorf("after Done: state=%v exit=%d", job.State, job.ExitCode)
	}

	failed := &Job{Name: "crash", Index: NoIndex, ExitCode: -1}
	failed.Failed(3)
	if !failed.State.IsFailed() || failed.ExitCode != 3 {
		t.Errorf("after Failed: state=%v exit=%d", failed.State, failed.ExitCode)
	}
}

func TestJob_EnableTracking(t *testing.T) {
	statusFile := filepath.Join(t.TempDir(), "status")

	job := &Job{
		Name:   "align",
		Index:  NoIndex,
		Action: actions.Script(actions.Command("true")),
	}
	if err := job.EnableTracking(statusFile); err != nil {
		t.Fatalf("EnableTracking failed: %v", err)
	}
	if job.StatusFile() != statusFile {
		t.Errorf("StatusFile() = %q", job.StatusFile())
	}

	argv, err := job.ToCommand()
	if err != nil {
		t.Fatal(err)
	}
	script := argv[len(argv)-1]
	for _, fragment := range []string{"touch " + statusFile, "echo $S > " + statusFile, "exit $S"} {
		if !strings.Contains(script, fragment) {
			t.Errorf("tracked script missing %q:\n%s", fragment, script)
		}
	}
}

func TestJob_EnableTrackingRejectsGoFunc(t *testing.T) {
	job := &Job{
		Name:   "inproc",
		Index:  NoIndex,
		Action: actions.Func("noop", func(context.Context) error { return nil }),
	}
	err := job.EnableTracking("/tmp/status")
	if err == nil {
		t.Fatal("expected error for untrackable action")
	}
	if !hasCode(err, ErrCodeInvalidJob) {
		t.Errorf("expected invalid-job error, got %v", err)
	}
}

func TestJob_CleanupTracking(t *testing.T) {
	dir := t.TempDir()
	statusFile := filepath.Join(dir, "status")
	if err := os.WriteFile(statusFile, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	job := &Job{
		Name:   "align",
		Index:  NoIndex,
		Action: actions.Script(actions.Command("true")),
	}
	if err := job.EnableTracking(statusFile); err != nil {
		t.Fatal(err)
	}

	job.Done()
	if _, err := os.Stat(statusFile); !os.IsNotExist(err) {
		t.Error("status file was not removed")
	}
}
