package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("could not open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistoryStore_RunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := &workflow.RunRecord{
		ID:        "run-1",
		Workflow:  "assembly",
		Status:    workflow.RunStatusRunning,
		StartedAt: time.Now().Add(-time.Minute),
	}
	if err := store.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Workflow != "assembly" || got.Status != workflow.RunStatusRunning {
		t.Errorf("got run %+v", got)
	}
	if !got.CompletedAt.IsZero() {
		t.Errorf("completed_at should be unset while running, got %v", got.CompletedAt)
	}

	run.Status = workflow.RunStatusSucceeded
	run.CompletedAt = time.Now()
	run.Executed = 3
	run.Skipped = 2
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != workflow.RunStatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, workflow.RunStatusSucceeded)
	}
	if got.Executed != 3 || got.Skipped != 2 || got.Failed != 0 {
		t.Errorf("counters = %d/%d/%d, want 3/0/2",
			got.Executed, got.Failed, got.Skipped)
	}
	if got.CompletedAt.IsZero() {
		t.Error("completed_at not recorded")
	}
}

func TestHistoryStore_CompleteUnknownRun(t *testing.T) {
	store := openTestStore(t)

	run := &workflow.RunRecord{ID: "missing", Status: workflow.RunStatusFailed}
	if err := store.CompleteRun(context.Background(), run); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestHistoryStore_GetRunNotFound(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestHistoryStore_JobResults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := &workflow.RunRecord{
		ID:        "run-2",
		Workflow:  "mapping",
		Status:    workflow.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	records := []*workflow.JobRecord{
		{RunID: "run-2", FullName: "index", State: "done", ExitCode: 0, Duration: 1500 * time.Millisecond},
		{RunID: "run-2", FullName: "map.0", State: "done", ExitCode: 0, Duration: 2 * time.Second},
		{RunID: "run-2", FullName: "map.1", State: "failed", ExitCode: 1, Duration: 300 * time.Millisecond},
	}
	for _, rec := range records {
		if err := store.RecordJob(ctx, rec); err != nil {
			t.Fatalf("RecordJob failed: %v", err)
		}
	}

	jobs, err := store.ListJobs(ctx, "run-2")
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d job results, want 3", len(jobs))
	}
	if jobs[0].FullName != "index" || jobs[1].FullName != "map.0" || jobs[2].FullName != "map.1" {
		t.Errorf("job order = %s, %s, %s", jobs[0].FullName, jobs[1].FullName, jobs[2].FullName)
	}
	if jobs[2].State != "failed" || jobs[2].ExitCode != 1 {
		t.Errorf("failed job = %+v", jobs[2])
	}
	if jobs[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", jobs[0].Duration)
	}
}

func TestHistoryStore_ListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &workflow.RunRecord{
			ID:        id,
			Workflow:  "assembly",
			Status:    workflow.RunStatusSucceeded,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.StartRun(ctx, run); err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("run order = %s, %s; want new, mid", runs[0].ID, runs[1].ID)
	}
}
