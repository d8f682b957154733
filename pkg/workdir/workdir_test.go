package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireDir_CreatesDirectory(t *testing.T) {
	root := New(filepath.Join(t.TempDir(), ".workflow"))

	sub, err := root.AcquireDir("job-scripts", AcquireOptions{})
	if err != nil {
		t.Fatalf("AcquireDir failed: %v", err)
	}

	info, err := os.Stat(sub.Root())
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s, err=%v", sub.Root(), err)
	}
}

func TestAcquireDir_DuplicateFails(t *testing.T) {
	root := New(t.TempDir())

	if _, err := root.AcquireDir("status", AcquireOptions{}); err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}
	if _, err := root.AcquireDir("status", AcquireOptions{}); err == nil {
		t.Fatal("expected error on duplicate acquisition")
	}
}

func TestAcquireDir_ExistOKAllowsReacquire(t *testing.T) {
	root := New(t.TempDir())

	if _, err := root.AcquireDir("logs", AcquireOptions{}); err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}
	if _, err := root.AcquireDir("logs", AcquireOptions{ExistOK: true}); err != nil {
		t.Fatalf("ExistOK acquisition failed: %v", err)
	}
}

func TestAcquireDir_ForceEmptyClearsContents(t *testing.T) {
	base := t.TempDir()
	leftover := filepath.Join(base, "status", "stale")
	if err := os.MkdirAll(filepath.Dir(leftover), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(leftover, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := New(base)
	sub, err := root.AcquireDir("status", AcquireOptions{ForceEmpty: true, ExistOK: true})
	if err != nil {
		t.Fatalf("AcquireDir failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(sub.Root(), "stale")); !os.IsNotExist(err) {
		t.Errorf("expected stale file to be removed, err=%v", err)
	}
}

func TestAcquireFile_CreatesParents(t *testing.T) {
	root := New(t.TempDir())

	path, err := root.AcquireFile(filepath.Join("nested", "deep", "job.sh"), AcquireOptions{})
	if err != nil {
		t.Fatalf("AcquireFile failed: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("expected parent directory to exist: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file itself should not be created, err=%v", err)
	}
}

func TestAcquireFile_ExistingFileFails(t *testing.T) {
	base := t.TempDir()
	existing := filepath.Join(base, "job.sh")
	if err := os.WriteFile(existing, []byte("#!/bin/bash\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := New(base)
	if _, err := root.AcquireFile("job.sh", AcquireOptions{}); err == nil {
		t.Fatal("expected error acquiring an existing file")
	}
	if _, err := root.AcquireFile("job.sh", AcquireOptions{ExistOK: true}); err != nil {
		t.Fatalf("ExistOK acquisition failed: %v", err)
	}
}

func TestRegistrySharedAcrossSubdirs(t *testing.T) {
	root := New(t.TempDir())

	sub, err := root.AcquireDir("scripts", AcquireOptions{})
	if err != nil {
		t.Fatalf("AcquireDir failed: %v", err)
	}

	if _, err := sub.AcquireFile("run.sh", AcquireOptions{}); err != nil {
		t.Fatalf("AcquireFile failed: %v", err)
	}
	// The same absolute path is registered in the shared registry.
	if _, err := root.AcquireFile(filepath.Join("scripts", "run.sh"), AcquireOptions{}); err == nil {
		t.Fatal("expected duplicate acquisition through parent to fail")
	}
}
