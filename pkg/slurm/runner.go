package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// LocalRunner submits on the machine the engine runs on. This is the
// common case when the engine itself runs on the cluster head node.
type LocalRunner struct{}

// Run executes the argv locally and returns its standard output. Standard
// error is passed through.
func (LocalRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// WriteFile writes the script to the local filesystem.
func (LocalRunner) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// Close is a no-op.
func (LocalRunner) Close() error {
	return nil
}
