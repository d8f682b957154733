package executor

import (
	"io"
	"os"
	"strconv"
	"strings"
)

// Status values for jobs tracked through status files.
const (
	// StatusAbsent means the status file does not exist yet: the job has
	// not started.
	StatusAbsent = -2

	// StatusStarted means the status file is empty: the job is running.
	StatusStarted = -1
)

// ReadStatus reads a job's status file. It returns StatusAbsent,
// StatusStarted, or the recorded exit code.
func ReadStatus(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return StatusAbsent
	}
	defer file.Close()

	// The file holds at most a short exit code; limit reads anyway.
	raw, err := io.ReadAll(io.LimitReader(file, 16))
	if err != nil {
		return StatusStarted
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		return StatusStarted
	}

	exitCode, err := strconv.Atoi(content)
	if err != nil {
		return StatusStarted
	}
	return exitCode
}
