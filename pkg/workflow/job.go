package workflow

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
)

// NoIndex marks a solitary (non-batch) job.
const NoIndex = -1

// State is the lifecycle state of a job.
type State int

const (
	// StateWaiting means the job has not finished yet.
	StateWaiting State = iota

	// StateDone means the job finished successfully.
	StateDone

	// StateFailed means the job finished with a non-zero exit code.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsWaiting reports whether the job has not finished.
func (s State) IsWaiting() bool { return s == StateWaiting }

// IsFinished reports whether the job has finished, successfully or not.
func (s State) IsFinished() bool { return s != StateWaiting }

// IsDone reports whether the job finished successfully.
func (s State) IsDone() bool { return s == StateDone }

// IsFailed reports whether the job failed.
func (s State) IsFailed() bool { return s == StateFailed }

// Job is a single collected unit of work.
type Job struct {
	// Name of the job; must be a valid identifier. Jobs collected with
	// the same name and index are duplicates.
	Name string

	// Index distinguishes jobs of a batch; NoIndex for solitary jobs.
	Index int

	// Inputs must exist before the job runs.
	Inputs *FileList

	// Outputs are produced by the job and verified after execution.
	Outputs *FileList

	// Action executes the job.
	Action actions.Action

	// Resources are the effective resource requirements of the job.
	Resources map[string]any

	// State is updated by executors via Done and Failed.
	State State

	// ExitCode is -1 until the job finishes.
	ExitCode int

	// ID is assigned by detached executors, e.g. a SLURM job ID.
	ID string

	// StartedAt and FinishedAt are set by executors.
	StartedAt  time.Time
	FinishedAt time.Time

	statusFile string
}

// IsBatch reports whether the job belongs to an indexed batch.
func (j *Job) IsBatch() bool {
	return j.Index != NoIndex
}

// FullName is the name, or name.index for batch jobs.
func (j *Job) FullName() string {
	if j.IsBatch() {
		return fmt.Sprintf("%s.%d", j.Name, j.Index)
	}
	return j.Name
}

// Hash returns the MD5 hex digest of the full name. It names the job's
// status file.
func (j *Job) Hash() string {
	sum := md5.Sum([]byte(j.FullName()))
	return hex.EncodeToString(sum[:])
}

// Describe returns a human-readable job reference for logs.
func (j *Job) Describe() string {
	if j.ID == "" {
		return fmt.Sprintf("`%s`", j.FullName())
	}
	return fmt.Sprintf("`%s` (id=%s)", j.FullName(), j.ID)
}

// Done marks the job as successfully finished and removes its status file.
func (j *Job) Done() {
	j.State = StateDone
	j.ExitCode = 0
	j.FinishedAt = time.Now()
	j.CleanupTracking()
}

// Failed marks the job as failed with the given exit code and removes its
// status file.
func (j *Job) Failed(exitCode int) {
	j.State = StateFailed
	j.ExitCode = exitCode
	j.FinishedAt = time.Now()
	j.CleanupTracking()
}

// ToCommand renders the job's action to an argv.
func (j *Job) ToCommand() ([]string, error) {
	return j.Action.ToCommand()
}

// String renders the job's action shell-quoted.
func (j *Job) String() string {
	return j.Action.String()
}

// Duration returns the execution time, or zero while the job is running.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// EnableTracking sets the status file for the job and its action. The
// action must support tracking.
func (j *Job) EnableTracking(statusFile string) error {
	tracked, ok := j.Action.(actions.Tracked)
	if !ok {
		return NewValidationError(
			fmt.Sprintf("action %s does not support status tracking", j.Action),
			nil,
		).WithCode(ErrCodeInvalidJob).WithJob(j.FullName())
	}
	j.statusFile = statusFile
	tracked.EnableTracking(statusFile)
	return nil
}

// StatusFile returns the tracking path, or "" if tracking is disabled.
func (j *Job) StatusFile() string {
	return j.statusFile
}

// CleanupTracking removes the job's status file if present.
func (j *Job) CleanupTracking() {
	if j.statusFile == "" {
		return
	}
	_ = os.Remove(j.statusFile)
}

// isIdentifier mirrors the job naming rule: letters, digits, and
// underscores, not starting with a digit.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
