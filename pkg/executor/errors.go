package executor

import (
	"fmt"
	"strings"

	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// JobError reports a single failed job.
type JobError struct {
	Job *workflow.Job
	Err error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.Job.Describe(), e.Err)
}

// Unwrap returns the underlying error.
func (e *JobError) Unwrap() error {
	return e.Err
}

// BatchError combines the failures of one flush.
type BatchError struct {
	Failures []*JobError
	Total    int
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	reasons := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		reasons[i] = failure.Error()
	}
	return fmt.Sprintf("%d of %d batch job(s) failed:\n%s",
		len(e.Failures), e.Total, strings.Join(reasons, "\n"))
}

// combineFailures returns nil, the single failure, or a BatchError.
func combineFailures(failures []*JobError, total int) error {
	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return &BatchError{Failures: failures, Total: total}
	}
}
