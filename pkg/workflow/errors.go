package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies engine errors.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed workflow definition:
	// duplicate jobs, invalid names, missing inputs.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassExecution indicates a failure while running jobs or
	// verifying their outputs.
	ErrorClassExecution ErrorClass = "execution"
)

// Common error codes.
const (
	ErrCodeDuplicateJob      = "DUPLICATE_JOB"
	ErrCodeInvalidJob        = "INVALID_JOB"
	ErrCodeMissingInputs     = "MISSING_INPUTS"
	ErrCodeIncompleteOutputs = "INCOMPLETE_OUTPUTS"
	ErrCodeJobFailed         = "JOB_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrTargetsReached signals that all target jobs have been executed and
// the workflow definition should stop collecting further jobs.
var ErrTargetsReached = errors.New("all target jobs have been executed")

// Error is a classified workflow error. Faulty-file errors carry the
// offending paths in Files.
type Error struct {
	Class   ErrorClass
	Message string
	Code    string
	Job     string
	Files   []string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if e.Job != "" {
		fmt.Fprintf(&sb, " (job=%s)", e.Job)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if len(e.Files) > 0 {
		sb.WriteString(":\n  ")
		sb.WriteString(strings.Join(e.Files, "\n  "))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewExecutionError creates an execution error.
func NewExecutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassExecution, Message: message, Err: err}
}

// WithCode attaches an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithJob attaches the full name of the offending job.
func (e *Error) WithJob(fullName string) *Error {
	e.Job = fullName
	return e
}

// WithFiles attaches the offending file paths.
func (e *Error) WithFiles(files []string) *Error {
	e.Files = files
	return e
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsDuplicateJob reports whether err stems from collecting the same job twice.
func IsDuplicateJob(err error) bool { return hasCode(err, ErrCodeDuplicateJob) }

// IsMissingInputs reports whether err stems from missing input files.
func IsMissingInputs(err error) bool { return hasCode(err, ErrCodeMissingInputs) }

// IsIncompleteOutputs reports whether err stems from missing or outdated
// output files after execution.
func IsIncompleteOutputs(err error) bool { return hasCode(err, ErrCodeIncompleteOutputs) }

// IsJobFailed reports whether err stems from a failed job.
func IsJobFailed(err error) bool { return hasCode(err, ErrCodeJobFailed) }
