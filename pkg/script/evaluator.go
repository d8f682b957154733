// Package script evaluates Starlark workflow definitions. A workflow
// script collects jobs through builtins backed by a workflow instance;
// evaluation runs on its own goroutine with a timeout.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// DefaultTimeout bounds the evaluation of a workflow script. The limit
// covers job execution too since collection and execution interleave.
const DefaultTimeout = 24 * time.Hour

// fileOptions allow the imperative style workflow scripts are written in:
// top-level loops over batch indices, reassignment of globals, and
// recursion.
var fileOptions = &syntax.FileOptions{
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Evaluator executes Starlark workflow scripts.
type Evaluator struct {
	timeout time.Duration
	log     *telemetry.Logger
}

// NewEvaluator creates an evaluator. A zero timeout uses DefaultTimeout;
// a nil logger is silent.
func NewEvaluator(timeout time.Duration, logger *telemetry.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Evaluator{
		timeout: timeout,
		log:     logger.NewComponentLogger("script"),
	}
}

// RunFile evaluates the workflow script at the given path against the
// workflow. Params are exposed to the script as the `params` dict.
func (e *Evaluator) RunFile(ctx context.Context, path string, w *workflow.Workflow, params map[string]any) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read workflow script: %w", err)
	}
	return e.Run(ctx, path, source, w, params)
}

// Run evaluates a workflow script from source. The name is used in error
// messages and backtraces.
func (e *Evaluator) Run(ctx context.Context, name string, source []byte, w *workflow.Workflow, params map[string]any) error {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.runSync(evalCtx, name, source, w, params)
	}()

	select {
	case <-evalCtx.Done():
		// The Starlark thread is cancelled by the context watcher; wait
		// for the script goroutine so the workflow is quiesced before
		// callers touch it again.
		<-errCh
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("workflow script timed out after %v", e.timeout)
		}
		return evalCtx.Err()
	case err := <-errCh:
		return err
	}
}

func (e *Evaluator) runSync(ctx context.Context, name string, source []byte, w *workflow.Workflow, params map[string]any) error {
	thread := &starlark.Thread{
		Name: "dentist-workflow",
		Print: func(_ *starlark.Thread, msg string) {
			e.log.Infof("%s", msg)
		},
	}

	// Interrupt the script when the context expires; builtins that block
	// on the context return on their own.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-watchDone:
		}
	}()

	paramsDict, err := toStarlarkDict(params)
	if err != nil {
		return fmt.Errorf("could not convert params: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct":       starlarkstruct.Default,
		"params":       paramsDict,
		"cmd":          starlark.NewBuiltin("cmd", builtinCmd),
		"pipe":         starlark.NewBuiltin("pipe", builtinPipe),
		"shell":        starlark.NewBuiltin("shell", builtinShell),
		"collect_job":  starlark.NewBuiltin("collect_job", collectJobBuiltin(w)),
		"execute_jobs": starlark.NewBuiltin("execute_jobs", executeJobsBuiltin(ctx, w)),
		"jobs":         starlark.NewBuiltin("jobs", jobsBuiltin(w)),
		"batch_jobs":   starlark.NewBuiltin("batch_jobs", batchJobsBuiltin(w)),
	}

	_, err = starlark.ExecFileOptions(fileOptions, thread, name, source, predeclared)
	if errors.Is(err, workflow.ErrTargetsReached) {
		// Reaching the targets ends the definition early by design of
		// the collect loop; it is not a script failure.
		e.log.Debugf("workflow script stopped: targets reached")
		return nil
	}
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			var wfErr *workflow.Error
			if errors.As(err, &wfErr) {
				return wfErr
			}
			return fmt.Errorf("workflow script failed: %s", evalErr.Backtrace())
		}
		return fmt.Errorf("workflow script failed: %w", err)
	}
	return nil
}
