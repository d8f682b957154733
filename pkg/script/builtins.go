package script

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// builtinCmd implements cmd(*parts, stdin=None, stdout=None, stderr=None).
func builtinCmd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	parts, err := stringArgs(b.Name(), args)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s: at least one command part is required", b.Name())
	}

	command := actions.Command(parts...)
	for _, kwarg := range kwargs {
		key, ok := kwarg[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s: keyword must be a string", b.Name())
		}
		value, ok := starlark.AsString(kwarg[1])
		if !ok {
			return nil, fmt.Errorf("%s: %s must be a string path", b.Name(), key)
		}
		switch string(key) {
		case "stdin":
			command.Stdin(value)
		case "stdout":
			command.Stdout(value)
		case "stderr":
			command.Stderr(value)
		default:
			return nil, fmt.Errorf("%s: unexpected keyword argument %q", b.Name(), key)
		}
	}

	return &commandValue{command: command}, nil
}

// builtinPipe implements pipe(cmd, cmd, ...): a pipeline of commands.
func builtinPipe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: at least two commands are required", b.Name())
	}

	commands := make([]*actions.ShellCommand, len(args))
	for i, arg := range args {
		cmd, ok := arg.(*commandValue)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a cmd, got %s", b.Name(), i+1, arg.Type())
		}
		commands[i] = cmd.command
	}

	pipeline := commands[0]
	for _, next := range commands[1:] {
		var err error
		pipeline, err = pipeline.Pipe(next)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return &commandValue{command: pipeline}, nil
}

// builtinShell implements shell(*cmds, safe_mode=...): a shell script
// action executing the commands in order.
func builtinShell(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	commands := make([]*actions.ShellCommand, len(args))
	for i, arg := range args {
		cmd, ok := arg.(*commandValue)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a cmd, got %s", b.Name(), i+1, arg.Type())
		}
		commands[i] = cmd.command
	}

	script := actions.Script(commands...)
	for _, kwarg := range kwargs {
		key, ok := kwarg[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s: keyword must be a string", b.Name())
		}
		switch string(key) {
		case "safe_mode":
			value, ok := starlark.AsString(kwarg[1])
			if !ok {
				return nil, fmt.Errorf("%s: safe_mode must be a string", b.Name())
			}
			script.WithSafeMode(value)
		default:
			return nil, fmt.Errorf("%s: unexpected keyword argument %q", b.Name(), key)
		}
	}

	return &scriptValue{script: script}, nil
}

// collectJobBuiltin implements collect_job(name=..., action=...,
// inputs=[...], outputs=[...], index=None).
func collectJobBuiltin(w *workflow.Workflow) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var action starlark.Value
		var inputs, outputs *starlark.List
		index := starlark.Value(starlark.None)
		err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name,
			"action", &action,
			"inputs?", &inputs,
			"outputs?", &outputs,
			"index?", &index,
		)
		if err != nil {
			return nil, err
		}

		spec := workflow.JobSpec{Name: name}

		if spec.Inputs, err = toFileList(inputs); err != nil {
			return nil, fmt.Errorf("%s: inputs: %w", b.Name(), err)
		}
		if spec.Outputs, err = toFileList(outputs); err != nil {
			return nil, fmt.Errorf("%s: outputs: %w", b.Name(), err)
		}

		if index != starlark.None {
			i, err := starlark.AsInt32(index)
			if err != nil {
				return nil, fmt.Errorf("%s: index must be an int: %w", b.Name(), err)
			}
			spec.Index = workflow.BatchIndex(i)
		}

		jobAction, err := toAction(action)
		if err != nil {
			return nil, fmt.Errorf("%s: action: %w", b.Name(), err)
		}
		spec.Action = func(*workflow.Job) actions.Action { return jobAction }

		job, err := w.CollectJob(spec)
		if err != nil {
			return nil, err
		}
		return jobStruct(job), nil
	}
}

// executeJobsBuiltin implements execute_jobs(): flush the queued jobs.
func executeJobsBuiltin(ctx context.Context, w *workflow.Workflow) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 || len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: takes no arguments", b.Name())
		}
		if err := w.ExecuteJobs(ctx); err != nil {
			return nil, err
		}
		return starlark.None, nil
	}
}

// jobsBuiltin implements jobs(name): access a collected solitary job.
func jobsBuiltin(w *workflow.Workflow) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		job, ok := w.Job(name)
		if !ok {
			return nil, fmt.Errorf("%s: no job named %q has been collected", b.Name(), name)
		}
		return jobStruct(job), nil
	}
}

// batchJobsBuiltin implements batch_jobs(name): access a collected batch.
func batchJobsBuiltin(w *workflow.Workflow) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		batch := w.BatchJobs(name)
		items := make([]starlark.Value, len(batch))
		for i, job := range batch {
			items[i] = jobStruct(job)
		}
		return starlark.NewList(items), nil
	}
}

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// jobStruct exposes a collected job to the script.
func jobStruct(job *workflow.Job) *starlarkstruct.Struct {
	outputs := make([]starlark.Value, 0, job.Outputs.Len())
	for _, path := range job.Outputs.Paths() {
		outputs = append(outputs, starlark.String(path))
	}
	inputs := make([]starlark.Value, 0, job.Inputs.Len())
	for _, path := range job.Inputs.Paths() {
		inputs = append(inputs, starlark.String(path))
	}

	index := starlark.Value(starlark.None)
	if job.IsBatch() {
		index = starlark.MakeInt(job.Index)
	}

	return starlarkstruct.FromStringDict(starlark.String("job"), starlark.StringDict{
		"name":      starlark.String(job.Name),
		"full_name": starlark.String(job.FullName()),
		"index":     index,
		"state":     starlark.String(job.State.String()),
		"inputs":    starlark.NewList(inputs),
		"outputs":   starlark.NewList(outputs),
	})
}
