package script

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// commandValue wraps a shell command builder for use in scripts.
type commandValue struct {
	command *actions.ShellCommand
}

func (v *commandValue) String() string        { return v.command.String() }
func (v *commandValue) Type() string          { return "cmd" }
func (v *commandValue) Freeze()               {}
func (v *commandValue) Truth() starlark.Bool  { return starlark.True }
func (v *commandValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: cmd") }

// scriptValue wraps a shell script action for use in scripts.
type scriptValue struct {
	script *actions.ShellScript
}

func (v *scriptValue) String() string        { return v.script.String() }
func (v *scriptValue) Type() string          { return "shell" }
func (v *scriptValue) Freeze()               {}
func (v *scriptValue) Truth() starlark.Bool  { return starlark.True }
func (v *scriptValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: shell") }

// toAction converts a script value to a job action. A bare cmd becomes a
// single-command shell script.
func toAction(value starlark.Value) (actions.Action, error) {
	switch v := value.(type) {
	case *scriptValue:
		return v.script, nil
	case *commandValue:
		return actions.Script(v.command), nil
	default:
		return nil, fmt.Errorf("must be a shell() or cmd() value, got %s", value.Type())
	}
}

// toFileList converts a list of path strings. A nil list means no files.
func toFileList(list *starlark.List) (*workflow.FileList, error) {
	if list == nil {
		return workflow.NoFiles(), nil
	}
	paths := make([]string, list.Len())
	for i := 0; i < list.Len(); i++ {
		path, ok := starlark.AsString(list.Index(i))
		if !ok {
			return nil, fmt.Errorf("element %d must be a string path, got %s",
				i, list.Index(i).Type())
		}
		paths[i] = path
	}
	return workflow.Files(paths...), nil
}

// stringArgs converts positional arguments to strings.
func stringArgs(name string, args starlark.Tuple) ([]string, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		part, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a string, got %s", name, i+1, arg.Type())
		}
		parts[i] = part
	}
	return parts, nil
}

// toStarlarkDict converts CLI params to a Starlark dict.
func toStarlarkDict(params map[string]any) (*starlark.Dict, error) {
	dict := starlark.NewDict(len(params))
	for key, val := range params {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}
		if err := dict.SetKey(starlark.String(key), starlarkVal); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		return toStarlarkDict(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
