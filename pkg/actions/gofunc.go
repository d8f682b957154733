package actions

import (
	"context"
	"fmt"
)

// GoFunc is an in-process action backed by a Go function. It can only be
// executed by the local executor; rendering it to a command is an error.
type GoFunc struct {
	// Name identifies the function in logs and error messages.
	Name string

	// Fn is the function to execute. It must be safe to call from a
	// worker goroutine.
	Fn func(ctx context.Context) error
}

// Func creates an in-process action.
func Func(name string, fn func(ctx context.Context) error) *GoFunc {
	return &GoFunc{Name: name, Fn: fn}
}

// Run executes the function.
func (g *GoFunc) Run(ctx context.Context) error {
	if g.Fn == nil {
		return fmt.Errorf("go action %q has no function", g.Name)
	}
	return g.Fn(ctx)
}

// ToCommand always fails: in-process actions have no command form.
func (g *GoFunc) ToCommand() ([]string, error) {
	return nil, fmt.Errorf("go action %q can only be executed locally", g.Name)
}

// String returns a call-like representation.
func (g *GoFunc) String() string {
	return g.Name + "()"
}
