package actions

import (
	"fmt"
	"strings"
)

// Action is a unit of work that renders to an executable command.
type Action interface {
	// ToCommand returns the argv that executes the action.
	ToCommand() ([]string, error)

	// String returns a shell-quoted representation for display.
	String() string
}

// Tracked is implemented by actions that support status tracking through
// a file. The tracked file is touched when the action starts and receives
// the exit code when it finishes.
type Tracked interface {
	Action

	// EnableTracking sets the status file path for this action.
	EnableTracking(statusFile string)

	// StatusFile returns the tracking path, or "" if tracking is disabled.
	StatusFile() string
}

// DefaultShell is the interpreter used for shell scripts.
var DefaultShell = []string{"/bin/bash", "-c"}

// DefaultSafeMode is prepended to every shell script unless overridden.
const DefaultSafeMode = "set -euo pipefail"

// ShellCommand builds a single shell command with redirections and pipes.
// Parts are shell-escaped as they are appended.
type ShellCommand struct {
	parts  []string
	stdin  string
	stdout string
	stderr string
}

// Command creates a shell command from the given argv parts.
func Command(parts ...string) *ShellCommand {
	c := &ShellCommand{parts: make([]string, 0, len(parts))}
	for _, part := range parts {
		c.Append(part)
	}
	return c
}

// Append adds a single escaped part to the command.
func (c *ShellCommand) Append(part string) *ShellCommand {
	c.parts = append(c.parts, ShellEscape(part))
	return c
}

// AppendAll adds multiple escaped parts to the command.
func (c *ShellCommand) AppendAll(parts ...string) *ShellCommand {
	for _, part := range parts {
		c.Append(part)
	}
	return c
}

// Stdin redirects standard input from the given file.
func (c *ShellCommand) Stdin(path string) *ShellCommand {
	c.stdin = path
	return c
}

// Stdout redirects standard output to the given file.
func (c *ShellCommand) Stdout(path string) *ShellCommand {
	c.stdout = path
	return c
}

// Stderr redirects standard error to the given file.
func (c *ShellCommand) Stderr(path string) *ShellCommand {
	c.stderr = path
	return c
}

// Pipe connects the standard output of c to the standard input of next.
// The downstream command must not have its own stdin redirection. Stdout
// and stderr redirections move to the downstream command; a pending stderr
// redirection of c is emitted before the pipe operator.
func (c *ShellCommand) Pipe(next *ShellCommand) (*ShellCommand, error) {
	if next.stdin != "" {
		return nil, fmt.Errorf("cannot pipe into command with stdin redirection")
	}

	if c.stderr != "" {
		c.parts = append(c.parts, "2>", ShellEscape(c.stderr))
	}
	c.stderr = next.stderr
	c.stdout = next.stdout

	c.parts = append(c.parts, "|")
	c.parts = append(c.parts, next.parts...)

	return c, nil
}

// String renders the command including redirections.
func (c *ShellCommand) String() string {
	all := make([]string, 0, len(c.parts)+3)
	if c.stdin != "" {
		all = append(all, "< "+ShellEscape(c.stdin))
	}
	all = append(all, c.parts...)
	if c.stdout != "" {
		all = append(all, "> "+ShellEscape(c.stdout))
	}
	if c.stderr != "" {
		all = append(all, "2> "+ShellEscape(c.stderr))
	}
	return strings.Join(all, " ")
}

// ShellScript is an ordered sequence of shell commands executed by a
// single interpreter invocation. Commands are joined by `;` and prefixed
// with a safe mode line.
type ShellScript struct {
	commands   []*ShellCommand
	shell      []string
	safeMode   string
	statusFile string
}

// Script creates a shell script from the given commands using the default
// shell and safe mode.
func Script(commands ...*ShellCommand) *ShellScript {
	return &ShellScript{
		commands: commands,
		shell:    DefaultShell,
		safeMode: DefaultSafeMode,
	}
}

// WithShell overrides the interpreter argv, e.g. []string{"/bin/sh", "-c"}.
func (s *ShellScript) WithShell(shell ...string) *ShellScript {
	s.shell = shell
	return s
}

// WithSafeMode overrides the safe mode preamble. An empty string disables it.
func (s *ShellScript) WithSafeMode(safeMode string) *ShellScript {
	s.safeMode = safeMode
	return s
}

// Append adds a command to the end of the script.
func (s *ShellScript) Append(command *ShellCommand) *ShellScript {
	s.commands = append(s.commands, command)
	return s
}

// EnableTracking wraps the script so the status file is touched before the
// script body runs and receives the exit code afterwards. The exit code is
// propagated to the interpreter.
func (s *ShellScript) EnableTracking(statusFile string) {
	s.statusFile = statusFile
}

// StatusFile returns the tracking path, or "" if tracking is disabled.
func (s *ShellScript) StatusFile() string {
	return s.statusFile
}

// ToCommand renders the script to an interpreter argv.
func (s *ShellScript) ToCommand() ([]string, error) {
	scripts := make([]string, 0, len(s.commands))
	for _, command := range s.commands {
		scripts = append(scripts, command.String())
	}
	script := strings.Join(scripts, "; ")

	if s.safeMode != "" {
		script = s.safeMode + "; " + script
	}

	if s.statusFile != "" {
		statusFile := ShellEscape(s.statusFile)
		preface := "touch " + statusFile
		epilogue := fmt.Sprintf("S=$?; echo $S > %s; exit $S", statusFile)
		script = fmt.Sprintf("%s; ( %s ); %s", preface, script, epilogue)
	}

	argv := make([]string, 0, len(s.shell)+1)
	argv = append(argv, s.shell...)
	argv = append(argv, script)
	return argv, nil
}

// String renders the full interpreter invocation shell-quoted.
func (s *ShellScript) String() string {
	argv, err := s.ToCommand()
	if err != nil {
		return fmt.Sprintf("<invalid script: %v>", err)
	}
	quoted := make([]string, len(argv))
	for i, part := range argv {
		quoted[i] = ShellEscape(part)
	}
	return strings.Join(quoted, " ")
}

// ShellEscape quotes a string for safe use in a POSIX shell. Strings made
// of safe characters are returned unchanged.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	// Single quotes preserve everything except single quotes themselves,
	// which are closed, escaped, and reopened.
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./-_", r):
		default:
			return false
		}
	}
	return true
}
