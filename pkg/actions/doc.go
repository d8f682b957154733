// Package actions defines the units of work a job can execute: shell
// commands composed into scripts, and in-process Go functions.
//
// Shell actions render to an argv suitable for os/exec and to a
// shell-quoted string for display. Scripts can be wrapped with status
// tracking so detached executors can observe exit codes through the
// filesystem.
package actions
