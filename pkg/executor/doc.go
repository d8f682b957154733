// Package executor runs collected workflow jobs. Local executes jobs
// in-process or through the shell with a bounded worker pool; Detached
// hands jobs to a batch system via a Submitter and waits for their status
// files.
package executor
