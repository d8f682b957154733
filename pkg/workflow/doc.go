// Package workflow implements a make-style engine for file-producing
// pipelines. Jobs declare input files, output files, and an action; the
// engine skips jobs whose outputs are up to date, executes queued jobs
// through a pluggable Executor, verifies outputs afterwards, and discards
// partial outputs of failed jobs.
//
// A typical workflow collects jobs, flushes them with ExecuteJobs whenever
// later jobs depend on earlier outputs, and ends with Finalize:
//
//	wf, _ := workflow.New("example", executor.NewLocal(), workflow.Options{})
//	wf.CollectJob(workflow.JobSpec{
//		Name:    "transform",
//		Inputs:  workflow.Files("foo.in"),
//		Outputs: workflow.Files("foo.out"),
//		Action: func(j *workflow.Job) actions.Action {
//			return actions.Script(
//				actions.Command("tr", "a-z", "A-Z").
//					Stdin(j.Inputs.Path(0)).
//					Stdout(j.Outputs.Path(0)),
//			)
//		},
//	})
//	err := wf.Finalize(ctx)
package workflow
