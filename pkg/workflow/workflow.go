package workflow

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
	"github.com/a-ludi/dentist-workflow/pkg/resources"
	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workdir"
)

// ExecOptions are passed to executors for each flush.
type ExecOptions struct {
	PrintCommands bool
	Threads       int
}

// Executor runs a batch of queued jobs. Implementations mark each job via
// Job.Done or Job.Failed.
type Executor interface {
	// Execute runs the jobs. Execution errors are returned after all
	// jobs have reached a final state.
	Execute(ctx context.Context, jobs []*Job, opts ExecOptions) error

	// RequiresStatusTracking reports whether jobs need status files,
	// e.g. for detached cluster execution.
	RequiresStatusTracking() bool
}

// RunRecord summarizes one workflow run for the history store.
type RunRecord struct {
	ID          string
	Workflow    string
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Executed    int
	Failed      int
	Skipped     int
}

// JobRecord summarizes one executed job for the history store.
type JobRecord struct {
	RunID    string
	FullName string
	State    string
	ExitCode int
	Duration time.Duration
}

// RunRecorder persists run history. Implementations must tolerate being
// called from the run goroutine only.
type RunRecorder interface {
	StartRun(ctx context.Context, run *RunRecord) error
	RecordJob(ctx context.Context, rec *JobRecord) error
	CompleteRun(ctx context.Context, run *RunRecord) error
}

// Run statuses recorded to the history store.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// DefaultWorkflowDir is where the engine keeps its private files,
// relative to the workflow root.
const DefaultWorkflowDir = ".workflow"

// Options configure a workflow.
type Options struct {
	// WorkflowRoot is the directory the workflow operates in. Defaults
	// to the current directory.
	WorkflowRoot string

	// WorkflowDir holds engine-private files below WorkflowRoot.
	WorkflowDir string `validate:"required"`

	// DryRun displays what would be done without executing anything.
	DryRun bool

	// PrintCommands prints each executed command.
	PrintCommands bool

	// Force unconditionally recreates files.
	Force bool

	// Touch marks outputs up to date instead of running commands. New
	// files are not created.
	Touch bool

	// DeleteOutputs deletes all outputs collected during the run.
	// Implies DryRun and Force.
	DeleteOutputs bool

	// Threads bounds local parallel execution.
	Threads int `validate:"gte=1"`

	// Targets stops the workflow once all named jobs have been executed,
	// successfully or not.
	Targets []string

	// ResourcesFile points to a YAML or JSON resources document.
	ResourcesFile string

	// Resources overrides ResourcesFile with an in-memory document.
	Resources *resources.Root `validate:"-"`

	// DebugFlags activate specific debugging facilities, e.g. "slurm"
	// or "metrics".
	DebugFlags map[string]bool `validate:"-"`

	// Workdir overrides the managed working directory. When nil, one is
	// created at WorkflowRoot/WorkflowDir.
	Workdir *workdir.Dir `validate:"-"`

	// Logger defaults to a silent logger.
	Logger *telemetry.Logger `validate:"-"`

	// Metrics collects execution metrics when set.
	Metrics *telemetry.Metrics `validate:"-"`

	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer `validate:"-"`

	// Recorder persists run history when set.
	Recorder RunRecorder `validate:"-"`
}

func (o *Options) withDefaults() {
	if o.WorkflowRoot == "" {
		o.WorkflowRoot = "."
	}
	if o.WorkflowDir == "" {
		o.WorkflowDir = DefaultWorkflowDir
	}
	if o.Threads == 0 {
		o.Threads = 1
	}
	if o.DeleteOutputs {
		o.DryRun = true
		o.Force = true
	}
	if o.Logger == nil {
		o.Logger = telemetry.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("dentist-workflow")
	}
}

// ActionFunc builds the action of a job once its inputs, outputs, and
// resources are resolved.
type ActionFunc func(j *Job) actions.Action

// JobSpec declares a job for collection.
type JobSpec struct {
	// Name must be a valid identifier.
	Name string

	// Index makes the job part of an indexed batch. Nil for solitary
	// jobs; see BatchIndex.
	Index *int

	// Inputs must exist at collection time. Nil means no inputs.
	Inputs *FileList

	// Outputs are produced by the job. Nil means no outputs.
	Outputs *FileList

	// Action builds the job's action.
	Action ActionFunc
}

// BatchIndex is a convenience for JobSpec.Index.
func BatchIndex(i int) *int {
	return &i
}

// Workflow collects and executes jobs.
type Workflow struct {
	name     string
	executor Executor
	opts     Options
	log      *telemetry.Logger

	workdir   *workdir.Dir
	statusDir *workdir.Dir
	resources *resources.Root

	queue   []*Job
	jobs    map[string]*Job
	batches map[string]map[int]*Job

	run            RunRecord
	targetsReached bool
	finalized      bool
}

// New creates a workflow running jobs through the given executor.
func New(name string, exec Executor, opts Options) (*Workflow, error) {
	if exec == nil {
		return nil, NewValidationError("workflow executor is nil", nil).
			WithCode(ErrCodeInternal)
	}
	opts.withDefaults()
	if err := validator.New().Struct(&opts); err != nil {
		return nil, NewValidationError("invalid workflow options", err).
			WithCode(ErrCodeInvalidJob)
	}

	wd := opts.Workdir
	if wd == nil {
		wd = workdir.New(joinPath(opts.WorkflowRoot, opts.WorkflowDir))
	}

	res := opts.Resources
	if res == nil && opts.ResourcesFile != "" {
		loaded, err := resources.Load(joinPath(opts.WorkflowRoot, opts.ResourcesFile))
		if err != nil {
			return nil, NewValidationError("could not load resources", err)
		}
		res = loaded
	}
	if res == nil {
		res = resources.New()
	}

	w := &Workflow{
		name:      name,
		executor:  exec,
		opts:      opts,
		log:       opts.Logger.NewComponentLogger("workflow").WithField("workflow", name),
		workdir:   wd,
		resources: res,
		jobs:      make(map[string]*Job),
		batches:   make(map[string]map[int]*Job),
		run: RunRecord{
			ID:        uuid.New().String(),
			Workflow:  name,
			Status:    RunStatusRunning,
			StartedAt: time.Now(),
		},
	}

	if exec.RequiresStatusTracking() {
		statusDir, err := wd.AcquireDir("status", workdir.AcquireOptions{ForceEmpty: true, ExistOK: true})
		if err != nil {
			return nil, NewExecutionError("could not prepare status directory", err)
		}
		w.statusDir = statusDir
	}

	if opts.Recorder != nil {
		if err := opts.Recorder.StartRun(context.Background(), &w.run); err != nil {
			return nil, NewExecutionError("could not record run start", err)
		}
	}

	w.log.Infof("executing workflow `%s`", name)
	return w, nil
}

// Name returns the workflow name.
func (w *Workflow) Name() string {
	return w.name
}

// RunID returns the unique ID of this run.
func (w *Workflow) RunID() string {
	return w.run.ID
}

// Workdir returns the managed working directory of this run.
func (w *Workflow) Workdir() *workdir.Dir {
	return w.workdir
}

// CollectJob validates and queues a job. Up-to-date jobs are skipped
// unless the workflow is forced. Returns ErrTargetsReached once all
// target jobs have been executed.
func (w *Workflow) CollectJob(spec JobSpec) (*Job, error) {
	if w.targetsReached {
		return nil, ErrTargetsReached
	}
	if !isIdentifier(spec.Name) {
		return nil, NewValidationError(
			fmt.Sprintf("job names must be valid identifiers, got %q", spec.Name), nil).
			WithCode(ErrCodeInvalidJob)
	}
	if spec.Index != nil && *spec.Index < 0 {
		return nil, NewValidationError("job index must be >= 0", nil).
			WithCode(ErrCodeInvalidJob).WithJob(spec.Name)
	}
	if spec.Action == nil {
		return nil, NewValidationError("job has no action", nil).
			WithCode(ErrCodeInvalidJob).WithJob(spec.Name)
	}

	job := &Job{
		Name:      spec.Name,
		Index:     NoIndex,
		Inputs:    spec.Inputs,
		Outputs:   spec.Outputs,
		Resources: w.resources.For(spec.Name),
		State:     StateWaiting,
		ExitCode:  -1,
	}
	if spec.Index != nil {
		job.Index = *spec.Index
	}
	if job.Inputs == nil {
		job.Inputs = NoFiles()
	}
	if job.Outputs == nil {
		job.Outputs = NoFiles()
	}

	job.Action = spec.Action(job)
	if job.Action == nil {
		return nil, NewValidationError("job action builder returned nil", nil).
			WithCode(ErrCodeInvalidJob).WithJob(job.FullName())
	}

	if err := w.checkInputs(job); err != nil {
		return nil, err
	}
	if err := w.register(job); err != nil {
		return nil, err
	}

	upToDate := w.isUpToDate(job.Inputs.Paths(), job.Outputs.Paths())
	if w.opts.Force || !upToDate {
		forceSuffix := ""
		if upToDate {
			forceSuffix = " (forced)"
		}
		w.log.Debugf("queued job %s%s", job.Describe(), forceSuffix)
		w.queue = append(w.queue, job)
	} else {
		w.log.Debugf("skipping job %s: all outputs are up-to-date", job.Describe())
		w.run.Skipped++
		if w.opts.Metrics != nil {
			w.opts.Metrics.JobsSkipped.Inc()
		}
		job.Done()
	}

	if w.statusDir != nil {
		statusFile, err := w.statusDir.AcquireFile(job.Hash(), workdir.AcquireOptions{})
		if err != nil {
			return nil, NewExecutionError("could not acquire status file", err).
				WithJob(job.FullName())
		}
		if err := job.EnableTracking(statusFile); err != nil {
			return nil, err
		}
	}

	// A skipped job may complete a target set without any flush.
	w.updateTargets()

	return job, nil
}

// register deduplicates jobs by name and index.
func (w *Workflow) register(job *Job) error {
	if job.IsBatch() {
		if _, clash := w.jobs[job.Name]; clash {
			return NewValidationError(
				fmt.Sprintf("job name %q is already used by a solitary job", job.Name), nil).
				WithCode(ErrCodeDuplicateJob).WithJob(job.FullName())
		}
		batch, ok := w.batches[job.Name]
		if !ok {
			batch = make(map[int]*Job)
			w.batches[job.Name] = batch
		}
		if _, dup := batch[job.Index]; dup {
			return NewValidationError("duplicate job", nil).
				WithCode(ErrCodeDuplicateJob).WithJob(job.FullName())
		}
		batch[job.Index] = job
		return nil
	}

	if _, clash := w.batches[job.Name]; clash {
		return NewValidationError(
			fmt.Sprintf("job name %q is already used by a batch", job.Name), nil).
			WithCode(ErrCodeDuplicateJob).WithJob(job.FullName())
	}
	if _, dup := w.jobs[job.Name]; dup {
		return NewValidationError("duplicate job", nil).
			WithCode(ErrCodeDuplicateJob).WithJob(job.FullName())
	}
	w.jobs[job.Name] = job
	return nil
}

// Job returns a collected solitary job by name.
func (w *Workflow) Job(name string) (*Job, bool) {
	job, ok := w.jobs[name]
	return job, ok
}

// BatchJobs returns the collected jobs of a batch sorted by index.
func (w *Workflow) BatchJobs(name string) []*Job {
	batch := w.batches[name]
	jobs := make([]*Job, 0, len(batch))
	for _, job := range batch {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Index < jobs[k].Index })
	return jobs
}

// Outputs returns all output paths of the named job or batch, in index
// order for batches.
func (w *Workflow) Outputs(name string) []string {
	if job, ok := w.jobs[name]; ok {
		return job.Outputs.Paths()
	}
	var paths []string
	for _, job := range w.BatchJobs(name) {
		paths = append(paths, job.Outputs.Paths()...)
	}
	return paths
}

// ExecuteJobs flushes the queued jobs through the executor.
func (w *Workflow) ExecuteJobs(ctx context.Context) error {
	return w.executeJobs(ctx, false)
}

// Finalize flushes remaining jobs and completes the run. It must be
// called exactly once at the end of the workflow definition.
func (w *Workflow) Finalize(ctx context.Context) error {
	if w.finalized {
		return NewValidationError("workflow has already been finalized", nil).
			WithCode(ErrCodeInternal)
	}
	w.finalized = true

	execErr := w.executeJobs(ctx, true)

	if w.opts.DeleteOutputs {
		w.deleteCollectedOutputs()
	}

	w.run.CompletedAt = time.Now()
	if execErr != nil {
		w.run.Status = RunStatusFailed
	} else {
		w.run.Status = RunStatusSucceeded
	}
	if w.opts.Recorder != nil {
		if err := w.opts.Recorder.CompleteRun(ctx, &w.run); err != nil && execErr == nil {
			execErr = NewExecutionError("could not record run completion", err)
		}
	}

	if w.opts.DebugFlags["metrics"] && w.opts.Metrics != nil {
		dump, err := w.opts.Metrics.Dump()
		if err == nil {
			w.log.Debugf("metrics:\n%s", dump)
		}
	}

	return execErr
}

// Abort completes the run record as failed without flushing the queue.
// It is used when the workflow definition itself fails.
func (w *Workflow) Abort(ctx context.Context) {
	if w.finalized {
		return
	}
	w.finalized = true

	w.run.CompletedAt = time.Now()
	w.run.Status = RunStatusFailed
	if w.opts.Recorder != nil {
		if err := w.opts.Recorder.CompleteRun(ctx, &w.run); err != nil {
			w.log.Warnf("could not record run completion: %v", err)
		}
	}
}

func (w *Workflow) executeJobs(ctx context.Context, final bool) error {
	suffix := ""
	if w.opts.DryRun {
		suffix = " (dry run)"
	}

	if len(w.queue) == 0 {
		if final {
			w.log.Infof("nothing to be done%s", suffix)
		} else {
			w.log.Debugf("no jobs to be flushed%s", suffix)
		}
		return nil
	}

	ctx, span := w.opts.Tracer.Start(ctx, "workflow.flush", trace.WithAttributes(
		attribute.String("workflow", w.name),
		attribute.Int("jobs.queued", len(w.queue)),
	))
	defer span.End()

	if w.opts.Metrics != nil {
		w.opts.Metrics.QueueLength.Set(float64(len(w.queue)))
		defer w.opts.Metrics.QueueLength.Set(0)
	}

	err := w.flushQueue(ctx)
	if err != nil {
		return err
	}

	if final {
		w.log.Infof("all jobs done%s", suffix)
	} else {
		w.log.Debugf("flushed jobs%s", suffix)
	}
	return nil
}

func (w *Workflow) flushQueue(ctx context.Context) error {
	queue := w.queue

	var execErr error
	switch {
	case w.opts.Touch:
		w.touchJobs(queue)
	case w.opts.DryRun:
		for _, job := range queue {
			if w.opts.PrintCommands {
				fmt.Println(job)
			}
			job.Done()
		}
	default:
		execErr = w.executor.Execute(ctx, queue, ExecOptions{
			PrintCommands: w.opts.PrintCommands,
			Threads:       w.opts.Threads,
		})
	}

	w.recordJobs(ctx, queue)

	if execErr != nil {
		w.discardFailedOutputs(queue)
		if _, ok := execErr.(*Error); !ok {
			execErr = NewExecutionError("job execution failed", execErr).
				WithCode(ErrCodeJobFailed)
		}
		return execErr
	}

	// Outputs must exist and be no older than the inputs after a real run.
	if !w.opts.DryRun && !w.opts.Touch {
		var incomplete []string
		for _, job := range queue {
			incomplete = append(incomplete, w.staleOutputs(job)...)
		}
		if len(incomplete) > 0 {
			return NewExecutionError("missing or out-dated output file(s)", nil).
				WithCode(ErrCodeIncompleteOutputs).WithFiles(incomplete)
		}
	}

	w.queue = nil
	w.updateTargets()
	return nil
}

// touchJobs marks outputs up to date without running commands. Files that
// do not exist yet are not created.
func (w *Workflow) touchJobs(queue []*Job) {
	now := time.Now()
	for _, job := range queue {
		for _, output := range job.Outputs.Paths() {
			if _, err := os.Stat(output); err != nil {
				continue
			}
			if err := os.Chtimes(output, now, now); err != nil {
				w.log.Warnf("could not touch %s: %v", output, err)
			}
		}
		job.Done()
	}
}

func (w *Workflow) recordJobs(ctx context.Context, queue []*Job) {
	for _, job := range queue {
		if job.State.IsDone() {
			w.run.Executed++
			if w.opts.Metrics != nil {
				w.opts.Metrics.JobsExecuted.Inc()
				w.opts.Metrics.JobDuration.Observe(job.Duration().Seconds())
			}
		} else if job.State.IsFailed() {
			w.run.Failed++
			if w.opts.Metrics != nil {
				w.opts.Metrics.JobsFailed.Inc()
			}
		}

		if w.opts.Recorder != nil {
			rec := &JobRecord{
				RunID:    w.run.ID,
				FullName: job.FullName(),
				State:    job.State.String(),
				ExitCode: job.ExitCode,
				Duration: job.Duration(),
			}
			if err := w.opts.Recorder.RecordJob(ctx, rec); err != nil {
				w.log.Warnf("could not record job %s: %v", job.Describe(), err)
			}
		}
	}
}

// discardFailedOutputs deletes the outputs of failed jobs so partial
// results never satisfy a later up-to-date check.
func (w *Workflow) discardFailedOutputs(queue []*Job) {
	for _, job := range queue {
		if !job.State.IsFailed() {
			continue
		}
		files := job.Outputs.Paths()
		if len(files) == 0 {
			continue
		}
		w.log.Debugf("discarding files: %v", files)
		for _, file := range files {
			_ = os.Remove(file)
		}
	}
}

func (w *Workflow) deleteCollectedOutputs() {
	for _, job := range w.allJobs() {
		for _, output := range job.Outputs.Paths() {
			if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
				w.log.Warnf("could not delete output %s: %v", output, err)
			}
		}
	}
}

func (w *Workflow) allJobs() []*Job {
	jobs := make([]*Job, 0, len(w.jobs))
	for _, job := range w.jobs {
		jobs = append(jobs, job)
	}
	for name := range w.batches {
		jobs = append(jobs, w.BatchJobs(name)...)
	}
	return jobs
}

func (w *Workflow) updateTargets() {
	if len(w.opts.Targets) == 0 || w.targetsReached {
		return
	}
	for _, target := range w.opts.Targets {
		if job, ok := w.jobs[target]; ok {
			if !job.State.IsFinished() {
				return
			}
			continue
		}
		batch := w.BatchJobs(target)
		if len(batch) == 0 {
			return
		}
		for _, job := range batch {
			if !job.State.IsFinished() {
				return
			}
		}
	}
	w.targetsReached = true
	w.log.Infof("all target jobs have been executed")
}

func (w *Workflow) checkInputs(job *Job) error {
	var missing []string
	for _, input := range job.Inputs.Paths() {
		if _, err := os.Stat(input); err != nil {
			missing = append(missing, input)
		}
	}
	if len(missing) > 0 {
		return NewValidationError("missing input file(s)", nil).
			WithCode(ErrCodeMissingInputs).WithJob(job.FullName()).WithFiles(missing)
	}
	return nil
}

// isUpToDate implements the make rule: with no inputs a job is up to date
// iff every output exists; otherwise iff no output is older than the
// newest input.
func (w *Workflow) isUpToDate(inputs, outputs []string) bool {
	inputTime, haveInputs := maxMTime(inputs)
	outputTime, allOutputs := minMTime(outputs)

	if !haveInputs {
		return allOutputs
	}
	return allOutputs && !inputTime.After(outputTime)
}

// staleOutputs returns the job's outputs that are missing or older than
// the newest input.
func (w *Workflow) staleOutputs(job *Job) []string {
	inputTime, haveInputs := maxMTime(job.Inputs.Paths())

	var stale []string
	for _, output := range job.Outputs.Paths() {
		info, err := os.Stat(output)
		if err != nil {
			stale = append(stale, output)
			continue
		}
		if haveInputs && info.ModTime().Before(inputTime) {
			stale = append(stale, output)
		}
	}
	return stale
}

// maxMTime returns the newest modification time. The second return is
// false when the list is empty.
func maxMTime(paths []string) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !found || info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		found = true
	}
	return newest, len(paths) > 0
}

// minMTime returns the oldest modification time of the given files. The
// second return is false when any file is missing; an empty list yields
// true.
func minMTime(paths []string) (time.Time, bool) {
	var oldest time.Time
	first := true
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, false
		}
		if first || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
		first = false
	}
	return oldest, true
}

func joinPath(root, path string) string {
	if path == "" {
		return root
	}
	if path[0] == '/' {
		return path
	}
	if root == "" || root == "." {
		return path
	}
	return root + "/" + path
}
