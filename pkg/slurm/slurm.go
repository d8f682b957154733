package slurm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/a-ludi/dentist-workflow/pkg/resources"
	"github.com/a-ludi/dentist-workflow/pkg/telemetry"
	"github.com/a-ludi/dentist-workflow/pkg/workdir"
	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

// DefaultParams are merged under every job's resources at submission time.
var DefaultParams = resources.Resources{
	"time":        "01:00:00",
	"mem-per-cpu": "1G",
}

// translate maps resource keys to sbatch option names.
var translate = map[string]string{"ncpus": "c"}

const solitaryScript = `#!/bin/bash
%s
`

const batchScript = `#!/bin/bash

if ! [[ -v SLURM_ARRAY_TASK_ID ]]
then
    echo "missing SLURM_ARRAY_TASK_ID" >&2
    exit 1
fi

case "$SLURM_ARRAY_TASK_ID" in
%s
*)
    echo "Unhandled job id: $SLURM_ARRAY_TASK_ID" >&2
    exit 1
    ;;
esac
`

// Runner executes submission commands and writes job scripts, either on
// the local machine or on a cluster head node.
type Runner interface {
	// Run executes the argv and returns its standard output.
	Run(ctx context.Context, argv []string) (string, error)

	// WriteFile writes a job script. The path must be reachable by the
	// cluster, e.g. on a shared filesystem.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Close releases the runner's resources.
	Close() error
}

// Options configure a Submitter.
type Options struct {
	// Debug skips sbatch and runs the generated scripts locally instead.
	Debug bool

	Logger *telemetry.Logger
}

// Submitter implements detached execution on SLURM.
type Submitter struct {
	runner  Runner
	scripts *workdir.Dir
	debug   bool
	log     *telemetry.Logger
}

// NewSubmitter creates a SLURM submitter that places job scripts in the
// given directory. A nil runner submits on the local machine.
func NewSubmitter(runner Runner, scripts *workdir.Dir, opts Options) *Submitter {
	if runner == nil {
		runner = LocalRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Submitter{
		runner:  runner,
		scripts: scripts,
		debug:   opts.Debug,
		log:     logger.NewComponentLogger("slurm"),
	}
}

// Submit groups jobs by name, writes one script per group, and submits
// each with sbatch. It returns one ID per job in input order; batch jobs
// get `<slurm id>.<index>`.
func (s *Submitter) Submit(ctx context.Context, jobs []*workflow.Job) ([]string, error) {
	sorted := make([]*workflow.Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Index < sorted[j].Index
	})

	ids := make(map[*workflow.Job]string, len(jobs))
	for start := 0; start < len(sorted); {
		end := start
		for end < len(sorted) && sorted[end].Name == sorted[start].Name {
			end++
		}
		group := sorted[start:end]
		start = end

		scriptPath, err := s.scripts.AcquireFile(group[0].Name+".sh", workdir.AcquireOptions{})
		if err != nil {
			return nil, fmt.Errorf("could not acquire job script: %w", err)
		}

		if len(group) == 1 && !group[0].IsBatch() {
			id, err := s.submitSolitary(ctx, group[0], scriptPath)
			if err != nil {
				return nil, err
			}
			ids[group[0]] = id
		} else {
			groupIDs, err := s.submitBatch(ctx, group, scriptPath)
			if err != nil {
				return nil, err
			}
			for i, job := range group {
				ids[job] = groupIDs[i]
			}
		}
	}

	result := make([]string, len(jobs))
	for i, job := range jobs {
		result[i] = ids[job]
	}
	return result, nil
}

func (s *Submitter) submitSolitary(ctx context.Context, job *workflow.Job, scriptPath string) (string, error) {
	script := fmt.Sprintf(solitaryScript, job.String())
	if err := s.runner.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("could not write job script %s: %w", scriptPath, err)
	}
	return s.submitScript(ctx, scriptPath, jobParams(job.Resources, ""))
}

func (s *Submitter) submitBatch(ctx context.Context, group []*workflow.Job, scriptPath string) ([]string, error) {
	arms := make([]string, len(group))
	indices := make([]string, len(group))
	for i, job := range group {
		if !job.IsBatch() {
			return nil, fmt.Errorf(
				"job %s mixes solitary and batch submissions under one name", job.Describe())
		}
		arms[i] = fmt.Sprintf("%d) %s ;;", job.Index, job.String())
		indices[i] = fmt.Sprintf("%d", job.Index)
	}

	script := fmt.Sprintf(batchScript, strings.Join(arms, "\n"))
	if err := s.runner.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return nil, fmt.Errorf("could not write job script %s: %w", scriptPath, err)
	}

	params := jobParams(group[0].Resources, strings.Join(indices, ","))
	slurmID, err := s.submitScript(ctx, scriptPath, params)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(group))
	for i, job := range group {
		ids[i] = fmt.Sprintf("%s.%d", slurmID, job.Index)
	}
	return ids, nil
}

func (s *Submitter) submitScript(ctx context.Context, scriptPath string, params []string) (string, error) {
	argv := make([]string, 0, len(params)+3)
	argv = append(argv, "sbatch", "--parsable")
	argv = append(argv, params...)
	argv = append(argv, scriptPath)
	s.log.Debugf("submitting using %s", strings.Join(argv, " "))

	if s.debug {
		cmd := exec.Command("/bin/bash", scriptPath)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return "", fmt.Errorf("could not run job script %s: %w", scriptPath, err)
		}
		return "DEBUG", nil
	}

	stdout, err := s.runner.Run(ctx, argv)
	if err != nil {
		return "", fmt.Errorf("sbatch failed: %w", err)
	}

	// With --parsable sbatch prints `<job id>` or `<job id>;<cluster>`.
	return strings.ReplaceAll(strings.TrimSpace(stdout), ";", "/"), nil
}

// jobParams converts a job's resources to sbatch flags, merged over
// DefaultParams. A non-empty array value adds the --array flag.
func jobParams(res map[string]any, array string) []string {
	merged := make(resources.Resources, len(DefaultParams)+len(res)+1)
	for key, val := range DefaultParams {
		merged[key] = val
	}
	for key, val := range res {
		merged[key] = val
	}
	if array != "" {
		merged["array"] = array
	}

	opts := resources.DefaultCLIOptions()
	opts.Translate = translate
	return merged.ToCLI(opts)
}
