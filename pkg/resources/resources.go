// Package resources loads per-job resource requirements from YAML or JSON
// documents and converts them to scheduler CLI flags.
//
// A resources document maps job names to resource objects. The special
// `__default__` entry provides defaults merged under every job's entry;
// `ncpus` always defaults to 1.
package resources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/a-ludi/dentist-workflow/pkg/actions"
)

// DefaultKey is the document entry holding defaults for all jobs.
const DefaultKey = "__default__"

var mimeTypes = map[string]string{
	".yml":  "text/yaml",
	".yaml": "text/yaml",
	".json": "application/json",
}

// Root holds the resources for all jobs of a workflow.
type Root struct {
	defaults Resources
	perJob   map[string]Resources
}

// Resources are the requirements of a single job, e.g. ncpus, time, memory.
type Resources map[string]any

// New creates an empty resources root: every job gets ncpus=1.
func New() *Root {
	return &Root{
		defaults: Resources{"ncpus": 1},
		perJob:   make(map[string]Resources),
	}
}

// Load reads a resources document. The format is chosen by file extension;
// anything other than .yml, .yaml, or .json is an error.
func Load(path string) (*Root, error) {
	mimeType, ok := mimeTypes[filepath.Ext(path)]
	if !ok {
		exts := make([]string, 0, len(mimeTypes))
		for ext := range mimeTypes {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		return nil, fmt.Errorf(
			"resources file extension must be one of %v but got %q", exts, filepath.Ext(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read resources file: %w", err)
	}

	var data map[string]any
	switch mimeType {
	case "text/yaml":
		err = yaml.Unmarshal(raw, &data)
	case "application/json":
		err = json.Unmarshal(raw, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("could not parse resources file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse builds a resources root from a decoded document.
func Parse(data map[string]any) (*Root, error) {
	root := New()
	for jobName, value := range data {
		res, err := toResources(value)
		if err != nil {
			return nil, fmt.Errorf("resources for %q: %w", jobName, err)
		}
		if jobName == DefaultKey {
			for key, val := range res {
				root.defaults[key] = val
			}
			continue
		}
		root.perJob[jobName] = res
	}
	return root, nil
}

func toResources(value any) (Resources, error) {
	switch v := value.(type) {
	case map[string]any:
		res := make(Resources, len(v))
		for key, val := range v {
			res[key] = val
		}
		return res, nil
	case map[any]any:
		res := make(Resources, len(v))
		for key, val := range v {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("resource keys must be strings, got %T", key)
			}
			res[name] = val
		}
		return res, nil
	default:
		return nil, fmt.Errorf("resources entry must be an object, got %T", value)
	}
}

// For returns the effective resources for a job: the defaults overlaid
// with the job's own entry.
func (r *Root) For(jobName string) Resources {
	res := make(Resources, len(r.defaults))
	for key, val := range r.defaults {
		res[key] = val
	}
	for key, val := range r.perJob[jobName] {
		res[key] = val
	}
	return res
}

// NCPUs returns the number of CPUs, defaulting to 1.
func (r Resources) NCPUs() int {
	switch v := r["ncpus"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 1
	}
}

// CLIOptions control how resources convert to command line flags.
type CLIOptions struct {
	ShortOptPrefix string
	ShortOptSep    string
	LongOptPrefix  string
	LongOptSep     string

	// Translate maps resource keys to option names, e.g. ncpus -> c.
	Translate map[string]string
}

// DefaultCLIOptions match common batch scheduler conventions:
// -cVALUE for single-letter options and --key=value otherwise.
func DefaultCLIOptions() CLIOptions {
	return CLIOptions{
		ShortOptPrefix: "-",
		ShortOptSep:    "",
		LongOptPrefix:  "--",
		LongOptSep:     "=",
	}
}

// ToCLI converts the resources to shell-escaped command line flags in
// deterministic (sorted) order.
func (r Resources) ToCLI(opts CLIOptions) []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, key := range keys {
		name := key
		if tr, ok := opts.Translate[key]; ok {
			name = tr
		}
		value := fmt.Sprint(r[key])

		var arg string
		if len(name) == 1 {
			arg = opts.ShortOptPrefix + name + opts.ShortOptSep + value
		} else {
			arg = opts.LongOptPrefix + name + opts.LongOptSep + value
		}
		args = append(args, actions.ShellEscape(arg))
	}
	return args
}
