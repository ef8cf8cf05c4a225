// Package audit implements the dependency audit pipeline for a ComfyUI
// installation.
//
// This package ties the other building blocks together and can be used by
// the CLI, the HTTP API, and the watch loop. Centralizing the pipeline
// keeps the verdicts identical no matter which entry point triggered a run.
//
// # Architecture
//
// A run walks through five stages:
//
//  1. Aggregate: collect requirement declarations from the root and every
//     custom node directory
//  2. Snapshot: capture the installed packages and interpreter version
//     from the target environment
//  3. Resolve: fetch the release listing per package and compute the
//     greatest version the combined constraints allow
//  4. Probe: dry-run install the upgrade candidates to see whether pip
//     would actually accept them
//  5. Classify: bucket every package and assemble the command plan
//
// Stages run strictly in order. Per-package failures inside a stage are
// recorded on that package's report and never abort the run; only an
// unusable pip or a canceled context does.
//
// # Usage
//
// Create a Runner and execute a run:
//
//	runner := audit.NewRunner(pypiClient, tool, prober, logger)
//	result, err := runner.Run(ctx, audit.Options{
//	    RootDir:    "/opt/ComfyUI",
//	    PluginDirs: pluginDirs,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rep := range result.Reports {
//	    fmt.Println(rep.Name, rep.Bucket)
//	}
package audit

import (
	"context"
	"time"

	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations/pypi"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
	"github.com/matzehuels/comfyaudit/pkg/probe"
	"github.com/matzehuels/comfyaudit/pkg/requirements"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Index is the slice of the package index the pipeline needs.
// *pypi.Client implements it.
type Index interface {
	FetchIndex(ctx context.Context, pkg string, refresh bool) (*pypi.PackageIndex, error)
}

// PipTool is what the pipeline needs from the pip wrapper: an
// installed-versions snapshot, the interpreter version, and rendered
// command lines for suggestions. *probe.Tool implements it.
type PipTool interface {
	Installed(ctx context.Context) (map[string]pep440.Version, error)
	PythonVersion(ctx context.Context) (string, error)
	CommandLine(args ...string) string
}

// InstallProber verifies upgrade candidates. *probe.Prober implements it.
type InstallProber interface {
	Probe(ctx context.Context, name string, version pep440.Version, specs []pep440.Specifier) (probe.Result, error)
}

// =============================================================================
// Progress Events
// =============================================================================

// Phase identifies a pipeline stage for progress reporting.
type Phase string

const (
	PhaseAggregate Phase = "aggregate"
	PhaseSnapshot  Phase = "snapshot"
	PhaseResolve   Phase = "resolve"
	PhaseProbe     Phase = "probe"
)

// Event is one progress tick emitted while a run works through its
// packages. Current and Total are zero for phases without a per-package
// loop.
type Event struct {
	Phase   Phase  `json:"phase"`
	Package string `json:"package,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// =============================================================================
// Options - Run Configuration
// =============================================================================

// Options contains all configuration for one audit run.
// This struct supports JSON serialization for API requests.
type Options struct {
	// Aggregation inputs
	RootDir    string   `json:"root_dir,omitempty"`
	PluginDirs []string `json:"plugin_dirs,omitempty"`

	// Holds and pins, any spelling (canonicalized on use)
	Holds []string          `json:"holds,omitempty"`
	Pins  map[string]string `json:"pins,omitempty"`

	// Refresh bypasses cached index responses.
	Refresh bool `json:"refresh,omitempty"`

	// SkipProbe classifies upgrades without dry-run verification, so
	// every upgrade lands in the unknown bucket.
	SkipProbe bool `json:"skip_probe,omitempty"`

	// Runtime options (not serialized)
	Progress func(Event) `json:"-"`
}

func (o *Options) validate() error {
	if o.RootDir == "" && len(o.PluginDirs) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "nothing to audit: no root or plugin directories")
	}
	return nil
}

func (o *Options) rules() Rules {
	return NewRules(o.Holds, o.Pins)
}

func (o *Options) emit(e Event) {
	if o.Progress != nil {
		o.Progress(e)
	}
}

// =============================================================================
// Reports and Results
// =============================================================================

// PackageReport is the audit's verdict on one aggregated package.
type PackageReport struct {
	// Name is the canonical package name; DisplayName preserves the
	// spelling the index (or failing that, a requirement file) uses.
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Summary     string `json:"summary,omitempty"`

	// Installed is nil when the package is absent from the environment.
	Installed *pep440.Version `json:"installed,omitempty"`

	// Constraints lists every source's opinion, in aggregation order.
	Constraints []requirements.Constraint `json:"constraints,omitempty"`

	// Available is every release the index knows, ascending. MaxAllowed
	// is the greatest eligible release satisfying all constraints, nil
	// when none does or the index lookup failed.
	Available  []pep440.Version `json:"available,omitempty"`
	MaxAllowed *pep440.Version  `json:"max_allowed,omitempty"`

	// Target is the version an install command would request. It follows
	// MaxAllowed unless a probe fallback settled on a lower version or a
	// pin demands a specific one. Nil when no action is needed.
	Target *pep440.Version `json:"target,omitempty"`

	// Probe is set only for candidates that went through a dry run.
	Probe *probe.Result `json:"probe,omitempty"`

	Bucket Bucket   `json:"bucket"`
	Notes  []string `json:"notes,omitempty"`

	// IndexError records a failed release lookup for this package.
	IndexError string `json:"index_error,omitempty"`
}

// Result contains everything a single audit run produced.
type Result struct {
	RunID         string               `json:"run_id"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	Root          string               `json:"root,omitempty"`
	PipCommand    string               `json:"pip_command,omitempty"`
	PythonVersion string               `json:"python_version,omitempty"`
	Reports       []*PackageReport     `json:"reports"`
	Extras        []requirements.Extra `json:"extras,omitempty"`
	Plan          Plan                 `json:"plan"`
	Stats         Stats                `json:"stats"`
}

// Stats contains timing and volume information for a run.
type Stats struct {
	PackageCount  int           `json:"package_count"`
	ProbeCount    int           `json:"probe_count"`
	AggregateTime time.Duration `json:"aggregate_time"`
	SnapshotTime  time.Duration `json:"snapshot_time"`
	ResolveTime   time.Duration `json:"resolve_time"`
	ProbeTime     time.Duration `json:"probe_time"`
}

// Counts tallies reports per bucket.
func (r *Result) Counts() map[Bucket]int {
	counts := make(map[Bucket]int)
	for _, rep := range r.Reports {
		counts[rep.Bucket]++
	}
	return counts
}

// ByBucket returns the reports classified into b, preserving name order.
func (r *Result) ByBucket(b Bucket) []*PackageReport {
	var out []*PackageReport
	for _, rep := range r.Reports {
		if rep.Bucket == b {
			out = append(out, rep)
		}
	}
	return out
}

// ActionCount is the number of packages needing any action at all.
func (r *Result) ActionCount() int {
	n := 0
	for _, rep := range r.Reports {
		switch rep.Bucket {
		case BucketUpToDate, BucketHeld:
		default:
			n++
		}
	}
	return n
}
