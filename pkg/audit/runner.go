package audit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations/pypi"
	"github.com/matzehuels/comfyaudit/pkg/observability"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
	"github.com/matzehuels/comfyaudit/pkg/requirements"
)

// Runner encapsulates audit execution. Both CLI and API use it to avoid
// duplicating pipeline logic.
//
// The Runner is stateless except for its collaborators and logger - it
// doesn't store run results. Multiple goroutines can safely use the same
// Runner with different options, as long as the underlying pip tool
// tolerates concurrent invocations.
type Runner struct {
	Index  Index
	Tool   PipTool
	Prober InstallProber
	Logger *log.Logger
}

// NewRunner creates a runner over the given collaborators.
// If prober is nil, probing is skipped and upgrades classify as unknown.
// If logger is nil, the global default is used.
func NewRunner(index Index, tool PipTool, prober InstallProber, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Index:  index,
		Tool:   tool,
		Prober: prober,
		Logger: logger,
	}
}

// Run executes the complete aggregate → snapshot → resolve → probe →
// classify pipeline and returns the assembled result.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rules := opts.rules()

	result := &Result{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now(),
		Root:       opts.RootDir,
		PipCommand: r.Tool.CommandLine(),
	}

	// Stage 1: Aggregate
	aggregateStart := time.Now()
	opts.emit(Event{Phase: PhaseAggregate})
	observability.Audit().OnAggregateStart(ctx, opts.RootDir)
	set := requirements.Aggregate(opts.RootDir, opts.PluginDirs)
	names := set.Names()
	result.Extras = set.Extras
	result.Stats.PackageCount = len(names)
	result.Stats.AggregateTime = time.Since(aggregateStart)
	observability.Audit().OnAggregateComplete(ctx, len(names), len(set.Extras), result.Stats.AggregateTime, nil)

	r.Logger.Info("aggregated requirements",
		"packages", len(names),
		"extras", len(set.Extras),
		"duration", result.Stats.AggregateTime)

	// Stage 2: Environment snapshot
	snapshotStart := time.Now()
	opts.emit(Event{Phase: PhaseSnapshot})
	installed, err := r.Tool.Installed(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePipUnavailable, err, "listing installed packages")
	}
	if py, err := r.Tool.PythonVersion(ctx); err == nil {
		result.PythonVersion = py
	}
	result.Stats.SnapshotTime = time.Since(snapshotStart)

	r.Logger.Info("captured environment",
		"installed", len(installed),
		"python", result.PythonVersion,
		"duration", result.Stats.SnapshotTime)

	// Stage 3: Resolve
	resolveStart := time.Now()
	result.Reports = make([]*PackageReport, 0, len(names))
	for i, name := range names {
		opts.emit(Event{Phase: PhaseResolve, Package: name, Current: i + 1, Total: len(names)})
		result.Reports = append(result.Reports, r.resolve(ctx, set, name, installed, result.PythonVersion, opts.Refresh))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	result.Stats.ResolveTime = time.Since(resolveStart)

	r.Logger.Info("resolved candidates",
		"packages", len(result.Reports),
		"duration", result.Stats.ResolveTime)

	// Stage 4: Probe upgrade candidates
	probeStart := time.Now()
	if err := r.probeCandidates(ctx, opts, rules, result); err != nil {
		return nil, err
	}
	result.Stats.ProbeTime = time.Since(probeStart)

	// Stage 5: Classify and plan
	for _, rep := range result.Reports {
		rep.Bucket = Classify(rep, rules)
	}
	result.Plan = BuildPlan(r.Tool, result.Reports)
	result.FinishedAt = time.Now()

	counts := result.Counts()
	r.Logger.Info("classified packages",
		"up_to_date", counts[BucketUpToDate],
		"upgrades", counts[BucketUpgradeSafe]+counts[BucketUpgradeRisky]+counts[BucketUpgradeUnknown],
		"missing", counts[BucketMissing],
		"held", counts[BucketHeld],
		"duration", result.FinishedAt.Sub(result.StartedAt))

	return result, nil
}

// resolve builds the report skeleton for one package: installed version,
// constraints, the index's release listing, and the feasible maximum. A
// failed index lookup is recorded on the report, never returned.
func (r *Runner) resolve(ctx context.Context, set *requirements.Set, name string, installed map[string]pep440.Version, pythonVersion string, refresh bool) *PackageReport {
	rep := &PackageReport{
		Name:        name,
		DisplayName: set.DisplayNames[name],
		Constraints: set.Packages[name],
	}
	if v, ok := installed[name]; ok {
		rep.Installed = &v
	}

	start := time.Now()
	observability.Audit().OnResolveStart(ctx, name)
	idx, err := r.Index.FetchIndex(ctx, name, refresh)
	if err != nil {
		rep.IndexError = err.Error()
		observability.Audit().OnResolveComplete(ctx, name, false, time.Since(start), err)
		r.Logger.Warn("index lookup failed", "package", name, "err", err)
		return rep
	}

	if idx.Name != "" {
		rep.DisplayName = idx.Name
	}
	rep.Summary = idx.Summary
	rep.Available = idx.Versions()

	if best, ok := pep440.StableMaxSatisfying(eligibleVersions(idx, pythonVersion), set.Specifiers(name)); ok {
		rep.MaxAllowed = &best
	}
	observability.Audit().OnResolveComplete(ctx, name, rep.MaxAllowed != nil, time.Since(start), nil)
	return rep
}

// eligibleVersions narrows the index's releases to versions the running
// interpreter could actually install: yanked releases are dropped, as are
// releases whose requires-python marker excludes the interpreter. Markers
// that fail to parse keep their release in play.
func eligibleVersions(idx *pypi.PackageIndex, pythonVersion string) []pep440.Version {
	py := pep440.Parse(pythonVersion)
	out := make([]pep440.Version, 0, len(idx.Releases))
	for _, rel := range idx.Releases {
		if rel.Yanked {
			continue
		}
		if pythonVersion != "" && rel.RequiresPython != "" {
			if spec, err := pep440.ParseSpecifier(rel.RequiresPython); err == nil && !spec.Contains(py) {
				continue
			}
		}
		out = append(out, pep440.Parse(rel.Version))
	}
	return out
}

// probeCandidates dry-runs every report a classification would want probe
// data for. Probe failures land in the result structs; the only error out
// of here is a canceled context.
func (r *Runner) probeCandidates(ctx context.Context, opts Options, rules Rules, result *Result) error {
	if opts.SkipProbe || r.Prober == nil {
		return nil
	}

	var candidates []*PackageReport
	for _, rep := range result.Reports {
		if needsProbe(rep, rules) {
			candidates = append(candidates, rep)
		}
	}

	for i, rep := range candidates {
		opts.emit(Event{Phase: PhaseProbe, Package: rep.Name, Current: i + 1, Total: len(candidates)})
		res, err := r.Prober.Probe(ctx, rep.Name, *rep.MaxAllowed, specifiersOf(rep.Constraints))
		if err != nil {
			return err
		}
		rep.Probe = &res
		result.Stats.ProbeCount++
	}

	r.Logger.Info("probed upgrade candidates", "count", len(candidates))
	return nil
}

func specifiersOf(constraints []requirements.Constraint) []pep440.Specifier {
	specs := make([]pep440.Specifier, 0, len(constraints))
	for _, c := range constraints {
		specs = append(specs, c.Specifier)
	}
	return specs
}
