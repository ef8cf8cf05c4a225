package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/integrations/pypi"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
	"github.com/matzehuels/comfyaudit/pkg/probe"
)

type fakeIndex struct {
	packages map[string]*pypi.PackageIndex
	errs     map[string]error
	calls    []string
}

func (f *fakeIndex) FetchIndex(ctx context.Context, pkg string, refresh bool) (*pypi.PackageIndex, error) {
	f.calls = append(f.calls, pkg)
	if err := f.errs[pkg]; err != nil {
		return nil, err
	}
	idx, ok := f.packages[pkg]
	if !ok {
		return nil, integrations.ErrNotFound
	}
	return idx, nil
}

type fakeTool struct {
	installed map[string]pep440.Version
	python    string
	err       error
}

func (f *fakeTool) Installed(ctx context.Context) (map[string]pep440.Version, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.installed, nil
}

func (f *fakeTool) PythonVersion(ctx context.Context) (string, error) {
	return f.python, nil
}

func (f *fakeTool) CommandLine(args ...string) string {
	return strings.Join(append([]string{"pip"}, args...), " ")
}

type fakeProber struct {
	results map[string]probe.Result
	calls   []string
}

func (f *fakeProber) Probe(ctx context.Context, name string, version pep440.Version, specs []pep440.Specifier) (probe.Result, error) {
	f.calls = append(f.calls, name+"=="+version.String())
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return probe.Result{Status: probe.StatusOK, Version: version}, nil
}

func releaseIndex(name string, versions ...string) *pypi.PackageIndex {
	idx := &pypi.PackageIndex{Name: name}
	for _, v := range versions {
		idx.Releases = append(idx.Releases, pypi.Release{Version: v})
	}
	if len(versions) > 0 {
		idx.Latest = versions[len(versions)-1]
	}
	return idx
}

func writeRequirements(t *testing.T, dir string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func installedVersions(pairs map[string]string) map[string]pep440.Version {
	out := make(map[string]pep440.Version, len(pairs))
	for name, v := range pairs {
		out[name] = pep440.Parse(v)
	}
	return out
}

func newTestRunner(index Index, tool PipTool, prober InstallProber) *Runner {
	return NewRunner(index, tool, prober, log.New(io.Discard))
}

func reportFor(t *testing.T, result *Result, name string) *PackageReport {
	t.Helper()
	for _, rep := range result.Reports {
		if rep.Name == name {
			return rep
		}
	}
	t.Fatalf("no report for %q in %d reports", name, len(result.Reports))
	return nil
}

func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "numpy>=1.20")
	node := filepath.Join(root, "custom_nodes", "a-node")
	writeRequirements(t, node, "numpy<2.0")

	index := &fakeIndex{packages: map[string]*pypi.PackageIndex{
		"numpy": releaseIndex("numpy", "1.19", "1.20", "1.24", "2.0", "2.1"),
	}}
	tool := &fakeTool{
		installed: installedVersions(map[string]string{"numpy": "1.20"}),
		python:    "3.11",
	}
	prober := &fakeProber{}

	result, err := newTestRunner(index, tool, prober).Run(context.Background(), Options{
		RootDir:    root,
		PluginDirs: []string{node},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RunID == "" {
		t.Error("RunID is empty")
	}
	if result.PipCommand != "pip" {
		t.Errorf("PipCommand = %q, want pip", result.PipCommand)
	}
	if result.PythonVersion != "3.11" {
		t.Errorf("PythonVersion = %q, want 3.11", result.PythonVersion)
	}
	if len(result.Reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(result.Reports))
	}

	rep := result.Reports[0]
	if rep.Name != "numpy" {
		t.Errorf("Name = %q, want numpy", rep.Name)
	}
	if len(rep.Constraints) != 2 {
		t.Errorf("got %d constraints, want 2", len(rep.Constraints))
	}
	if rep.MaxAllowed == nil || rep.MaxAllowed.String() != "1.24" {
		t.Errorf("MaxAllowed = %v, want 1.24", rep.MaxAllowed)
	}
	if rep.Bucket != BucketUpgradeSafe {
		t.Errorf("Bucket = %q, want %q", rep.Bucket, BucketUpgradeSafe)
	}
	if got := []string{"numpy==1.24"}; len(prober.calls) != 1 || prober.calls[0] != got[0] {
		t.Errorf("probe calls = %v, want %v", prober.calls, got)
	}
	if want := "pip install --upgrade numpy==1.24"; result.Plan.Safe != want {
		t.Errorf("Plan.Safe = %q, want %q", result.Plan.Safe, want)
	}
	if want := "pip install --upgrade (nothing)"; result.Plan.Risky != want {
		t.Errorf("Plan.Risky = %q, want %q", result.Plan.Risky, want)
	}
	if result.Stats.PackageCount != 1 || result.Stats.ProbeCount != 1 {
		t.Errorf("Stats = %+v, want one package and one probe", result.Stats)
	}
}

func TestRun_HoldsPinsAndMissing(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root,
		"einops>=0.6",
		"numpy>=1.20,<2.0",
		"pillow==9.0.0",
		"torch>=2.0",
	)

	index := &fakeIndex{packages: map[string]*pypi.PackageIndex{
		"einops": releaseIndex("einops", "0.6.0", "0.7.0"),
		"numpy":  releaseIndex("numpy", "1.19", "1.20", "1.24", "2.0", "2.1"),
		"pillow": releaseIndex("Pillow", "8.0.0", "9.0.0"),
		"torch":  releaseIndex("torch", "2.0.0", "2.2.0"),
	}}
	tool := &fakeTool{
		installed: installedVersions(map[string]string{
			"numpy":  "1.20",
			"pillow": "8.0.0",
			"torch":  "2.0.0",
		}),
		python: "3.11",
	}
	prober := &fakeProber{}

	result, err := newTestRunner(index, tool, prober).Run(context.Background(), Options{
		RootDir: root,
		Holds:   []string{"Torch"},
		Pins:    map[string]string{"pillow": "9.0.0"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := reportFor(t, result, "torch").Bucket; got != BucketHeld {
		t.Errorf("torch bucket = %q, want %q", got, BucketHeld)
	}
	if got := reportFor(t, result, "pillow").Bucket; got != BucketPinned {
		t.Errorf("pillow bucket = %q, want %q", got, BucketPinned)
	}
	if got := reportFor(t, result, "einops").Bucket; got != BucketMissing {
		t.Errorf("einops bucket = %q, want %q", got, BucketMissing)
	}
	if got := reportFor(t, result, "numpy").Bucket; got != BucketUpgradeSafe {
		t.Errorf("numpy bucket = %q, want %q", got, BucketUpgradeSafe)
	}

	// Held, pinned, and missing packages never reach the prober.
	if len(prober.calls) != 1 || prober.calls[0] != "numpy==1.24" {
		t.Errorf("probe calls = %v, want only numpy==1.24", prober.calls)
	}

	if want := "pip install einops==0.7.0"; result.Plan.Missing != want {
		t.Errorf("Plan.Missing = %q, want %q", result.Plan.Missing, want)
	}
	if got := result.Plan.PerPackage["pillow"]; got != "pip install pillow==9.0.0" {
		t.Errorf("pillow command = %q, want the pinned install", got)
	}
	if _, ok := result.Plan.PerPackage["torch"]; ok {
		t.Error("held package has a suggested command")
	}

	counts := result.Counts()
	if counts[BucketHeld] != 1 || counts[BucketPinned] != 1 || counts[BucketMissing] != 1 || counts[BucketUpgradeSafe] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if got := result.ActionCount(); got != 3 {
		t.Errorf("ActionCount() = %d, want 3", got)
	}
}

func TestRun_DowngradeNeeded(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "pandas<=2.5")

	index := &fakeIndex{packages: map[string]*pypi.PackageIndex{
		"pandas": releaseIndex("pandas", "2.0", "2.5", "3.0"),
	}}
	tool := &fakeTool{installed: installedVersions(map[string]string{"pandas": "3.0"})}
	prober := &fakeProber{}

	result, err := newTestRunner(index, tool, prober).Run(context.Background(), Options{RootDir: root})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rep := result.Reports[0]
	if rep.Bucket != BucketDowngradeNeeded {
		t.Errorf("Bucket = %q, want %q", rep.Bucket, BucketDowngradeNeeded)
	}
	if len(prober.calls) != 0 {
		t.Errorf("probe calls = %v, want none for a downgrade", prober.calls)
	}
	if want := "pip install pandas==2.5"; result.Plan.Downgrades != want {
		t.Errorf("Plan.Downgrades = %q, want %q", result.Plan.Downgrades, want)
	}
}

func TestRun_IndexFailureDegradesLocally(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "ghost-package", "numpy>=1.20,<2.0")

	index := &fakeIndex{
		packages: map[string]*pypi.PackageIndex{
			"numpy": releaseIndex("numpy", "1.20", "1.24"),
		},
		errs: map[string]error{"ghost-package": integrations.ErrNotFound},
	}
	tool := &fakeTool{installed: installedVersions(map[string]string{"numpy": "1.24"})}

	result, err := newTestRunner(index, tool, &fakeProber{}).Run(context.Background(), Options{RootDir: root})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ghost := reportFor(t, result, "ghost-package")
	if ghost.Bucket != BucketConflict {
		t.Errorf("ghost bucket = %q, want %q", ghost.Bucket, BucketConflict)
	}
	if ghost.IndexError == "" {
		t.Error("ghost report has no index error recorded")
	}
	if got := reportFor(t, result, "numpy").Bucket; got != BucketUpToDate {
		t.Errorf("numpy bucket = %q, want %q", got, BucketUpToDate)
	}
}

func TestRun_PipUnavailableIsFatal(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "numpy")

	tool := &fakeTool{err: errors.New(errors.ErrCodePipUnavailable, "exec: pip not found")}

	_, err := newTestRunner(&fakeIndex{}, tool, &fakeProber{}).Run(context.Background(), Options{RootDir: root})
	if err == nil {
		t.Fatal("Run() error = nil, want pip failure")
	}
	if !errors.Is(err, errors.ErrCodePipUnavailable) {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodePipUnavailable)
	}
}

func TestRun_SkipProbe(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "numpy>=1.20,<2.0")

	index := &fakeIndex{packages: map[string]*pypi.PackageIndex{
		"numpy": releaseIndex("numpy", "1.20", "1.24"),
	}}
	tool := &fakeTool{installed: installedVersions(map[string]string{"numpy": "1.20"})}

	result, err := newTestRunner(index, tool, nil).Run(context.Background(), Options{
		RootDir:   root,
		SkipProbe: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rep := result.Reports[0]
	if rep.Bucket != BucketUpgradeUnknown {
		t.Errorf("Bucket = %q, want %q without probing", rep.Bucket, BucketUpgradeUnknown)
	}
	if rep.Probe != nil {
		t.Error("report carries a probe result despite SkipProbe")
	}
}

func TestRun_ProgressEvents(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "numpy>=1.20,<2.0")

	index := &fakeIndex{packages: map[string]*pypi.PackageIndex{
		"numpy": releaseIndex("numpy", "1.20", "1.24"),
	}}
	tool := &fakeTool{installed: installedVersions(map[string]string{"numpy": "1.20"})}

	var events []Event
	_, err := newTestRunner(index, tool, &fakeProber{}).Run(context.Background(), Options{
		RootDir:  root,
		Progress: func(e Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantPhases := []Phase{PhaseAggregate, PhaseSnapshot, PhaseResolve, PhaseProbe}
	if len(events) != len(wantPhases) {
		t.Fatalf("got %d events (%v), want %d", len(events), events, len(wantPhases))
	}
	for i, want := range wantPhases {
		if events[i].Phase != want {
			t.Errorf("event %d phase = %q, want %q", i, events[i].Phase, want)
		}
	}
	if events[2].Package != "numpy" || events[2].Current != 1 || events[2].Total != 1 {
		t.Errorf("resolve event = %+v, want numpy 1/1", events[2])
	}
}

func TestRun_ValidatesOptions(t *testing.T) {
	_, err := newTestRunner(&fakeIndex{}, &fakeTool{}, nil).Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("Run() error = nil, want config error")
	}
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeInvalidConfig)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeRequirements(t, root, "numpy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(&fakeIndex{}, &fakeTool{}, nil).Run(ctx, Options{RootDir: root})
	if err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestEligibleVersions(t *testing.T) {
	idx := &pypi.PackageIndex{
		Name: "numpy",
		Releases: []pypi.Release{
			{Version: "1.19"},
			{Version: "1.20", RequiresPython: ">=3.8"},
			{Version: "1.24", RequiresPython: ">=3.12"},
			{Version: "2.0", Yanked: true},
			{Version: "2.1", RequiresPython: "not a specifier"},
		},
	}

	got := eligibleVersions(idx, "3.11")
	want := []string{"1.19", "1.20", "2.1"}
	if len(got) != len(want) {
		t.Fatalf("got %d versions (%v), want %v", len(got), got, want)
	}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("eligible[%d] = %s, want %s", i, got[i], w)
		}
	}

	// Without a known interpreter version only yanked filtering applies.
	if got := eligibleVersions(idx, ""); len(got) != 4 {
		t.Errorf("got %d versions without interpreter info, want 4", len(got))
	}
}
