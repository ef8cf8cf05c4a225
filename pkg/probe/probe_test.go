package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

func newTestProber(t *testing.T, fake *fakeRunner) *Prober {
	t.Helper()
	return NewProber(newTestTool(t, fake), nil)
}

func TestProbe_OK(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{stdout: "Would install numpy-1.26.0\n"},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.OK() || res.Status != StatusOK {
		t.Errorf("result = %+v, want ok", res)
	}
	if res.Retried {
		t.Error("Retried = true, want false")
	}
	if len(fake.calls) != 1 {
		t.Errorf("probe ran %d commands, want 1", len(fake.calls))
	}
}

func TestProbe_UnsupportedDryRunIsOptimisticallyOK(t *testing.T) {
	// Exit code 2 with "no such option: --dry-run" means the pip is too
	// old to simulate installs. That must count as ok, not as a failure.
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: "\nUsage: pip install [options]\n\nno such option: --dry-run\n", err: errors.New("exit status 2")},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.OK() {
		t.Errorf("status = %q, want %q", res.Status, StatusOK)
	}
}

func TestProbe_Conflict(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{
			stdout: "ERROR: Cannot install numpy==2.0.0 because these package versions have conflicting dependencies.\n" +
				"ERROR: ResolutionImpossible: for help visit ...\n",
			err: errors.New("exit status 1"),
		},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("2.0.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusConflict {
		t.Errorf("status = %q, want %q", res.Status, StatusConflict)
	}
	if res.OK() {
		t.Error("OK() = true for a conflict")
	}
	if !strings.Contains(res.Diagnostic, "conflicting dependencies") {
		t.Errorf("diagnostic %q lost the pip output", res.Diagnostic)
	}
}

func TestProbe_NetworkTrouble(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{
			stderr: "WARNING: Retrying after connection broken by 'ReadTimeoutError(\"HTTPSConnectionPool(host='pypi.org', port=443): Read timed out.\")'\n",
			err:    errors.New("exit status 1"),
		},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusNetwork {
		t.Errorf("status = %q, want %q", res.Status, StatusNetwork)
	}
}

func TestProbe_UnknownFailure(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: "ERROR: THESE PACKAGES DO NOT MATCH THE HASHES\n", err: errors.New("exit status 1")},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusUnknown {
		t.Errorf("status = %q, want %q", res.Status, StatusUnknown)
	}
}

func TestProbe_EmptyOutputFailureKeepsExitInfo(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("fork/exec /bad/pip: no such file or directory")},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusUnknown {
		t.Errorf("status = %q, want %q", res.Status, StatusUnknown)
	}
	if !strings.Contains(res.Diagnostic, "no such file or directory") {
		t.Errorf("diagnostic %q lost the run error", res.Diagnostic)
	}
}

func TestProbe_Timeout(t *testing.T) {
	p := newTestProber(t, &fakeRunner{})
	p.Tool.runner = blockingRunner{}
	p.Timeout = 20 * time.Millisecond

	res, err := p.Probe(context.Background(), "numpy", pep440.Parse("1.26.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Errorf("status = %q, want %q", res.Status, StatusTimeout)
	}
	if !strings.Contains(res.Diagnostic, "timeout after") {
		t.Errorf("diagnostic = %q, want timeout message", res.Diagnostic)
	}
}

type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ string, _ []string, _ RunOptions) (RunResult, error) {
	<-ctx.Done()
	return RunResult{}, ctx.Err()
}

func TestProbe_PlatformFallbackRetriesOnce(t *testing.T) {
	noDist := "ERROR: Could not find a version that satisfies the requirement torch==2.2.0 " +
		"(from versions: 2.0.0, 2.0.1, 2.1.0)\n" +
		"ERROR: No matching distribution found for torch==2.2.0\n"
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: noDist, err: errors.New("exit status 1")},
		{stdout: "Would install torch-2.1.0\n"},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "torch", pep440.Parse("2.2.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.OK() {
		t.Fatalf("status = %q, want ok after fallback", res.Status)
	}
	if !res.Retried {
		t.Error("Retried = false, want true")
	}
	if got := res.Version.String(); got != "2.1.0" {
		t.Errorf("fallback version = %q, want %q", got, "2.1.0")
	}

	if len(fake.calls) != 2 {
		t.Fatalf("probe ran %d commands, want 2", len(fake.calls))
	}
	last := fake.calls[1][len(fake.calls[1])-1]
	if last != "torch==2.1.0" {
		t.Errorf("second probe target = %q, want %q", last, "torch==2.1.0")
	}
}

func TestProbe_PlatformFallbackGivesUpAfterOneRetry(t *testing.T) {
	noDist := "ERROR: Could not find a version that satisfies the requirement torch==2.2.0 " +
		"(from versions: 2.0.0, 2.1.0)\n" +
		"ERROR: No matching distribution found for torch==2.2.0\n"
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: noDist, err: errors.New("exit status 1")},
		{stderr: noDist, err: errors.New("exit status 1")},
		{stdout: "should never be reached\n"},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "torch", pep440.Parse("2.2.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusNoDistribution {
		t.Errorf("status = %q, want %q", res.Status, StatusNoDistribution)
	}
	if !res.Retried {
		t.Error("Retried = false, want true")
	}
	if len(fake.calls) != 2 {
		t.Errorf("probe ran %d commands, want exactly 2 (one retry)", len(fake.calls))
	}
}

func TestProbe_NoFallbackWithoutVersionList(t *testing.T) {
	fake := &fakeRunner{responses: []fakeResponse{
		{stderr: "ERROR: No matching distribution found for torch==2.2.0\n", err: errors.New("exit status 1")},
	}}
	p := newTestProber(t, fake)

	res, err := p.Probe(context.Background(), "torch", pep440.Parse("2.2.0"), nil)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Status != StatusNoDistribution {
		t.Errorf("status = %q, want %q", res.Status, StatusNoDistribution)
	}
	if res.Retried {
		t.Error("Retried = true without a version list to fall back on")
	}
	if len(fake.calls) != 1 {
		t.Errorf("probe ran %d commands, want 1", len(fake.calls))
	}
}

func TestProbe_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProber(t, &fakeRunner{})
	if _, err := p.Probe(ctx, "numpy", pep440.Parse("1.26.0"), nil); err == nil {
		t.Error("expected context error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Status
	}{
		{"unsupported option", "no such option: --dry-run", StatusOK},
		{"unrecognized argument", "ERROR: unrecognized arguments: --dry-run", StatusOK},
		{"usage banner", "Usage: pip <command> [options]", StatusOK},
		{"resolution impossible", "ResolutionImpossible: conflict", StatusConflict},
		{"cannot install", "ERROR: Cannot install a and b", StatusConflict},
		{"incompatible", "pkg 1.0 is incompatible with other 2.0", StatusConflict},
		{"no distribution", "ERROR: No matching distribution found for x", StatusNoDistribution},
		{"no satisfying version", "Could not find a version that satisfies the requirement x", StatusNoDistribution},
		{"dns failure", "Temporary failure in name resolution", StatusNetwork},
		{"tls failure", "SSL: CERTIFICATE_VERIFY_FAILED", StatusNetwork},
		{"anything else", "ERROR: something novel", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.output); got != tt.want {
				t.Errorf("classify(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestFallbackCandidate(t *testing.T) {
	failed := pep440.Parse("2.2.0")

	tests := []struct {
		name       string
		diagnostic string
		want       string
		ok         bool
	}{
		{
			"picks highest below failed",
			"blah (from versions: 1.9.0, 2.0.0, 2.1.0, 2.2.0, 2.3.0) blah",
			"2.1.0", true,
		},
		{
			"nothing below failed",
			"blah (from versions: 2.2.0, 2.3.0)",
			"", false,
		},
		{
			"empty list",
			"blah (from versions: none)",
			"", false,
		},
		{
			"no list at all",
			"No matching distribution found",
			"", false,
		},
		{
			"garbage entries skipped",
			"(from versions: garbage, 2.0.0)",
			"2.0.0", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fallbackCandidate(tt.diagnostic, failed, nil)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("fallback = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestFallbackCandidate_RespectsConstraints(t *testing.T) {
	diagnostic := "(from versions: 1.9.0, 2.0.0, 2.1.0)"
	failed := pep440.Parse("2.2.0")

	spec, err := pep440.ParseSpecifier("<2.0")
	if err != nil {
		t.Fatal(err)
	}

	got, ok := fallbackCandidate(diagnostic, failed, []pep440.Specifier{spec})
	if !ok {
		t.Fatal("expected a fallback")
	}
	if got.String() != "1.9.0" {
		t.Errorf("fallback = %q, want 1.9.0 (2.x excluded by constraint)", got.String())
	}

	impossible, err := pep440.ParseSpecifier(">=3.0")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fallbackCandidate(diagnostic, failed, []pep440.Specifier{impossible}); ok {
		t.Error("expected no fallback when constraints exclude every obtainable version")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(errors.New("boom")); got != -1 {
		t.Errorf("ExitCode(non-exit error) = %d, want -1", got)
	}
}

func TestRunResult_Combined(t *testing.T) {
	r := RunResult{Stdout: []byte("out"), Stderr: []byte("err")}
	if got := r.Combined(); got != "outerr" {
		t.Errorf("Combined() = %q, want %q", got, "outerr")
	}
}
