// Package probe verifies that candidate package versions are actually
// installable by driving pip's dry-run mode, one package per invocation
// so that one package's conflict can never mask another's feasibility.
//
// A probe runs as a small state machine: a dry-run attempt either settles
// (ok, conflict, timeout, unknown) or, when pip reports that no matching
// distribution exists for this platform, retries exactly once with the
// next obtainable version below the candidate, taken from the failure
// message itself.
package probe

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/comfyaudit/pkg/observability"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// DefaultTimeout bounds a single dry-run invocation.
const DefaultTimeout = 60 * time.Second

// Status classifies a settled probe.
type Status string

const (
	// StatusOK means pip resolved the candidate cleanly, or its dry-run
	// support could not be confirmed. Unsupported dry-run counts as ok so
	// a tooling limitation never blocks an otherwise valid report item.
	StatusOK Status = "ok"

	// StatusConflict means pip's resolver reported conflicting
	// dependencies for the candidate.
	StatusConflict Status = "conflict"

	// StatusTimeout means the invocation exceeded its deadline.
	StatusTimeout Status = "timeout"

	// StatusNoDistribution means no distribution of the candidate exists
	// for this platform/interpreter, even after the one-step fallback.
	StatusNoDistribution Status = "no_distribution"

	// StatusNetwork means the probe hit transient network trouble
	// (connection, DNS, TLS). Retrying later may succeed.
	StatusNetwork Status = "network"

	// StatusUnknown means the probe failed in a way that matches no
	// known pattern.
	StatusUnknown Status = "unknown"
)

// Result is the settled outcome of probing one name==version candidate.
// Version is the version that was last probed, which differs from the
// requested one after a platform fallback retry.
type Result struct {
	Status     Status         `json:"status"`
	Version    pep440.Version `json:"version"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	Retried    bool           `json:"retried,omitempty"`
}

// OK reports whether the candidate (or its fallback) was confirmed
// installable.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Prober runs installability probes against one pip tool.
type Prober struct {
	Tool    *Tool
	Timeout time.Duration
	Logger  *log.Logger
}

// NewProber creates a prober with the default timeout. A nil logger
// falls back to the global default.
func NewProber(tool *Tool, logger *log.Logger) *Prober {
	if logger == nil {
		logger = log.Default()
	}
	return &Prober{Tool: tool, Timeout: DefaultTimeout, Logger: logger}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

// Probe checks whether name==version could be installed, without touching
// the environment. specs are the package's constraints; the platform
// fallback path recomputes its lower candidate against them so a retry
// never probes a version the resolver would reject anyway. The returned
// error is non-nil only when the surrounding context is done; every pip
// failure is encoded in the Result so that one bad probe never aborts the
// remaining ones.
func (p *Prober) Probe(ctx context.Context, name string, version pep440.Version, specs []pep440.Specifier) (Result, error) {
	hooks := observability.Audit()
	candidate := version
	retried := false

	for {
		if err := ctx.Err(); err != nil {
			return Result{Status: StatusUnknown, Version: candidate, Diagnostic: "probe interrupted", Retried: retried}, err
		}

		hooks.OnProbeStart(ctx, name, candidate.String())
		start := time.Now()
		res := p.attempt(ctx, name, candidate)
		res.Retried = retried
		hooks.OnProbeComplete(ctx, name, candidate.String(), res.OK(), time.Since(start), nil)

		if err := ctx.Err(); err != nil {
			return res, err
		}

		// One-step fallback: when this platform cannot obtain the
		// candidate, pip's message lists the versions it can obtain.
		// Retry once with the best of those below the candidate.
		if res.Status == StatusNoDistribution && !retried {
			if fallback, ok := fallbackCandidate(res.Diagnostic, candidate, specs); ok {
				p.Logger.Debug("no distribution for candidate, retrying one step down",
					"package", name, "candidate", candidate, "fallback", fallback)
				candidate = fallback
				retried = true
				continue
			}
		}

		return res, nil
	}
}

// attempt runs a single dry-run and classifies its outcome.
func (p *Prober) attempt(ctx context.Context, name string, version pep440.Version) Result {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	runRes, runErr := p.Tool.dryRun(attemptCtx, name, version)

	if attemptCtx.Err() == context.DeadlineExceeded {
		return Result{
			Status:     StatusTimeout,
			Version:    version,
			Diagnostic: fmt.Sprintf("timeout after %s", p.timeout()),
		}
	}

	output := runRes.Combined()
	if runErr == nil {
		return Result{Status: StatusOK, Version: version}
	}

	diagnostic := strings.TrimSpace(output)
	if diagnostic == "" {
		diagnostic = fmt.Sprintf("pip exited with code %d: %v", ExitCode(runErr), runErr)
	}

	return Result{
		Status:     classify(output),
		Version:    version,
		Diagnostic: diagnostic,
	}
}

// Failure phrases, matched case-insensitively against the combined
// output. Order matters: dry-run support is decided first, then resolver
// conflicts, then platform availability, then transient network trouble.
var (
	unsupportedPatterns = []string{
		"no such option",
		"unrecognized arguments",
		"usage:",
	}
	conflictPatterns = []string{
		"resolutionimpossible",
		"conflicting dependencies",
		"cannot install",
		"is incompatible with",
	}
	platformPatterns = []string{
		"no matching distribution found",
		"could not find a version that satisfies",
	}
	networkPatterns = []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"read timed out",
		"temporary failure in name resolution",
		"newconnectionerror",
		"proxy error",
		"ssl",
		"certificate verify failed",
	}
)

// classify maps a failed dry-run's output to a status.
func classify(output string) Status {
	lowered := strings.ToLower(output)

	contains := func(patterns []string) bool {
		for _, pat := range patterns {
			if strings.Contains(lowered, pat) {
				return true
			}
		}
		return false
	}

	switch {
	case contains(unsupportedPatterns):
		// Older pips exit non-zero (often 2) when --dry-run is unknown.
		// Optimistic policy: a tooling limitation is not a conflict.
		return StatusOK
	case contains(conflictPatterns):
		return StatusConflict
	case contains(platformPatterns):
		return StatusNoDistribution
	case contains(networkPatterns):
		return StatusNetwork
	default:
		return StatusUnknown
	}
}

var fromVersionsRegex = regexp.MustCompile(`\(from versions:([^)]*)\)`)

// fallbackCandidate extracts the "(from versions: ...)" list out of a
// no-distribution failure and returns the best obtainable version that is
// strictly below the failed candidate and still satisfies the package's
// constraints.
func fallbackCandidate(diagnostic string, failed pep440.Version, specs []pep440.Specifier) (pep440.Version, bool) {
	m := fromVersionsRegex.FindStringSubmatch(diagnostic)
	if m == nil {
		return pep440.Version{}, false
	}

	var below []pep440.Version
	for _, field := range strings.Split(m[1], ",") {
		field = strings.TrimSpace(field)
		if field == "" || field == "none" {
			continue
		}
		if v := pep440.Parse(field); !v.IsSentinel() && v.Compare(failed) < 0 {
			below = append(below, v)
		}
	}

	return pep440.StableMaxSatisfying(below, specs)
}
