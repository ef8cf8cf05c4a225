package audit

import (
	"fmt"

	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
	"github.com/matzehuels/comfyaudit/pkg/probe"
)

// Bucket names the action a package needs.
type Bucket string

const (
	// BucketUpToDate: installed version equals the feasible maximum.
	BucketUpToDate Bucket = "up_to_date"

	// BucketMissing: not installed, but a feasible version exists.
	BucketMissing Bucket = "missing"

	// BucketUpgradeSafe: newer feasible version, probe confirmed pip
	// would install it.
	BucketUpgradeSafe Bucket = "upgrade_safe"

	// BucketUpgradeRisky: newer feasible version, probe reported a
	// dependency conflict.
	BucketUpgradeRisky Bucket = "upgrade_risky"

	// BucketUpgradeUnknown: newer feasible version, installability
	// could not be confirmed either way.
	BucketUpgradeUnknown Bucket = "upgrade_unknown"

	// BucketDowngradeNeeded: installed version exceeds what the
	// constraints allow.
	BucketDowngradeNeeded Bucket = "downgrade_needed"

	// BucketHeld: excluded from all suggestions by user configuration.
	BucketHeld Bucket = "held"

	// BucketPinned: locked to an exact version by user configuration.
	BucketPinned Bucket = "pinned"

	// BucketConflict: no available version satisfies the combined
	// constraints, or the index had nothing to offer.
	BucketConflict Bucket = "constraint_conflict"
)

// Rules are the user's hold and pin sets keyed by canonical name.
type Rules struct {
	Holds map[string]bool
	Pins  map[string]string
}

// NewRules canonicalizes hold and pin spellings so lookups succeed no
// matter how the config or a requirement file writes a name.
func NewRules(holds []string, pins map[string]string) Rules {
	r := Rules{
		Holds: make(map[string]bool, len(holds)),
		Pins:  make(map[string]string, len(pins)),
	}
	for _, name := range holds {
		r.Holds[integrations.NormalizePkgName(name)] = true
	}
	for name, version := range pins {
		r.Pins[integrations.NormalizePkgName(name)] = version
	}
	return r
}

// Classify buckets one report. The first matching rule wins: holds beat
// pins, pins beat everything derived from versions, and only then do the
// installed/maximum comparison and the probe outcome matter. Classify
// appends explanatory notes and sets the report's install target as a
// side effect.
func Classify(r *PackageReport, rules Rules) Bucket {
	if rules.Holds[r.Name] {
		return BucketHeld
	}

	if pin, ok := rules.Pins[r.Name]; ok {
		pinned := pep440.Parse(pin)
		switch {
		case r.Installed == nil:
			r.Notes = append(r.Notes, fmt.Sprintf("pinned to %s, not installed", pin))
			r.Target = &pinned
		case r.Installed.Compare(pinned) != 0:
			r.Notes = append(r.Notes, fmt.Sprintf("pinned to %s, installed %s", pin, r.Installed))
			r.Target = &pinned
		}
		return BucketPinned
	}

	if r.MaxAllowed == nil {
		if len(r.Available) == 0 {
			r.Notes = append(r.Notes, "no release information available")
		} else {
			r.Notes = append(r.Notes, "no available version satisfies the combined constraints")
		}
		return BucketConflict
	}

	if r.Installed == nil {
		r.Target = r.MaxAllowed
		return BucketMissing
	}

	switch cmp := r.Installed.Compare(*r.MaxAllowed); {
	case cmp < 0:
		r.Target = r.MaxAllowed
		if r.Probe == nil {
			return BucketUpgradeUnknown
		}
		if r.Probe.Retried && !r.Probe.Version.IsSentinel() {
			// A platform fallback settled on a lower version, so that
			// is what any install command should request.
			v := r.Probe.Version
			r.Target = &v
		}
		switch r.Probe.Status {
		case probe.StatusOK:
			return BucketUpgradeSafe
		case probe.StatusConflict:
			return BucketUpgradeRisky
		default:
			return BucketUpgradeUnknown
		}
	case cmp > 0:
		r.Target = r.MaxAllowed
		return BucketDowngradeNeeded
	default:
		return BucketUpToDate
	}
}

// needsProbe reports whether classification would consult a dry-run
// result for r. Held and pinned packages are never probed, and neither
// are packages without a strictly newer feasible version.
func needsProbe(r *PackageReport, rules Rules) bool {
	if rules.Holds[r.Name] {
		return false
	}
	if _, ok := rules.Pins[r.Name]; ok {
		return false
	}
	if r.MaxAllowed == nil || r.Installed == nil {
		return false
	}
	return r.Installed.Compare(*r.MaxAllowed) < 0
}
