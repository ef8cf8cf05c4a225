// Package pep440 implements tolerant version ordering and specifier
// matching for Python package versions.
//
// PyPI hosts plenty of version strings that are not strictly PEP 440
// ("v1.2", "2021-04", "1.0.0.0"), so Parse never fails: anything without
// a leading numeric run becomes a sentinel version that sorts below every
// real version instead of aborting a whole resolution.
//
// Ordering follows PEP 440 for the cases that matter in practice: numeric
// release components compared piecewise, with development and pre-release
// suffixes ranking below the final release and post-releases above it
// (dev < a < b < rc < final < post). Exotic combinations such as
// pre-releases of post-releases collapse to their first suffix.
package pep440

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// phase ranks a version's release suffix for ordering.
type phase int8

const (
	phaseDev phase = iota
	phaseAlpha
	phaseBeta
	phaseRC
	phaseFinal
	phasePost
)

// Version is a parsed package version. The first three release components
// are held in a semver value; anything beyond that (extra release
// components, suffix phase, epoch) is carried alongside for comparison.
type Version struct {
	original string
	epoch    uint64
	core     *mm.Version
	extra    []uint64
	nparts   int
	phase    phase
	phaseNum uint64
	sentinel bool
}

// Parse converts a version string into a Version. It never fails: strings
// with no leading numeric component produce a sentinel version that sorts
// below everything else.
func Parse(raw string) Version {
	original := strings.TrimSpace(raw)
	s := strings.ToLower(original)

	// Strip "v1.2" / "ver 1.2" / "version 1.2" prefixes.
	for _, prefix := range []string{"version", "ver", "v"} {
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := strings.TrimLeft(s[len(prefix):], " .:")
		if rest != "" && isDigit(rest[0]) {
			s = rest
			break
		}
	}

	v := Version{original: original, phase: phaseFinal}

	// Epoch ("1!2.0").
	if i := strings.IndexByte(s, '!'); i >= 0 {
		if n, err := strconv.ParseUint(s[:i], 10, 64); err == nil {
			v.epoch = n
		}
		s = s[i+1:]
	}

	// Local version segments ("+cu118") never affect ordering.
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}

	tokens := tokenize(s)

	var release []uint64
	i := 0
	for i < len(tokens) && isDigits(tokens[i]) {
		n, err := strconv.ParseUint(tokens[i], 10, 64)
		if err != nil {
			break
		}
		release = append(release, n)
		i++
	}

	if len(release) == 0 {
		return sentinel(original)
	}

	v.nparts = len(release)
	v.core = mm.New(component(release, 0), component(release, 1), component(release, 2), "", "")
	if len(release) > 3 {
		v.extra = release[3:]
	}

	// Suffix phase ("1.0a1", "1.0.rc2", "1.0.post1", "1.0.dev3").
	if i < len(tokens) {
		switch tokens[i] {
		case "dev":
			v.phase = phaseDev
		case "a", "alpha":
			v.phase = phaseAlpha
		case "b", "beta":
			v.phase = phaseBeta
		case "c", "rc", "pre", "preview":
			v.phase = phaseRC
		case "post", "rev", "r":
			v.phase = phasePost
		default:
			// Unrecognized suffix, ignore the rest. The release
			// components alone still give a usable ordering.
			return v
		}
		i++
		if i < len(tokens) && isDigits(tokens[i]) {
			if n, err := strconv.ParseUint(tokens[i], 10, 64); err == nil {
				v.phaseNum = n
			}
		}
	}

	return v
}

// sentinel builds the lowest-sorting version for an unparseable string.
func sentinel(original string) Version {
	return Version{
		original: original,
		core:     mm.New(0, 0, 0, "", ""),
		phase:    phaseDev,
		sentinel: true,
	}
}

// fromRelease builds a final-release version from explicit components.
// Used for computed bounds such as the upper end of a ~= clause.
func fromRelease(parts []uint64) Version {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = strconv.FormatUint(p, 10)
	}
	v := Version{
		original: strings.Join(strs, "."),
		nparts:   len(parts),
		phase:    phaseFinal,
		core:     mm.New(component(parts, 0), component(parts, 1), component(parts, 2), "", ""),
	}
	if len(parts) > 3 {
		v.extra = append([]uint64(nil), parts[3:]...)
	}
	return v
}

// String returns the original text the version was parsed from.
func (v Version) String() string {
	return v.original
}

// IsSentinel reports whether the version is the fallback for an
// unparseable string. The zero Version counts as a sentinel.
func (v Version) IsSentinel() bool {
	return v.sentinel || v.core == nil
}

// IsPrerelease reports whether the version is a development or
// pre-release version (dev, alpha, beta, rc).
func (v Version) IsPrerelease() bool {
	return v.phase < phaseFinal
}

// Compare returns -1, 0, or 1 ordering v against o. Sentinels sort below
// every real version; otherwise epoch, release components (zero-padded),
// suffix phase, and suffix number are compared in that order.
func (v Version) Compare(o Version) int {
	if v.IsSentinel() || o.IsSentinel() {
		switch {
		case v.IsSentinel() && o.IsSentinel():
			return 0
		case v.IsSentinel():
			return -1
		default:
			return 1
		}
	}

	if v.epoch != o.epoch {
		return cmpUint(v.epoch, o.epoch)
	}
	if c := v.core.Compare(o.core); c != 0 {
		return c
	}

	n := len(v.extra)
	if len(o.extra) > n {
		n = len(o.extra)
	}
	for i := 0; i < n; i++ {
		if c := cmpUint(component(v.extra, i), component(o.extra, i)); c != 0 {
			return c
		}
	}

	if v.phase != o.phase {
		if v.phase < o.phase {
			return -1
		}
		return 1
	}
	return cmpUint(v.phaseNum, o.phaseNum)
}

// releaseComponent returns the i-th release component, zero-padded past
// the explicitly given components.
func (v Version) releaseComponent(i int) uint64 {
	if v.core == nil {
		return 0
	}
	switch i {
	case 0:
		return v.core.Major()
	case 1:
		return v.core.Minor()
	case 2:
		return v.core.Patch()
	default:
		return component(v.extra, i-3)
	}
}

// MarshalJSON encodes the version as its original text.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.original)
}

// UnmarshalJSON re-parses the original text.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = Parse(s)
	return nil
}

// Sort orders versions ascending in place. Versions that compare equal
// are ordered by their original text so the result is deterministic.
func Sort(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		if c := versions[i].Compare(versions[j]); c != 0 {
			return c < 0
		}
		return versions[i].original < versions[j].original
	})
}

// tokenize splits a lowercased version string into runs of digits and
// runs of letters, discarding separators.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	kind := 0 // 0 none, 1 digit, 2 alpha

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
		kind = 0
	}

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			if kind == 2 {
				flush()
			}
			kind = 1
			cur.WriteRune(r)
		case r >= 'a' && r <= 'z':
			if kind == 1 {
				flush()
			}
			kind = 2
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func component(parts []uint64, i int) uint64 {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
