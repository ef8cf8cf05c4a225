package pep440

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// clause is one (operator, version) pair inside a specifier.
type clause struct {
	op       string
	version  Version
	text     string // raw text after the operator
	wildcard bool
	upper    Version // exclusive upper bound, ~= only
}

// Specifier is a version predicate such as ">=1.2,<2.0". Clauses combine
// with logical AND. The zero value and the result of parsing an empty
// string both mean "any version".
type Specifier struct {
	clauses []clause
	raw     string
}

var clauseRegex = regexp.MustCompile(`^(===|==|!=|<=|>=|~=|<|>)\s*(.+)$`)

// ParseSpecifier parses a comma-separated list of comparison clauses.
// Supported operators: ==, !=, <, <=, >, >=, ~= and the arbitrary
// equality ===. == and != additionally accept a trailing ".*" wildcard.
// An empty string parses to the "any version" specifier.
func ParseSpecifier(raw string) (Specifier, error) {
	s := Specifier{raw: strings.TrimSpace(raw)}
	if s.raw == "" {
		return s, nil
	}

	for _, part := range strings.Split(s.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		m := clauseRegex.FindStringSubmatch(part)
		if m == nil {
			return Specifier{}, errors.New(errors.ErrCodeInvalidSpecifier, "invalid specifier clause: %q", part)
		}

		c := clause{op: m[1], text: strings.TrimSpace(m[2])}

		if c.op == "===" {
			// Arbitrary equality compares strings, no version parse.
			s.clauses = append(s.clauses, c)
			continue
		}

		text := c.text
		if strings.HasSuffix(text, ".*") {
			if c.op != "==" && c.op != "!=" {
				return Specifier{}, errors.New(errors.ErrCodeInvalidSpecifier, "wildcard is only valid with == or !=: %q", part)
			}
			c.wildcard = true
			text = strings.TrimSuffix(text, ".*")
		}

		c.version = Parse(text)
		if c.version.IsSentinel() {
			return Specifier{}, errors.New(errors.ErrCodeInvalidSpecifier, "invalid version in specifier: %q", part)
		}

		if c.op == "~=" {
			if c.version.nparts < 2 {
				return Specifier{}, errors.New(errors.ErrCodeInvalidSpecifier, "~= requires at least two version components: %q", part)
			}
			// ~=1.4.2 means >=1.4.2,<1.5. Drop the last given component
			// and increment the one before it for the upper bound.
			up := make([]uint64, c.version.nparts-1)
			for i := range up {
				up[i] = c.version.releaseComponent(i)
			}
			up[len(up)-1]++
			c.upper = fromRelease(up)
		}

		s.clauses = append(s.clauses, c)
	}

	return s, nil
}

// Empty reports whether the specifier places no restriction at all.
func (s Specifier) Empty() bool {
	return len(s.clauses) == 0
}

// String returns the specifier text as given, trimmed.
func (s Specifier) String() string {
	return s.raw
}

// MarshalJSON encodes the specifier as its text form.
func (s Specifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.raw)
}

// UnmarshalJSON re-parses the text form. Text that no longer parses
// becomes the "any version" specifier rather than an error, matching the
// tolerance of the rest of the package.
func (s *Specifier) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSpecifier(raw)
	if err != nil {
		*s = Specifier{raw: raw}
		return nil
	}
	*s = parsed
	return nil
}

// Contains reports whether v satisfies every clause.
func (s Specifier) Contains(v Version) bool {
	for _, c := range s.clauses {
		if !c.match(v) {
			return false
		}
	}
	return true
}

func (c clause) match(v Version) bool {
	switch c.op {
	case "===":
		return strings.EqualFold(strings.TrimSpace(v.String()), c.text)
	case "==":
		if c.wildcard {
			return c.prefixMatch(v)
		}
		return v.Compare(c.version) == 0
	case "!=":
		if c.wildcard {
			return !c.prefixMatch(v)
		}
		return v.Compare(c.version) != 0
	case "<":
		return v.Compare(c.version) < 0
	case "<=":
		return v.Compare(c.version) <= 0
	case ">":
		return v.Compare(c.version) > 0
	case ">=":
		return v.Compare(c.version) >= 0
	case "~=":
		return v.Compare(c.version) >= 0 && v.Compare(c.upper) < 0
	}
	return false
}

// prefixMatch implements the ".*" wildcard: the candidate's release
// components must equal the clause's for every explicitly given component.
func (c clause) prefixMatch(v Version) bool {
	if v.IsSentinel() || v.epoch != c.version.epoch {
		return false
	}
	for i := 0; i < c.version.nparts; i++ {
		if v.releaseComponent(i) != c.version.releaseComponent(i) {
			return false
		}
	}
	return true
}

// MaxSatisfying returns the highest version satisfying every non-empty
// specifier. With no specifiers the highest version wins ("any version"
// means "latest"). The second return is false when available is empty or
// no version satisfies all specifiers at once.
func MaxSatisfying(available []Version, specs []Specifier) (Version, bool) {
	var best Version
	found := false

	for _, v := range available {
		ok := true
		for _, s := range specs {
			if s.Empty() {
				continue
			}
			if !s.Contains(v) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if !found || v.Compare(best) > 0 {
			best = v
			found = true
		}
	}

	return best, found
}

// StableMaxSatisfying is MaxSatisfying with a preference for stable
// releases: development and pre-release versions are considered only when
// no stable version satisfies the specifiers.
func StableMaxSatisfying(available []Version, specs []Specifier) (Version, bool) {
	stable := make([]Version, 0, len(available))
	for _, v := range available {
		if !v.IsPrerelease() {
			stable = append(stable, v)
		}
	}
	if best, ok := MaxSatisfying(stable, specs); ok {
		return best, true
	}
	return MaxSatisfying(available, specs)
}
