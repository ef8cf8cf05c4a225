// Package requirements parses and aggregates pip requirement declarations
// across a ComfyUI installation: the root requirements.txt plus one
// requirements.txt (and optionally pyproject.toml) per custom node.
//
// Every line is classified exactly once into a tagged Line value, so
// downstream code switches on Kind instead of re-inspecting raw text.
// Nothing is silently dropped: lines that cannot be parsed as a standard
// requirement are retained verbatim and surface in the report as extras.
package requirements

import (
	"regexp"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// LineKind tags how a requirement line was classified at parse time.
type LineKind string

const (
	// LineParsed is a standard requirement: name, optional extras,
	// optional version specifier.
	LineParsed LineKind = "parsed"

	// LineVcsOrURL covers VCS references, direct URLs, and any other
	// line that fails requirement parsing, kept verbatim.
	LineVcsOrURL LineKind = "vcs_or_url"

	// LineIndexOption is a pip option line such as --extra-index-url.
	LineIndexOption LineKind = "index_option"
)

// Line is one requirement-file line after classification.
// Name, RawName, Extras, and Specifier are only set for LineParsed.
type Line struct {
	Kind      LineKind
	Name      string   // canonical name (PEP 503)
	RawName   string   // spelling as written
	Extras    []string // bracket extras, e.g. [standard]
	Specifier pep440.Specifier
	Raw       string // line text, trimmed
}

var (
	lineNameRE   = regexp.MustCompile(`^([a-zA-Z0-9][-a-zA-Z0-9._]*)`)
	lineExtrasRE = regexp.MustCompile(`^\[([^\]]*)\]`)
)

// ParseLine classifies a single requirements line. The second return is
// false for lines that carry no content at all (blank lines and comments).
func ParseLine(raw string) (Line, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return Line{}, false
	}

	// Option lines and VCS/URL references are classified before comment
	// stripping since URLs may legitimately contain '#' fragments.
	if strings.HasPrefix(line, "-") {
		return Line{Kind: LineIndexOption, Raw: line}, true
	}
	if strings.Contains(line, "://") || strings.HasPrefix(line, "git+") {
		return Line{Kind: LineVcsOrURL, Raw: line}, true
	}

	// Inline comments and environment markers don't affect the audit.
	if i := strings.Index(line, " #"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return Line{}, false
	}

	m := lineNameRE.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: LineVcsOrURL, Raw: line}, true
	}

	l := Line{
		Kind:    LineParsed,
		RawName: m[1],
		Name:    integrations.NormalizePkgName(m[1]),
		Raw:     line,
	}

	rest := strings.TrimSpace(line[len(m[1]):])

	if em := lineExtrasRE.FindStringSubmatch(rest); em != nil {
		for _, extra := range strings.Split(em[1], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				l.Extras = append(l.Extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[len(em[0]):])
	}

	// Per-requirement pip options (--hash=...) follow the specifier.
	if i := strings.Index(rest, "--"); i >= 0 {
		rest = strings.TrimSpace(rest[:i])
	}

	spec, err := pep440.ParseSpecifier(rest)
	if err != nil {
		// Not a standard requirement after all. Keep it verbatim so it
		// still shows up in the report.
		return Line{Kind: LineVcsOrURL, Raw: line}, true
	}
	l.Specifier = spec

	return l, true
}
