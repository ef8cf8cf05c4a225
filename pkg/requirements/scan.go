package requirements

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// RootSourceName labels constraints coming from the installation's own
// top-level requirements.txt.
const RootSourceName = "ComfyUI"

// DisabledSuffix marks custom node directories excluded from audits.
// ComfyUI-Manager appends it when a node pack is turned off.
const DisabledSuffix = ".disable"

// Constraint is one source's opinion about a package version.
type Constraint struct {
	SourceName string           `json:"source_name"`
	SourceFile string           `json:"source_file"`
	Specifier  pep440.Specifier `json:"specifier"`
}

// Extra is a requirement line that is reported but never version-resolved:
// VCS references, URLs, pip options, and lines that failed parsing.
type Extra struct {
	SourceName string   `json:"source_name"`
	SourceFile string   `json:"source_file"`
	Kind       LineKind `json:"kind"`
	Raw        string   `json:"raw"`
}

// Set is the aggregated view of every requirement declaration found in
// one scan: constraints grouped per canonical package name, the first raw
// spelling seen per package, and all extra entries.
type Set struct {
	Packages     map[string][]Constraint `json:"packages"`
	DisplayNames map[string]string       `json:"display_names"`
	Extras       []Extra                 `json:"extras,omitempty"`
}

// NewSet creates an empty aggregation set.
func NewSet() *Set {
	return &Set{
		Packages:     make(map[string][]Constraint),
		DisplayNames: make(map[string]string),
	}
}

// Names returns the canonical package names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Packages))
	for name := range s.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specifiers returns the specifiers of every constraint recorded for the
// canonical package name.
func (s *Set) Specifiers(name string) []pep440.Specifier {
	constraints := s.Packages[name]
	specs := make([]pep440.Specifier, len(constraints))
	for i, c := range constraints {
		specs[i] = c.Specifier
	}
	return specs
}

func (s *Set) add(sourceName, sourceFile string, l Line) {
	if l.Kind != LineParsed {
		s.Extras = append(s.Extras, Extra{
			SourceName: sourceName,
			SourceFile: sourceFile,
			Kind:       l.Kind,
			Raw:        l.Raw,
		})
		return
	}

	s.Packages[l.Name] = append(s.Packages[l.Name], Constraint{
		SourceName: sourceName,
		SourceFile: sourceFile,
		Specifier:  l.Specifier,
	})
	if _, ok := s.DisplayNames[l.Name]; !ok {
		s.DisplayNames[l.Name] = l.RawName
	}
}

// PluginDirs lists enabled plugin directories directly under parent,
// sorted by name. Directories whose name ends in disabledSuffix are
// skipped; pass an empty suffix to include everything.
func PluginDirs(parent, disabledSuffix string) ([]string, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if disabledSuffix != "" && strings.HasSuffix(e.Name(), disabledSuffix) {
			continue
		}
		dirs = append(dirs, filepath.Join(parent, e.Name()))
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Aggregate scans the root directory and every plugin directory for
// requirement declarations (requirements.txt and pyproject.toml, top
// level only) and merges them per canonical package name.
//
// Scanning is deterministic: the root first, then plugins in the order
// given, so repeated runs over an unchanged tree produce identical sets.
// Directories without requirement files contribute nothing; unreadable
// files are skipped silently since the scan is a pure read.
func Aggregate(rootDir string, pluginDirs []string) *Set {
	set := NewSet()
	if rootDir != "" {
		scanDir(set, rootDir, RootSourceName)
	}
	for _, dir := range pluginDirs {
		scanDir(set, dir, filepath.Base(dir))
	}
	return set
}

func scanDir(set *Set, dir, sourceName string) {
	scanRequirements(set, filepath.Join(dir, "requirements.txt"), sourceName)
	scanPyproject(set, filepath.Join(dir, "pyproject.toml"), sourceName)
}

func scanRequirements(set *Set, path, sourceName string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if l, ok := ParseLine(scanner.Text()); ok {
			set.add(sourceName, path, l)
		}
	}
}
