package requirements

import (
	"os"

	"github.com/BurntSushi/toml"
)

// pyprojectFile is the subset of PEP 621 metadata the audit reads.
type pyprojectFile struct {
	Project struct {
		Name         string   `toml:"name"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
}

// scanPyproject reads PEP 621 [project].dependencies entries, which use
// the same requirement syntax as requirements.txt lines. Missing or
// malformed files are skipped silently. Optional dependency groups are
// not scanned: they are opt-in extras, not install requirements.
func scanPyproject(set *Set, path, sourceName string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var file pyprojectFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return
	}

	for _, dep := range file.Project.Dependencies {
		if l, ok := ParseLine(dep); ok {
			set.add(sourceName, path, l)
		}
	}
}
