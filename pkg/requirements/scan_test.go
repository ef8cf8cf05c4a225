package requirements

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// buildTree lays out a minimal ComfyUI installation: root requirements,
// two enabled custom nodes, and one disabled one.
func buildTree(t *testing.T) (rootDir, nodesDir string) {
	t.Helper()
	rootDir = t.TempDir()
	nodesDir = filepath.Join(rootDir, "custom_nodes")

	writeFile(t, filepath.Join(rootDir, "requirements.txt"), `torch>=2.0
torchsde
numpy>=1.20
`)
	writeFile(t, filepath.Join(nodesDir, "a-node", "requirements.txt"), `numpy<2.0
Pillow-SIMD==9.0.0
--extra-index-url https://download.pytorch.org/whl/cu118
git+https://github.com/user/repo.git
`)
	writeFile(t, filepath.Join(nodesDir, "b-node", "pyproject.toml"), `[project]
name = "b-node"
dependencies = ["pillow_simd==9.0.0", "einops>=0.6"]
`)
	writeFile(t, filepath.Join(nodesDir, "z-node.disable", "requirements.txt"), "shouldnotappear==1.0\n")
	writeFile(t, filepath.Join(nodesDir, "notes.txt"), "not a plugin\n")

	return rootDir, nodesDir
}

func TestPluginDirs(t *testing.T) {
	_, nodesDir := buildTree(t)

	dirs, err := PluginDirs(nodesDir, DisabledSuffix)
	if err != nil {
		t.Fatalf("PluginDirs failed: %v", err)
	}

	want := []string{
		filepath.Join(nodesDir, "a-node"),
		filepath.Join(nodesDir, "b-node"),
	}
	if !reflect.DeepEqual(dirs, want) {
		t.Errorf("PluginDirs = %v, want %v", dirs, want)
	}
}

func TestPluginDirs_EmptySuffixIncludesDisabled(t *testing.T) {
	_, nodesDir := buildTree(t)

	dirs, err := PluginDirs(nodesDir, "")
	if err != nil {
		t.Fatalf("PluginDirs failed: %v", err)
	}
	if len(dirs) != 3 {
		t.Errorf("len(dirs) = %d, want 3", len(dirs))
	}
}

func TestPluginDirs_MissingParent(t *testing.T) {
	if _, err := PluginDirs(filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Error("expected error for missing parent directory")
	}
}

func TestAggregate(t *testing.T) {
	rootDir, nodesDir := buildTree(t)
	dirs, err := PluginDirs(nodesDir, DisabledSuffix)
	if err != nil {
		t.Fatal(err)
	}

	set := Aggregate(rootDir, dirs)

	wantNames := []string{"einops", "numpy", "pillow-simd", "torch", "torchsde"}
	if got := set.Names(); !reflect.DeepEqual(got, wantNames) {
		t.Errorf("Names() = %v, want %v", got, wantNames)
	}

	// numpy is constrained by the root and by a-node.
	constraints := set.Packages["numpy"]
	if len(constraints) != 2 {
		t.Fatalf("numpy has %d constraints, want 2", len(constraints))
	}
	if constraints[0].SourceName != RootSourceName {
		t.Errorf("first numpy source = %q, want %q", constraints[0].SourceName, RootSourceName)
	}
	if constraints[1].SourceName != "a-node" {
		t.Errorf("second numpy source = %q, want %q", constraints[1].SourceName, "a-node")
	}
	if got := constraints[0].Specifier.String(); got != ">=1.20" {
		t.Errorf("root numpy specifier = %q, want %q", got, ">=1.20")
	}

	// pillow-simd merges the requirements.txt and pyproject.toml spellings.
	if got := len(set.Packages["pillow-simd"]); got != 2 {
		t.Errorf("pillow-simd has %d constraints, want 2", got)
	}
	if got := set.DisplayNames["pillow-simd"]; got != "Pillow-SIMD" {
		t.Errorf("DisplayNames[pillow-simd] = %q, want first spelling %q", got, "Pillow-SIMD")
	}

	if got := len(set.Specifiers("numpy")); got != 2 {
		t.Errorf("Specifiers(numpy) = %d entries, want 2", got)
	}

	// The disabled node must not contribute.
	if _, ok := set.Packages["shouldnotappear"]; ok {
		t.Error("disabled node's requirements leaked into the set")
	}
}

func TestAggregate_Extras(t *testing.T) {
	rootDir, nodesDir := buildTree(t)
	dirs, err := PluginDirs(nodesDir, DisabledSuffix)
	if err != nil {
		t.Fatal(err)
	}

	set := Aggregate(rootDir, dirs)

	if len(set.Extras) != 2 {
		t.Fatalf("len(Extras) = %d, want 2", len(set.Extras))
	}

	kinds := map[LineKind]int{}
	for _, e := range set.Extras {
		kinds[e.Kind]++
		if e.SourceName != "a-node" {
			t.Errorf("extra source = %q, want %q", e.SourceName, "a-node")
		}
		if e.Raw == "" {
			t.Error("extra Raw is empty")
		}
	}
	if kinds[LineIndexOption] != 1 || kinds[LineVcsOrURL] != 1 {
		t.Errorf("extra kinds = %v, want one option and one vcs/url", kinds)
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	rootDir, nodesDir := buildTree(t)
	dirs, err := PluginDirs(nodesDir, DisabledSuffix)
	if err != nil {
		t.Fatal(err)
	}

	first := Aggregate(rootDir, dirs)
	second := Aggregate(rootDir, dirs)

	if !reflect.DeepEqual(first, second) {
		t.Error("repeated aggregation over an unchanged tree differs")
	}
}

func TestAggregate_CanonicalNamesMerge(t *testing.T) {
	rootDir := t.TempDir()
	writeFile(t, filepath.Join(rootDir, "requirements.txt"), `Pillow-SIMD==9.0.0
pillow_simd>=8.0
pillow.simd!=9.1
`)

	set := Aggregate(rootDir, nil)

	if got := set.Names(); !reflect.DeepEqual(got, []string{"pillow-simd"}) {
		t.Fatalf("Names() = %v, want [pillow-simd]", got)
	}
	if got := len(set.Packages["pillow-simd"]); got != 3 {
		t.Errorf("constraints = %d, want 3", got)
	}
	if got := set.DisplayNames["pillow-simd"]; got != "Pillow-SIMD" {
		t.Errorf("DisplayNames = %q, want %q", got, "Pillow-SIMD")
	}
}

func TestAggregate_EmptyRoot(t *testing.T) {
	nodeDir := filepath.Join(t.TempDir(), "only-node")
	writeFile(t, filepath.Join(nodeDir, "requirements.txt"), "einops\n")

	set := Aggregate("", []string{nodeDir})

	if got := set.Names(); !reflect.DeepEqual(got, []string{"einops"}) {
		t.Errorf("Names() = %v, want [einops]", got)
	}
	if got := set.Packages["einops"][0].SourceName; got != "only-node" {
		t.Errorf("source = %q, want %q", got, "only-node")
	}
}

func TestAggregate_MissingFilesAreSkipped(t *testing.T) {
	set := Aggregate(t.TempDir(), []string{filepath.Join(t.TempDir(), "ghost")})
	if len(set.Packages) != 0 || len(set.Extras) != 0 {
		t.Errorf("empty tree produced a non-empty set: %+v", set)
	}
}

func TestScanPyproject_MalformedToml(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pyproject.toml"), "not [valid toml\n")

	set := Aggregate(dir, nil)
	if len(set.Packages) != 0 {
		t.Errorf("malformed pyproject contributed packages: %v", set.Names())
	}
}
