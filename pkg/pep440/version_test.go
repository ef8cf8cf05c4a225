package pep440

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		sentinel   bool
		prerelease bool
	}{
		{"canonical", "1.2.3", false, false},
		{"two components", "1.24", false, false},
		{"four components", "1.2.3.4", false, false},
		{"calver", "2021.4.10", false, false},
		{"v prefix", "v1.2.3", false, false},
		{"ver prefix", "ver 2.0", false, false},
		{"alpha", "1.0a1", false, true},
		{"alpha spelled out", "1.0alpha2", false, true},
		{"beta", "1.0b1", false, true},
		{"release candidate", "1.0rc1", false, true},
		{"release candidate dotted", "1.0.rc2", false, true},
		{"dev", "1.0.dev3", false, true},
		{"post", "1.0.post1", false, false},
		{"epoch", "1!2.0", false, false},
		{"local segment", "2.1.0+cu118", false, false},
		{"whitespace", "  1.5  ", false, false},

		{"empty", "", true, true},
		{"no digits", "not-a-version", true, true},
		{"letters only", "latest", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Parse(tt.input)
			if v.IsSentinel() != tt.sentinel {
				t.Errorf("IsSentinel() = %v, want %v", v.IsSentinel(), tt.sentinel)
			}
			if v.IsPrerelease() != tt.prerelease {
				t.Errorf("IsPrerelease() = %v, want %v", v.IsPrerelease(), tt.prerelease)
			}
		})
	}
}

func TestStringPreservesOriginal(t *testing.T) {
	for _, raw := range []string{"1.2.3", "v1.2", "2.1.0+cu118", "garbage"} {
		if got := Parse(raw).String(); got != raw {
			t.Errorf("Parse(%q).String() = %q, want original text", raw, got)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"less", "1.0", "2.0", -1},
		{"greater", "2.1", "2.0", 1},
		{"equal", "1.0", "1.0", 0},
		{"zero padding", "1.0", "1.0.0", 0},
		{"numeric not lexicographic", "1.10", "1.9", 1},
		{"four components greater", "1.2.3.4", "1.2.3", 1},
		{"four components less", "1.2.3.4", "1.2.4", -1},
		{"v prefix ignored", "v1.2.3", "1.2.3", 0},
		{"local segment ignored", "2.1.0+cu118", "2.1.0", 0},

		{"dev below alpha", "1.0.dev1", "1.0a1", -1},
		{"alpha below beta", "1.0a1", "1.0b1", -1},
		{"beta below rc", "1.0b2", "1.0rc1", -1},
		{"rc below final", "1.0rc1", "1.0", -1},
		{"final below post", "1.0", "1.0.post1", -1},
		{"post below next patch", "1.0.post1", "1.0.1", -1},
		{"alpha numbering", "1.0a1", "1.0a2", -1},
		{"alpha spelling equivalence", "1.0alpha2", "1.0a2", 0},

		{"epoch dominates", "1!1.0", "2.0", 1},
		{"sentinel below real", "garbage", "0.0.1", -1},
		{"sentinel below zero", "garbage", "0", -1},
		{"sentinels equal", "garbage", "also-garbage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := Parse(tt.a), Parse(tt.b)
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := b.Compare(a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestSort(t *testing.T) {
	raws := []string{"2.0", "1.0.dev1", "1.0", "garbage", "1.0rc1", "1.0.post1", "1.2.3.4", "1.2.3"}
	versions := make([]Version, len(raws))
	for i, r := range raws {
		versions[i] = Parse(r)
	}

	Sort(versions)

	want := []string{"garbage", "1.0.dev1", "1.0rc1", "1.0", "1.0.post1", "1.2.3", "1.2.3.4", "2.0"}
	for i, w := range want {
		if versions[i].String() != w {
			t.Fatalf("Sort order[%d] = %s, want %s (full order: %v)", i, versions[i], w, versions)
		}
	}
}

func TestSortDeterministic(t *testing.T) {
	// Equal versions keep a stable order based on their original text.
	a := []Version{Parse("1.0.0"), Parse("1.0"), Parse("v1.0")}
	b := []Version{Parse("v1.0"), Parse("1.0.0"), Parse("1.0")}

	Sort(a)
	Sort(b)

	for i := range a {
		if a[i].String() != b[i].String() {
			t.Errorf("Sort not deterministic: %v vs %v", a, b)
			break
		}
	}
}
