package cli

import (
	"testing"
)

func TestSplitPin(t *testing.T) {
	tests := []struct {
		name        string
		arg         string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{
			name:        "simple pin",
			arg:         "numpy==1.26.4",
			wantName:    "numpy",
			wantVersion: "1.26.4",
		},
		{
			name:        "mixed case name",
			arg:         "Pillow-SIMD==9.5.0",
			wantName:    "Pillow-SIMD",
			wantVersion: "9.5.0",
		},
		{
			name:    "no separator",
			arg:     "numpy",
			wantErr: true,
		},
		{
			name:    "missing version",
			arg:     "numpy==",
			wantErr: true,
		},
		{
			name:    "missing name",
			arg:     "==1.0",
			wantErr: true,
		},
		{
			name:    "unparseable version",
			arg:     "numpy==latest",
			wantErr: true,
		},
		{
			name:    "invalid package name",
			arg:     "../evil==1.0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version, err := splitPin(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("splitPin(%q) expected error, got %q %q", tt.arg, name, version)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitPin(%q) error: %v", tt.arg, err)
			}
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("splitPin(%q) = %q, %q, want %q, %q", tt.arg, name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestGraphFormat(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		output  string
		want    string
		wantErr bool
	}{
		{name: "inferred svg", output: "graph.svg", want: "svg"},
		{name: "inferred png", output: "graph.png", want: "png"},
		{name: "inferred dot", output: "graph.dot", want: "dot"},
		{name: "inferred gv", output: "graph.gv", want: "dot"},
		{name: "unknown extension defaults to svg", output: "graph.out", want: "svg"},
		{name: "explicit flag wins", flag: "dot", output: "graph.svg", want: "dot"},
		{name: "flag case insensitive", flag: "PNG", output: "x", want: "png"},
		{name: "unknown flag", flag: "pdf", output: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := graphFormat(tt.flag, tt.output)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("graphFormat(%q, %q) expected error, got %q", tt.flag, tt.output, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("graphFormat(%q, %q) error: %v", tt.flag, tt.output, err)
			}
			if got != tt.want {
				t.Errorf("graphFormat(%q, %q) = %q, want %q", tt.flag, tt.output, got, tt.want)
			}
		})
	}
}

func TestParseBuckets(t *testing.T) {
	got, err := parseBuckets([]string{"upgrade_safe", " missing "})
	if err != nil {
		t.Fatalf("parseBuckets() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("parseBuckets() returned %d buckets, want 2", len(got))
	}

	if _, err := parseBuckets([]string{"shiny"}); err == nil {
		t.Error("parseBuckets() accepted unknown bucket")
	}
}
