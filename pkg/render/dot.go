// Package render turns audit results into Graphviz visualizations of the
// constraint graph: requirement sources on one side, the packages they
// constrain on the other, edges labeled with each declared specifier and
// package nodes colored by bucket.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/comfyaudit/pkg/audit"
)

// Options configures constraint graph rendering.
type Options struct {
	// Detailed includes installed and target versions in package labels.
	// When false, only the package name is shown.
	Detailed bool

	// Buckets narrows the graph to packages in the given buckets.
	// Empty means every package.
	Buckets []audit.Bucket
}

// bucketFill maps each bucket to its node fill color.
var bucketFill = map[audit.Bucket]string{
	audit.BucketUpToDate:        "palegreen",
	audit.BucketUpgradeSafe:     "lightblue",
	audit.BucketUpgradeRisky:    "orange",
	audit.BucketUpgradeUnknown:  "khaki",
	audit.BucketDowngradeNeeded: "salmon",
	audit.BucketMissing:         "lightgrey",
	audit.BucketHeld:            "plum",
	audit.BucketPinned:          "lightcyan",
	audit.BucketConflict:        "tomato",
}

// ToDOT converts a classified result to Graphviz DOT format. The
// resulting string can be rendered with [RenderSVG].
//
// Source and package node IDs carry "src:" and "pkg:" prefixes so a
// custom node directory named like a package never collides with it.
func ToDOT(result *audit.Result, opts Options) string {
	reports := selectReports(result, opts.Buckets)

	var buf bytes.Buffer
	buf.WriteString("digraph audit {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=12, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.8;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, source := range sourceNames(reports) {
		fmt.Fprintf(&buf, "  %q [label=%q, shape=folder, fillcolor=wheat];\n", "src:"+source, source)
	}

	buf.WriteString("\n")
	for _, rep := range reports {
		label := fmtLabel(rep, opts.Detailed)
		attrs := fmtAttrs(rep, label)
		fmt.Fprintf(&buf, "  %q [%s];\n", "pkg:"+rep.Name, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, rep := range reports {
		for _, c := range rep.Constraints {
			if spec := c.Specifier.String(); spec != "" {
				fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", "src:"+c.SourceName, "pkg:"+rep.Name, spec)
			} else {
				fmt.Fprintf(&buf, "  %q -> %q;\n", "src:"+c.SourceName, "pkg:"+rep.Name)
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func selectReports(result *audit.Result, buckets []audit.Bucket) []*audit.PackageReport {
	if len(buckets) == 0 {
		return result.Reports
	}
	wanted := make(map[audit.Bucket]bool, len(buckets))
	for _, b := range buckets {
		wanted[b] = true
	}
	var out []*audit.PackageReport
	for _, rep := range result.Reports {
		if wanted[rep.Bucket] {
			out = append(out, rep)
		}
	}
	return out
}

// sourceNames returns every constraint source in first-appearance order,
// which puts the root first since reports list it first.
func sourceNames(reports []*audit.PackageReport) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rep := range reports {
		for _, c := range rep.Constraints {
			if !seen[c.SourceName] {
				seen[c.SourceName] = true
				out = append(out, c.SourceName)
			}
		}
	}
	return out
}

func fmtLabel(rep *audit.PackageReport, detailed bool) string {
	name := rep.DisplayName
	if name == "" {
		name = rep.Name
	}
	if !detailed {
		return name
	}

	parts := []string{string(rep.Bucket)}
	if rep.Installed != nil {
		parts = append(parts, fmt.Sprintf("installed: %s", rep.Installed))
	}
	if rep.Target != nil {
		parts = append(parts, fmt.Sprintf("target: %s", rep.Target))
	} else if rep.MaxAllowed != nil {
		parts = append(parts, fmt.Sprintf("max: %s", rep.MaxAllowed))
	}

	return name + "\n" + strings.Join(parts, "\n")
}

func fmtAttrs(rep *audit.PackageReport, label string) []string {
	attrs := []string{fmt.Sprintf("label=%q", label)}
	if fill, ok := bucketFill[rep.Bucket]; ok {
		attrs = append(attrs, fmt.Sprintf("fillcolor=%s", fill))
	}
	if rep.Bucket == audit.BucketHeld {
		attrs = append(attrs, "style=\"rounded,filled,dashed\"")
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

// RenderPNG rasterizes a DOT graph with Graphviz's built-in PNG encoder.
func RenderPNG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
