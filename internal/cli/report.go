package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// noValue marks absent versions in the report.
const noValue = "—"

// renderReport writes the full audit report: one block per package, the
// unresolved extra entries, and the batched final commands.
func renderReport(w io.Writer, result *audit.Result) {
	for _, rep := range result.Reports {
		renderPackage(w, rep)
	}
	renderExtras(w, result)
	renderFinalCommands(w, result.Plan)
}

// renderPackage writes one package block:
//
//	--- numpy ---
//	 - Installed: 1.20
//	 - Used in:
//	    • ComfyUI [requirements.txt] requires >=1.20
//	 - Max allowed: 1.24
//	 - Update: Upgrade to 1.24 suggested
func renderPackage(w io.Writer, rep *audit.PackageReport) {
	name := rep.DisplayName
	if name == "" {
		name = rep.Name
	}
	fmt.Fprintln(w, styleHeading.Render("--- "+name+" ---"))
	fmt.Fprintln(w, " - Installed: "+installedValue(rep))
	fmt.Fprintln(w, " - Used in:")
	for _, line := range usedInLines(rep) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, " - Max allowed: "+maxAllowedValue(rep))
	if line, ok := updateLine(rep); ok {
		fmt.Fprintln(w, " - Update: "+line)
	}
	for _, note := range rep.Notes {
		fmt.Fprintln(w, "   "+StyleDim.Render(note))
	}
	if rep.Probe != nil && !rep.Probe.OK() && rep.Probe.Diagnostic != "" {
		fmt.Fprintln(w, "   "+StyleDim.Render(firstLine(rep.Probe.Diagnostic)))
	}
	if rep.IndexError != "" {
		fmt.Fprintln(w, "   "+StyleError.Render("index: "+rep.IndexError))
	}
	fmt.Fprintln(w)
}

// installedValue renders the installed version colored by what the audit
// decided: red when missing or conflicted, cyan when an upgrade exists,
// yellow when above the allowed maximum, green otherwise.
func installedValue(rep *audit.PackageReport) string {
	if rep.Installed == nil {
		return StyleError.Render(noValue)
	}
	v := rep.Installed.String()
	switch rep.Bucket {
	case audit.BucketUpgradeSafe, audit.BucketUpgradeRisky, audit.BucketUpgradeUnknown:
		return StyleHighlight.Render(v)
	case audit.BucketDowngradeNeeded:
		return StyleWarning.Render(v)
	case audit.BucketConflict:
		return StyleError.Render(v)
	default:
		return StyleSuccess.Render(v)
	}
}

// usedInLines renders one bullet per constraint source.
func usedInLines(rep *audit.PackageReport) []string {
	lines := make([]string, 0, len(rep.Constraints))
	for _, con := range rep.Constraints {
		spec := con.Specifier.String()
		if spec == "" {
			spec = "(no specifier)"
		}
		file := filepath.Base(con.SourceFile)
		lines = append(lines, fmt.Sprintf("    • %s [%s] requires %s", con.SourceName, file, styleSpec.Render(spec)))
	}
	return lines
}

func maxAllowedValue(rep *audit.PackageReport) string {
	if rep.MaxAllowed == nil {
		return StyleError.Render(noValue)
	}
	return StyleHighlight.Render(rep.MaxAllowed.String())
}

// updateLine renders the action verdict for buckets that need one.
func updateLine(rep *audit.PackageReport) (string, bool) {
	target := versionOrDash(rep.Target)
	switch rep.Bucket {
	case audit.BucketMissing:
		return StyleError.Render(fmt.Sprintf("Not installed; will be added at %s", target)), true
	case audit.BucketUpgradeSafe:
		return StyleSuccess.Render(fmt.Sprintf("Upgrade to %s suggested", target)), true
	case audit.BucketUpgradeRisky:
		return StyleWarning.Render(fmt.Sprintf("Upgrade to %s may conflict with installed packages", target)), true
	case audit.BucketUpgradeUnknown:
		return StyleWarning.Render(fmt.Sprintf("Upgrade to %s not verified", target)), true
	case audit.BucketDowngradeNeeded:
		return StyleWarning.Render(fmt.Sprintf("Installed %s ABOVE allowed %s; consider downgrade",
			versionOrDash(rep.Installed), versionOrDash(rep.MaxAllowed))), true
	case audit.BucketPinned:
		if rep.Target != nil {
			return StyleWarning.Render(fmt.Sprintf("Install %s to match the pin", target)), true
		}
		return "", false
	case audit.BucketHeld:
		return StyleDim.Render("Held back by config; not touched"), true
	default:
		return "", false
	}
}

// renderExtras lists requirement lines that are reported but never
// version-resolved, so nothing from the scan silently disappears.
func renderExtras(w io.Writer, result *audit.Result) {
	if len(result.Extras) == 0 {
		return
	}
	fmt.Fprintln(w, styleHeading.Render("--- unresolved entries ---"))
	for _, ex := range result.Extras {
		fmt.Fprintf(w, "    • %s [%s] %s\n", ex.SourceName, filepath.Base(ex.SourceFile), StyleDim.Render(ex.Raw))
	}
	fmt.Fprintln(w)
}

// renderFinalCommands writes the batched install commands. Safe, risky,
// and missing always print, "(nothing)" included, so the reader sees at a
// glance that a bucket is empty; downgrades appear only when needed.
func renderFinalCommands(w io.Writer, plan audit.Plan) {
	fmt.Fprintln(w, StyleTitle.Render("=== Final commands ==="))
	fmt.Fprintln(w, "Safe updates:\n  "+styleCommand.Render(plan.Safe))
	fmt.Fprintln(w, "Risky updates:\n  "+styleCommand.Render(plan.Risky))
	fmt.Fprintln(w, "Missing:\n  "+styleCommand.Render(plan.Missing))
	if plan.Downgrades != "" {
		fmt.Fprintln(w, "Downgrades:\n  "+styleCommand.Render(plan.Downgrades))
	}
}

// renderBrief writes the compact one-line-per-action view used by watch
// mode, where the full report would drown the change signal.
func renderBrief(w io.Writer, result *audit.Result) {
	actions := 0
	for _, rep := range result.Reports {
		switch rep.Bucket {
		case audit.BucketUpToDate, audit.BucketHeld:
			continue
		case audit.BucketPinned:
			if rep.Target == nil {
				continue
			}
		}
		to := versionOrDash(rep.Target)
		if to == noValue {
			to = versionOrDash(rep.MaxAllowed)
		}
		fmt.Fprintf(w, "  %s %s %s %s %s\n",
			StyleValue.Render(rep.Name),
			versionOrDash(rep.Installed),
			StyleDim.Render(iconArrow),
			to,
			StyleDim.Render("("+string(rep.Bucket)+")"))
		actions++
	}
	if actions == 0 {
		fmt.Fprintln(w, "  "+StyleSuccess.Render("everything up to date"))
	}
}

func versionOrDash(v *pep440.Version) string {
	if v == nil {
		return noValue
	}
	return v.String()
}

// firstLine truncates multi-line diagnostics to their first line.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}
