package audit

// Plan is the set of copy-pasteable pip commands that closes the gap
// between the environment and the audit's findings. Batch commands are
// always rendered, with a "(nothing)" suffix marking an empty batch;
// Downgrades is left empty when no package needs one.
type Plan struct {
	Safe       string            `json:"safe"`
	Risky      string            `json:"risky"`
	Missing    string            `json:"missing"`
	Downgrades string            `json:"downgrades,omitempty"`
	PerPackage map[string]string `json:"per_package,omitempty"`
}

const nothing = "(nothing)"

// BuildPlan assembles the command suggestions from classified reports.
// Reports keep their order, so the batch lines list packages the way the
// run sorted them.
func BuildPlan(tool PipTool, reports []*PackageReport) Plan {
	var safe, risky, missing, downgrades []string
	per := make(map[string]string)

	for _, r := range reports {
		if r.Target == nil {
			continue
		}
		req := r.Name + "==" + r.Target.String()
		switch r.Bucket {
		case BucketUpgradeSafe:
			safe = append(safe, req)
			per[r.Name] = tool.CommandLine("install", "--upgrade", req)
		case BucketUpgradeRisky:
			risky = append(risky, req)
			per[r.Name] = tool.CommandLine("install", "--upgrade", req)
		case BucketUpgradeUnknown:
			per[r.Name] = tool.CommandLine("install", "--upgrade", req)
		case BucketMissing:
			missing = append(missing, req)
			per[r.Name] = tool.CommandLine("install", req)
		case BucketDowngradeNeeded:
			downgrades = append(downgrades, req)
			per[r.Name] = tool.CommandLine("install", req)
		case BucketPinned:
			per[r.Name] = tool.CommandLine("install", req)
		}
	}

	plan := Plan{
		Safe:    batchLine(tool, []string{"install", "--upgrade"}, safe),
		Risky:   batchLine(tool, []string{"install", "--upgrade"}, risky),
		Missing: batchLine(tool, []string{"install"}, missing),
	}
	if len(downgrades) > 0 {
		plan.Downgrades = batchLine(tool, []string{"install"}, downgrades)
	}
	if len(per) > 0 {
		plan.PerPackage = per
	}
	return plan
}

func batchLine(tool PipTool, verb []string, reqs []string) string {
	if len(reqs) == 0 {
		return tool.CommandLine(verb...) + " " + nothing
	}
	return tool.CommandLine(append(verb, reqs...)...)
}
