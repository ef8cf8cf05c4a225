package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/render"
)

// graphCommand creates the graph command for rendering the constraint graph.
func (c *CLI) graphCommand() *cobra.Command {
	var p graphParams

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the constraint graph as SVG, PNG, or DOT",
		Long: `Render the source→package constraint graph.

Every requirements source (ComfyUI itself and each custom node) becomes a
folder-shaped node, every aggregated package a box colored by its audit
bucket, and every declared constraint an edge labeled with its specifier.
Probing is skipped; the graph reflects aggregation and resolution only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGraph(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVarP(&p.path, "path", "p", "", "ComfyUI root directory (overrides config)")
	cmd.Flags().StringVarP(&p.output, "output", "o", "audit-graph.svg", "output file")
	cmd.Flags().StringVarP(&p.format, "format", "f", "", "output format: svg, png, dot (default inferred from --output)")
	cmd.Flags().BoolVar(&p.detailed, "detailed", false, "include installed and target versions in node labels")
	cmd.Flags().StringSliceVar(&p.buckets, "bucket", nil, "only include packages in these buckets (repeatable)")
	cmd.Flags().BoolVar(&p.refresh, "refresh", false, "bypass cached index responses")
	cmd.Flags().BoolVar(&p.noCache, "no-cache", false, "disable caching")

	return cmd
}

type graphParams struct {
	path     string
	output   string
	format   string
	detailed bool
	buckets  []string
	refresh  bool
	noCache  bool
}

// runGraph audits without probing and renders the aggregation result.
func (c *CLI) runGraph(ctx context.Context, p graphParams) error {
	format, err := graphFormat(p.format, p.output)
	if err != nil {
		return err
	}
	buckets, err := parseBuckets(p.buckets)
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if p.path != "" {
		cfg.ComfyUIPath = p.path
	}

	opts, err := auditOptions(cfg)
	if err != nil {
		return err
	}
	if err := requireAuditable(opts); err != nil {
		return err
	}
	opts.Refresh = p.refresh
	opts.SkipProbe = true

	env, err := c.newRunner(ctx, cfg, p.noCache)
	if err != nil {
		return err
	}
	defer env.Close()

	spinner := newSpinnerWithContext(ctx, "Auditing packages...")
	spinner.Start()

	result, err := env.Run(ctx, opts)
	if err != nil {
		spinner.StopWithError("Audit failed")
		return err
	}
	spinner.Stop()

	dot := render.ToDOT(result, render.Options{Detailed: p.detailed, Buckets: buckets})

	var data []byte
	switch format {
	case "dot":
		data = []byte(dot)
	case "svg":
		data, err = render.RenderSVG(dot)
	case "png":
		data, err = render.RenderPNG(dot)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.output, data, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "writing %s", p.output)
	}

	printSuccess("Rendered constraint graph (%d packages)", len(result.Reports))
	printFile(p.output)
	return nil
}

// graphFormat resolves the output format: the explicit flag wins, then
// the output extension, then SVG.
func graphFormat(flag, output string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(flag))
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".dot", ".gv":
			format = "dot"
		case ".png":
			format = "png"
		default:
			format = "svg"
		}
	}
	switch format {
	case "dot", "svg", "png":
		return format, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown format %q (svg, png, dot)", flag)
}

// parseBuckets validates --bucket values against the known buckets.
func parseBuckets(names []string) ([]audit.Bucket, error) {
	valid := map[audit.Bucket]bool{
		audit.BucketUpToDate:        true,
		audit.BucketMissing:         true,
		audit.BucketUpgradeSafe:     true,
		audit.BucketUpgradeRisky:    true,
		audit.BucketUpgradeUnknown:  true,
		audit.BucketDowngradeNeeded: true,
		audit.BucketHeld:            true,
		audit.BucketPinned:          true,
		audit.BucketConflict:        true,
	}
	var out []audit.Bucket
	for _, n := range names {
		b := audit.Bucket(strings.TrimSpace(n))
		if !valid[b] {
			return nil, errors.New(errors.ErrCodeInvalidInput, "unknown bucket %q", n)
		}
		out = append(out, b)
	}
	return out, nil
}
