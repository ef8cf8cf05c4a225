package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/probe"
)

// auditCommand creates the audit command, the tool's core operation.
func (c *CLI) auditCommand() *cobra.Command {
	var p auditParams

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit pip dependencies across ComfyUI and its custom nodes",
		Long: `Audit pip dependencies across ComfyUI and its custom nodes.

The audit reads every requirements.txt (and pyproject.toml) under the
installation, resolves the highest version of each package that satisfies
all declared constraints together, verifies upgrade candidates with
'pip install --dry-run', and prints a per-package report followed by
batched install commands for safe updates, risky updates, and missing
packages.

Nothing is installed or modified; the printed commands are suggestions
to copy and run yourself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAudit(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVarP(&p.path, "path", "p", "", "ComfyUI root directory (overrides config)")
	cmd.Flags().BoolVar(&p.refresh, "refresh", false, "bypass cached index responses")
	cmd.Flags().BoolVar(&p.noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&p.noProbe, "no-probe", false, "skip pip dry-run verification (upgrades classify as unverified)")
	cmd.Flags().DurationVar(&p.probeTimeout, "probe-timeout", probe.DefaultTimeout, "timeout per pip dry run")
	cmd.Flags().BoolVar(&p.jsonOut, "json", false, "print the structured result as JSON instead of the report")
	cmd.Flags().StringVarP(&p.output, "output", "o", "", "also write the JSON result to a file")
	cmd.Flags().BoolVar(&p.plain, "plain", false, "plain progress output (no TUI)")

	return cmd
}

// auditParams collects the audit command's flag values.
type auditParams struct {
	path         string
	refresh      bool
	noCache      bool
	noProbe      bool
	probeTimeout time.Duration
	jsonOut      bool
	output       string
	plain        bool
}

// runAudit executes one complete audit and renders the result.
func (c *CLI) runAudit(ctx context.Context, p auditParams) error {
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
	opts.SkipProbe = p.noProbe

	env, err := c.newRunner(ctx, cfg, p.noCache)
	if err != nil {
		return err
	}
	defer env.Close()
	if p.probeTimeout > 0 {
		env.Prober.Timeout = p.probeTimeout
	}

	// Cancelable so ctrl+c inside the progress view stops the run.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := c.newProgressView(p.plain, cancel)
	opts.Progress = view.Handle

	prog := newProgress(c.Logger)
	result, err := env.Run(runCtx, opts)
	view.Done()
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Audited %d packages", len(result.Reports)))

	c.saveHistory(ctx, cfg, result)

	if p.output != "" {
		if err := writeResultJSON(p.output, result); err != nil {
			return err
		}
		printFile(p.output)
	}
	if p.jsonOut {
		return renderJSON(os.Stdout, result)
	}

	renderReport(os.Stdout, result)
	printSummary(len(result.Reports), result.ActionCount(), result.FinishedAt.Sub(result.StartedAt))
	printNewline()
	printNextStep("Inspect a package", result.PipCommand+" show <package>")
	printNextStep("List release history", result.PipCommand+" index versions <package>")
	return nil
}

// saveHistory records a finished run. Failures only warn: the report
// already reached the user, history is a bonus.
func (c *CLI) saveHistory(ctx context.Context, cfg *config.Config, result *audit.Result) {
	store, err := c.newHistoryStore(ctx, cfg)
	if err != nil {
		c.Logger.Warn("run history unavailable", "err", err)
		return
	}
	defer store.Close()

	if err := store.Save(ctx, result); err != nil {
		c.Logger.Warn("could not record run", "run_id", result.RunID, "err", err)
		return
	}
	c.Logger.Debug("recorded run", "run_id", result.RunID)
}

// renderJSON writes v as indented JSON.
func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeResultJSON saves the structured result next to the report.
func writeResultJSON(path string, result *audit.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encoding result")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "writing %s", path)
	}
	return nil
}
