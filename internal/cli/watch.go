package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// watchCommand creates the watch command for continuous auditing.
func (c *CLI) watchCommand() *cobra.Command {
	var p watchParams

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-audit whenever a requirements file changes",
		Long: `Watch the ComfyUI installation and re-run the audit whenever a
requirements.txt or pyproject.toml changes, or a custom node appears or
disappears. Each pass prints a brief report of packages needing action.

Probing is skipped unless --probe is set, so a pass costs one pip list
call plus cached index lookups.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVarP(&p.path, "path", "p", "", "ComfyUI root directory (overrides config)")
	cmd.Flags().DurationVar(&p.debounce, "debounce", 500*time.Millisecond, "settle time before re-auditing after a change")
	cmd.Flags().BoolVar(&p.probe, "probe", false, "run pip dry-run probes on each pass")
	cmd.Flags().BoolVar(&p.noCache, "no-cache", false, "disable caching")

	return cmd
}

type watchParams struct {
	path     string
	debounce time.Duration
	probe    bool
	noCache  bool
}

// runWatch audits once, then loops on filesystem events until the context
// is canceled. Audit failures after the first pass are reported and the
// loop keeps going.
func (c *CLI) runWatch(ctx context.Context, p watchParams) error {
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

	env, err := c.newRunner(ctx, cfg, p.noCache)
	if err != nil {
		return err
	}
	defer env.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "starting file watcher")
	}
	defer watcher.Close()

	dirs := watchDirs(cfg, opts.PluginDirs)
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			c.Logger.Debug("cannot watch directory", "dir", dir, "error", err)
		}
	}

	printInfo("Watching %d directories (ctrl+c to stop)", len(dirs))
	if err := c.watchPass(ctx, cfg, env, p.probe); err != nil {
		return err
	}

	// Armed by events, fired after the settle time. Stopped timers are
	// safe to Reset as of go 1.23.
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			printNewline()
			printInfo("Stopped watching")
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantChange(ev) {
				continue
			}
			c.Logger.Debug("change detected", "file", ev.Name, "op", ev.Op.String())
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					// A new custom node. Watch it so edits inside are seen.
					_ = watcher.Add(ev.Name)
				}
			}
			debounce.Reset(p.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.Logger.Warn("watch error", "error", err)

		case <-debounce.C:
			if err := c.watchPass(ctx, cfg, env, p.probe); err != nil {
				if stderrors.Is(err, context.Canceled) {
					return err
				}
				printError("Audit failed: %v", err)
			}
		}
	}
}

// watchPass runs one audit and prints the brief report. Plugin directories
// are re-listed every pass so added or removed nodes take effect.
func (c *CLI) watchPass(ctx context.Context, cfg *config.Config, env *runnerEnv, probe bool) error {
	opts, err := auditOptions(cfg)
	if err != nil {
		return err
	}
	opts.SkipProbe = !probe

	prog := newProgress(c.Logger)
	result, err := env.Run(ctx, opts)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Audited %d packages", len(result.Reports)))

	printNewline()
	renderBrief(os.Stdout, result)
	return nil
}

// watchDirs assembles the flat watch set: the ComfyUI root for its own
// requirements file, each plugin parent for node creation and removal,
// and each plugin directory for edits inside. fsnotify does not recurse.
func watchDirs(cfg *config.Config, pluginDirs []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(cfg.ComfyRoot())
	for _, parent := range pluginParents(cfg) {
		add(parent)
	}
	for _, dir := range pluginDirs {
		add(dir)
	}
	return dirs
}

// relevantChange reports whether an event can alter the audit result:
// a requirements file changed, or a directory entry appeared or vanished
// (a plugin was added, removed, or renamed to toggle its disabled suffix).
func relevantChange(ev fsnotify.Event) bool {
	switch filepath.Base(ev.Name) {
	case "requirements.txt", "pyproject.toml":
		return true
	}
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		// Only directory-level create/remove/rename matters, but the
		// entry may already be gone, so do not stat to check.
		return true
	}
	return false
}
