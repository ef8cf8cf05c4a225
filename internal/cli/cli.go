// Package cli implements the comfyaudit command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/buildinfo"
	"github.com/matzehuels/comfyaudit/pkg/cache"
	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/history"
	"github.com/matzehuels/comfyaudit/pkg/integrations/pypi"
	"github.com/matzehuels/comfyaudit/pkg/probe"
	"github.com/matzehuels/comfyaudit/pkg/requirements"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "comfyaudit"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is the --config flag value, empty for ./config.json.
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "comfyaudit",
		Short:        "Comfyaudit checks ComfyUI plugin dependencies for safe pip upgrades",
		Long:         `Comfyaudit aggregates the pip requirements of a ComfyUI installation and all of its custom nodes, resolves the highest version of each package every plugin can agree on, verifies upgrade candidates with pip dry runs, and prints a per-package report with ready-to-run install commands.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./config.json)")

	// Register all subcommands
	root.AddCommand(c.auditCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.watchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.setupCommand())
	root.AddCommand(c.holdCommand())
	root.AddCommand(c.unholdCommand())
	root.AddCommand(c.pinCommand())
	root.AddCommand(c.unpinCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the configuration honoring --config. A missing file is
// fine (empty defaults plus environment overrides); a file that exists
// but does not parse is a hard error so a typo never silently audits the
// wrong installation.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, status, err := config.Load(c.configPath)
	switch status {
	case config.LoadParseError:
		return nil, err
	case config.LoadNotFound:
		c.Logger.Debug("no config file found, using defaults", "path", c.configPath)
	}
	return cfg, nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// runnerEnv bundles an audit runner with the resources it borrows so
// commands release everything with one deferred Close.
type runnerEnv struct {
	*audit.Runner
	Tool   *probe.Tool
	Prober *probe.Prober

	backend cache.Cache
}

// Close releases the cache backend.
func (e *runnerEnv) Close() {
	if e.backend != nil {
		_ = e.backend.Close()
	}
}

// newRunner assembles the audit pipeline for CLI use: cache backend,
// index client, pip tool, and prober, all wired to the CLI logger.
func (c *CLI) newRunner(ctx context.Context, cfg *config.Config, noCache bool) (*runnerEnv, error) {
	backend, err := c.newCache(ctx, cfg, noCache)
	if err != nil {
		return nil, err
	}

	index := pypi.NewClient(backend, cache.TTLPackageIndex)

	pipCmd := probe.DiscoverCommand(cfg.PipCommand, cfg.CondaEnvFolder, cfg.ComfyRoot())
	tool, err := probe.NewTool(pipCmd, probe.CmdRunner{})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	prober := probe.NewProber(tool, c.Logger)

	return &runnerEnv{
		Runner:  audit.NewRunner(index, tool, prober, c.Logger),
		Tool:    tool,
		Prober:  prober,
		backend: backend,
	}, nil
}

// newCache picks the cache backend: disabled, Redis when configured, the
// file cache otherwise. An unknown home directory degrades to no caching
// rather than failing the run.
func (c *CLI) newCache(ctx context.Context, cfg *config.Config, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	if cfg.Cache.RedisURL != "" {
		backend, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeNetwork, err, "connecting cache redis %s", cfg.Cache.RedisURL)
		}
		return backend, nil
	}
	dir, err := effectiveCacheDir(cfg)
	if err != nil {
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(dir)
}

// newHistoryStore picks the run history backend: MongoDB when configured,
// one JSON file per run under the data directory otherwise.
func (c *CLI) newHistoryStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	if cfg.History.MongoURI != "" {
		return history.NewMongoStore(ctx, cfg.History.MongoURI, cfg.History.Database)
	}
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return history.NewFileStore(filepath.Join(dir, "runs"))
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/comfyaudit/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// effectiveCacheDir resolves the file cache location: the config override
// when present, the XDG default otherwise.
func effectiveCacheDir(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cacheDir()
}

// dataDir returns the data directory using XDG standard (~/.local/share/comfyaudit/).
func dataDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// =============================================================================
// Options Helpers
// =============================================================================

// auditOptions translates the installation config into run options: the
// ComfyUI root, the expanded plugin directories, and the hold/pin policy.
func auditOptions(cfg *config.Config) (audit.Options, error) {
	root := cfg.ComfyRoot()

	var pluginDirs []string
	for _, parent := range pluginParents(cfg) {
		dirs, err := requirements.PluginDirs(parent, cfg.EffectiveDisabledSuffix())
		if err != nil {
			return audit.Options{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "listing plugins under %s", parent)
		}
		pluginDirs = append(pluginDirs, dirs...)
	}

	return audit.Options{
		RootDir:    root,
		PluginDirs: pluginDirs,
		Holds:      holdNames(cfg),
		Pins:       cfg.EffectivePins(),
	}, nil
}

// pluginParents returns the directories whose children are plugins. When
// the config names none, <root>/custom_nodes is assumed if it exists.
func pluginParents(cfg *config.Config) []string {
	parents := cfg.PluginRoots()
	if len(parents) == 0 {
		if root := cfg.ComfyRoot(); root != "" {
			candidate := filepath.Join(root, "custom_nodes")
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				parents = []string{candidate}
			}
		}
	}
	return parents
}

// holdNames flattens the effective hold set into a sorted slice.
func holdNames(cfg *config.Config) []string {
	holds := cfg.EffectiveHolds()
	names := make([]string, 0, len(holds))
	for name := range holds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireAuditable fails early with a setup hint when neither config nor
// flags name anything to audit.
func requireAuditable(opts audit.Options) error {
	if opts.RootDir == "" && len(opts.PluginDirs) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig,
			"no ComfyUI installation configured: run %q or pass --path", appName+" setup")
	}
	return nil
}
