// Package config reads and writes the config.json that describes a
// ComfyUI installation: where it lives, which Python environment serves
// it, and the user's hold/pin rules for the dependency audit.
//
// Loading is deliberately a tri-state result (found, not found, parse
// error) instead of one opaque error, so callers can decide per case
// whether to fall back to defaults, run setup, or refuse to continue.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
)

// DefaultFileName is the config file looked up in the working directory
// when no explicit path is given.
const DefaultFileName = "config.json"

// HoldRules is one environment's hold list and pin map.
type HoldRules struct {
	// HoldPackages are canonical names never touched by upgrades.
	HoldPackages []string `json:"hold_packages,omitempty"`

	// PinPackages maps canonical names to the exact version they are
	// locked to.
	PinPackages map[string]string `json:"pin_packages,omitempty"`
}

// CacheSettings selects the cache backend for index responses.
type CacheSettings struct {
	// Dir overrides the file cache location. Empty means the XDG default.
	Dir string `json:"dir,omitempty"`

	// RedisURL switches caching to Redis when set (redis://host:port/db).
	RedisURL string `json:"redis_url,omitempty"`
}

// HistorySettings selects where finished audit runs are recorded.
type HistorySettings struct {
	// MongoURI switches run history to MongoDB when set.
	MongoURI string `json:"mongo_uri,omitempty"`

	// Database is the MongoDB database name. Empty means "comfyaudit".
	Database string `json:"database,omitempty"`
}

// Config is the on-disk configuration. All fields are optional; the only
// hard requirement for an audit is that at least one custom nodes path
// resolves.
type Config struct {
	// Environment names the active entry in Holds. Empty means the
	// top-level hold/pin fields apply alone.
	Environment string `json:"environment,omitempty"`

	// EnvType records how the Python environment was created ("venv" or
	// "conda"); informational, used for activation hints.
	EnvType string `json:"env_type,omitempty"`

	CondaPath      string `json:"conda_path,omitempty"`
	CondaEnv       string `json:"conda_env,omitempty"`
	CondaEnvFolder string `json:"conda_env_folder,omitempty"`
	VenvPath       string `json:"venv_path,omitempty"`

	// ComfyUIPath is the installation root. When empty it is derived
	// from the parent of the first custom nodes path.
	ComfyUIPath string `json:"comfyui_path,omitempty"`

	// CustomNodesPath and CustomNodesPaths both name plugin roots;
	// either spelling is accepted and they are merged.
	CustomNodesPath  string   `json:"custom_nodes_path,omitempty"`
	CustomNodesPaths []string `json:"custom_nodes_paths,omitempty"`

	// PipCommand overrides pip discovery ("conda run -n comfy pip").
	PipCommand string `json:"pip_command,omitempty"`

	// DisabledSuffix marks plugin folders excluded from audits. Empty
	// means the ComfyUI-Manager convention ".disable".
	DisabledSuffix string `json:"disabled_suffix,omitempty"`

	HoldPackages []string             `json:"hold_packages,omitempty"`
	PinPackages  map[string]string    `json:"pin_packages,omitempty"`
	Holds        map[string]HoldRules `json:"holds,omitempty"`

	Cache   CacheSettings   `json:"cache,omitempty"`
	History HistorySettings `json:"history,omitempty"`
}

// LoadStatus tells a caller how Load went, so recovery policy (defaults,
// setup prompt, hard failure) stays a caller decision.
type LoadStatus int

const (
	// LoadFound: the file existed and parsed.
	LoadFound LoadStatus = iota

	// LoadNotFound: no file at the path; the returned config is empty
	// defaults and the error is nil.
	LoadNotFound

	// LoadParseError: the file existed but was not valid JSON; the error
	// carries the detail.
	LoadParseError
)

// Load reads the configuration at path and applies environment variable
// overrides on top of whatever was found.
func Load(path string) (*Config, LoadStatus, error) {
	if path == "" {
		path = DefaultFileName
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, LoadParseError, errors.Wrap(errors.ErrCodeInvalidConfig, jsonErr, "malformed config %s", path)
		}
		cfg.applyEnv()
		return cfg, LoadFound, nil
	case os.IsNotExist(err):
		cfg.applyEnv()
		return cfg, LoadNotFound, nil
	default:
		return nil, LoadParseError, errors.Wrap(errors.ErrCodeInvalidConfig, err, "cannot read config %s", path)
	}
}

// Save writes the configuration as indented JSON, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultFileName
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "cannot encode config")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidPath, err, "cannot create config directory %s", dir)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "cannot write config %s", path)
	}
	return nil
}

// Environment variable overrides, applied after the file. Each one maps
// onto the config field of the same name.
func (c *Config) applyEnv() {
	set := func(target *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}
	set(&c.Environment, "COMFYAUDIT_ENVIRONMENT")
	set(&c.ComfyUIPath, "COMFYAUDIT_COMFYUI_PATH")
	set(&c.CustomNodesPath, "COMFYAUDIT_CUSTOM_NODES_PATH")
	set(&c.CondaEnvFolder, "COMFYAUDIT_CONDA_ENV_FOLDER")
	set(&c.PipCommand, "COMFYAUDIT_PIP_COMMAND")
	set(&c.Cache.Dir, "COMFYAUDIT_CACHE_DIR")
	set(&c.Cache.RedisURL, "COMFYAUDIT_REDIS_URL")
	set(&c.History.MongoURI, "COMFYAUDIT_MONGO_URI")
}

// PluginRoots merges custom_nodes_path and custom_nodes_paths, cleaned
// and deduplicated, preserving declaration order.
func (c *Config) PluginRoots() []string {
	var roots []string
	seen := make(map[string]bool)

	add := func(p string) {
		p = filepath.Clean(strings.TrimSpace(p))
		if p == "" || p == "." || seen[p] {
			return
		}
		seen[p] = true
		roots = append(roots, p)
	}

	add(c.CustomNodesPath)
	for _, p := range c.CustomNodesPaths {
		add(p)
	}
	return roots
}

// ComfyRoot returns the installation root: the explicit comfyui_path if
// set, otherwise the parent of the first plugin root.
func (c *Config) ComfyRoot() string {
	if c.ComfyUIPath != "" {
		return filepath.Clean(c.ComfyUIPath)
	}
	if roots := c.PluginRoots(); len(roots) > 0 {
		return filepath.Dir(roots[0])
	}
	return ""
}

// Validate checks that an audit can run at all. A configuration without
// a single plugin root is the one fatal case: nothing can be aggregated.
func (c *Config) Validate() error {
	roots := c.PluginRoots()
	if len(roots) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "custom_nodes_path missing in config")
	}
	for _, root := range roots {
		if err := errors.ValidatePath(root); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveDisabledSuffix returns the configured disabled-folder suffix
// or the ComfyUI-Manager default.
func (c *Config) EffectiveDisabledSuffix() string {
	if c.DisabledSuffix != "" {
		return c.DisabledSuffix
	}
	return ".disable"
}

// EffectiveHolds returns the canonical names held for the active
// environment: the top-level list plus the active environment's list.
func (c *Config) EffectiveHolds() map[string]bool {
	holds := make(map[string]bool)
	for _, name := range c.HoldPackages {
		holds[integrations.NormalizePkgName(name)] = true
	}
	for _, name := range c.activeRules().HoldPackages {
		holds[integrations.NormalizePkgName(name)] = true
	}
	return holds
}

// EffectivePins returns the canonical name to version pin map for the
// active environment. An environment-specific pin wins over a top-level
// one for the same package.
func (c *Config) EffectivePins() map[string]string {
	pins := make(map[string]string)
	for name, version := range c.PinPackages {
		pins[integrations.NormalizePkgName(name)] = version
	}
	for name, version := range c.activeRules().PinPackages {
		pins[integrations.NormalizePkgName(name)] = version
	}
	return pins
}

func (c *Config) activeRules() HoldRules {
	if c.Environment == "" {
		return HoldRules{}
	}
	return c.Holds[c.Environment]
}

// AddHold records a package as held. Reports false when it already was.
func (c *Config) AddHold(name string) bool {
	canonical := integrations.NormalizePkgName(name)
	if c.EffectiveHolds()[canonical] {
		return false
	}
	if c.Environment == "" {
		c.HoldPackages = append(c.HoldPackages, canonical)
		return true
	}
	rules := c.holdsEntry()
	rules.HoldPackages = append(rules.HoldPackages, canonical)
	c.Holds[c.Environment] = rules
	return true
}

// RemoveHold drops a package from every hold list it appears in.
// Reports false when it was not held.
func (c *Config) RemoveHold(name string) bool {
	canonical := integrations.NormalizePkgName(name)
	removed := false

	c.HoldPackages, removed = removeName(c.HoldPackages, canonical, removed)
	if c.Environment != "" {
		rules := c.holdsEntry()
		rules.HoldPackages, removed = removeName(rules.HoldPackages, canonical, removed)
		c.Holds[c.Environment] = rules
	}
	return removed
}

// SetPin locks a package to an exact version, replacing any previous pin.
func (c *Config) SetPin(name, version string) {
	canonical := integrations.NormalizePkgName(name)
	if c.Environment == "" {
		if c.PinPackages == nil {
			c.PinPackages = make(map[string]string)
		}
		c.PinPackages[canonical] = version
		return
	}
	rules := c.holdsEntry()
	if rules.PinPackages == nil {
		rules.PinPackages = make(map[string]string)
	}
	rules.PinPackages[canonical] = version
	c.Holds[c.Environment] = rules
}

// RemovePin drops a package's pin wherever it is recorded. Reports false
// when it was not pinned.
func (c *Config) RemovePin(name string) bool {
	canonical := integrations.NormalizePkgName(name)
	removed := false

	if _, ok := c.PinPackages[canonical]; ok {
		delete(c.PinPackages, canonical)
		removed = true
	}
	if c.Environment != "" {
		rules := c.holdsEntry()
		if _, ok := rules.PinPackages[canonical]; ok {
			delete(rules.PinPackages, canonical)
			removed = true
		}
		c.Holds[c.Environment] = rules
	}
	return removed
}

// holdsEntry returns the active environment's rules, creating the map
// entry on first use.
func (c *Config) holdsEntry() HoldRules {
	if c.Holds == nil {
		c.Holds = make(map[string]HoldRules)
	}
	return c.Holds[c.Environment]
}

func removeName(names []string, target string, already bool) ([]string, bool) {
	kept := names[:0]
	removed := already
	for _, n := range names {
		if integrations.NormalizePkgName(n) == target {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	if len(kept) == 0 {
		return nil, removed
	}
	return kept, removed
}
