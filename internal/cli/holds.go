package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// holdCommand creates the hold command.
func (c *CLI) holdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hold <package>...",
		Short: "Exclude packages from upgrade suggestions",
		Long: `Mark packages as held. Held packages are reported but never appear in
upgrade suggestions or batched install commands, no matter what the
resolver computes for them.

When the config names an environment, the hold is recorded in that
environment's section; otherwise at the top level.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutateConfig(func(cfg configMutator) error {
				for _, name := range args {
					if err := errors.ValidatePythonPackageName(name); err != nil {
						return err
					}
					canonical := integrations.NormalizePkgName(name)
					if cfg.AddHold(name) {
						printSuccess("Holding %s", canonical)
					} else {
						printInfo("%s is already held", canonical)
					}
				}
				return nil
			})
		},
	}
}

// unholdCommand creates the unhold command.
func (c *CLI) unholdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unhold <package>...",
		Short: "Release held packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutateConfig(func(cfg configMutator) error {
				for _, name := range args {
					canonical := integrations.NormalizePkgName(name)
					if cfg.RemoveHold(name) {
						printSuccess("Released %s", canonical)
					} else {
						printInfo("%s was not held", canonical)
					}
				}
				return nil
			})
		},
	}
}

// pinCommand creates the pin command.
func (c *CLI) pinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <package>==<version>...",
		Short: "Lock packages to exact versions",
		Long: `Pin packages to exact versions. A pinned package always reports the
pinned version as its target, even when the resolver would allow a
newer one, and an installed version that differs from the pin is
flagged in the report.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutateConfig(func(cfg configMutator) error {
				for _, arg := range args {
					name, version, err := splitPin(arg)
					if err != nil {
						return err
					}
					cfg.SetPin(name, version)
					printSuccess("Pinned %s to %s", integrations.NormalizePkgName(name), version)
				}
				return nil
			})
		},
	}
}

// unpinCommand creates the unpin command.
func (c *CLI) unpinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <package>...",
		Short: "Remove version pins",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutateConfig(func(cfg configMutator) error {
				for _, name := range args {
					canonical := integrations.NormalizePkgName(name)
					if cfg.RemovePin(name) {
						printSuccess("Unpinned %s", canonical)
					} else {
						printInfo("%s was not pinned", canonical)
					}
				}
				return nil
			})
		},
	}
}

// configMutator is the slice of config.Config the hold/pin commands touch.
type configMutator interface {
	AddHold(name string) bool
	RemoveHold(name string) bool
	SetPin(name, version string)
	RemovePin(name string) bool
}

// mutateConfig loads the config, applies fn, and writes the file back.
// The file is only written when fn succeeds.
func (c *CLI) mutateConfig(fn func(configMutator) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Save(c.configPath); err != nil {
		return err
	}
	path := c.configPath
	if path == "" {
		path = config.DefaultFileName
	}
	printFile(path)
	return nil
}

// splitPin parses "name==version" and validates both halves.
func splitPin(arg string) (name, version string, err error) {
	name, version, ok := strings.Cut(arg, "==")
	if !ok || name == "" || version == "" {
		return "", "", errors.New(errors.ErrCodeInvalidInput, "expected <package>==<version>, got %q", arg)
	}
	if err := errors.ValidatePythonPackageName(name); err != nil {
		return "", "", err
	}
	if pep440.Parse(version).IsSentinel() {
		return "", "", errors.New(errors.ErrCodeInvalidVersion, "cannot parse pin version %q", version)
	}
	return name, version, nil
}
