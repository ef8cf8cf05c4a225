package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// setupCommand creates the interactive setup command.
func (c *CLI) setupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively configure the ComfyUI installation to audit",
		Long: `Walk through the configuration interactively: the ComfyUI root, the
Python environment type, and an optional pip command override. The
answers are written to config.json (or the --config path) and every
other command reads them from there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSetup()
		},
	}
}

// runSetup prompts for the installation settings and saves the config.
// Existing values pre-fill the form so setup doubles as an editor.
func (c *CLI) runSetup() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	comfyPath := cfg.ComfyUIPath
	if comfyPath == "" && len(cfg.PluginRoots()) > 0 {
		comfyPath = filepath.Dir(cfg.PluginRoots()[0])
	}
	envType := cfg.EnvType
	if envType == "" {
		envType = "venv"
	}
	pipCommand := cfg.PipCommand

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("ComfyUI installation path").
				Description("The directory containing main.py and custom_nodes/").
				Value(&comfyPath).
				Validate(validateComfyRoot),
			huh.NewSelect[string]().
				Title("Python environment type").
				Options(
					huh.NewOption("venv / virtualenv", "venv"),
					huh.NewOption("conda", "conda"),
					huh.NewOption("system Python", "system"),
				).
				Value(&envType),
			huh.NewInput().
				Title("Pip command override (optional)").
				Description("Leave empty to auto-discover pip inside the environment").
				Value(&pipCommand),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "setup aborted")
	}

	cfg.ComfyUIPath = strings.TrimSpace(comfyPath)
	cfg.EnvType = envType
	cfg.PipCommand = strings.TrimSpace(pipCommand)
	if cfg.EnvType == "conda" && cfg.CondaEnvFolder == "" {
		// Best effort: a conda setup usually keeps the env next to the
		// install, and probe discovery checks this folder first.
		candidate := filepath.Join(cfg.ComfyUIPath, "env")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			cfg.CondaEnvFolder = candidate
		}
	}

	if nodes := filepath.Join(cfg.ComfyUIPath, "custom_nodes"); cfg.CustomNodesPath == "" && len(cfg.CustomNodesPaths) == 0 {
		if info, err := os.Stat(nodes); err == nil && info.IsDir() {
			cfg.CustomNodesPath = nodes
		} else {
			printWarning("No custom_nodes directory under %s yet", cfg.ComfyUIPath)
		}
	}

	if err := cfg.Save(c.configPath); err != nil {
		return err
	}

	path := c.configPath
	if path == "" {
		path = config.DefaultFileName
	}
	printSuccess("Configuration saved")
	printFile(path)
	printNewline()
	printNextStep("Run your first audit", "comfyaudit audit")
	return nil
}

// validateComfyRoot checks the entered path exists and is a directory.
func validateComfyRoot(path string) error {
	path = strings.TrimSpace(path)
	if err := errors.ValidatePath(path); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
