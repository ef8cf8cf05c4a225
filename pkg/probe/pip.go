package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// Tool is a resolved pip invocation. The command may be a bare binary
// ("/env/bin/pip") or an interpreter invocation ("python3 -m pip").
type Tool struct {
	cmd    []string
	runner Runner
}

// NewTool binds a pip command to a runner. A nil runner means os/exec.
func NewTool(cmd []string, runner Runner) (*Tool, error) {
	if len(cmd) == 0 {
		return nil, errors.New(errors.ErrCodePipUnavailable, "empty pip command")
	}
	if runner == nil {
		runner = CmdRunner{}
	}
	return &Tool{cmd: cmd, runner: runner}, nil
}

// DiscoverCommand picks the pip invocation for an installation, trying in
// order: an explicit command from configuration, the configured conda env
// folder, a venv/.venv under the ComfyUI root, pip on PATH, and finally
// "python3 -m pip". It always returns something; whether that pip actually
// works surfaces on first use.
func DiscoverCommand(pipCommand, condaEnvFolder, comfyRoot string) []string {
	if fields := strings.Fields(pipCommand); len(fields) > 0 {
		return fields
	}
	if condaEnvFolder != "" {
		if p := pipInEnv(condaEnvFolder); p != "" {
			return []string{p}
		}
	}
	if comfyRoot != "" {
		for _, venv := range []string{"venv", ".venv"} {
			if p := pipInEnv(filepath.Join(comfyRoot, venv)); p != "" {
				return []string{p}
			}
		}
	}
	for _, name := range []string{"pip3", "pip"} {
		if path, err := exec.LookPath(name); err == nil {
			return []string{path}
		}
	}
	return []string{"python3", "-m", "pip"}
}

// pipInEnv returns the pip binary inside an environment folder, checking
// the Windows layout before the POSIX one (same order the original conda
// setups are probed in, and harmless cross-platform since both are plain
// stat calls).
func pipInEnv(env string) string {
	candidates := []string{
		filepath.Join(env, "Scripts", "pip.exe"),
		filepath.Join(env, "bin", "pip"),
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// CommandLine renders the invocation plus any extra arguments as a
// shell-pasteable string, used verbatim in suggested install commands.
func (t *Tool) CommandLine(args ...string) string {
	if len(args) == 0 {
		return strings.Join(t.cmd, " ")
	}
	return strings.Join(t.cmd, " ") + " " + strings.Join(args, " ")
}

func (t *Tool) run(ctx context.Context, args ...string) (RunResult, error) {
	full := make([]string, 0, len(t.cmd)-1+len(args))
	full = append(full, t.cmd[1:]...)
	full = append(full, args...)
	return t.runner.Run(ctx, t.cmd[0], full, RunOptions{})
}

// installedRow is one entry of `pip list --format=json`.
type installedRow struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Installed snapshots the environment as a map from canonical package
// name to installed version.
func (t *Tool) Installed(ctx context.Context) (map[string]pep440.Version, error) {
	res, err := t.run(ctx, "list", "--format=json", "--disable-pip-version-check")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePipUnavailable, err, "pip list failed: %s", strings.TrimSpace(res.Combined()))
	}

	var rows []installedRow
	if err := json.Unmarshal(bytes.TrimSpace(res.Stdout), &rows); err != nil {
		return nil, errors.Wrap(errors.ErrCodePipUnavailable, err, "pip list returned malformed JSON")
	}

	installed := make(map[string]pep440.Version, len(rows))
	for _, row := range rows {
		installed[integrations.NormalizePkgName(row.Name)] = pep440.Parse(row.Version)
	}
	return installed, nil
}

var (
	pipVersionRegex    = regexp.MustCompile(`^pip (\S+)`)
	pythonVersionRegex = regexp.MustCompile(`\(python ([^)]+)\)`)
)

// Version reports pip's own version and the interpreter it is bound to,
// parsed from `pip --version` ("pip 23.2.1 from ... (python 3.11)").
// Either value may be empty if the line has an unexpected shape.
func (t *Tool) Version(ctx context.Context) (pipVersion, pythonVersion string, err error) {
	res, err := t.run(ctx, "--version")
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodePipUnavailable, err, "pip --version failed")
	}

	line := strings.TrimSpace(string(res.Stdout))
	if m := pipVersionRegex.FindStringSubmatch(line); m != nil {
		pipVersion = m[1]
	}
	if m := pythonVersionRegex.FindStringSubmatch(line); m != nil {
		pythonVersion = m[1]
	}
	return pipVersion, pythonVersion, nil
}

// PythonVersion returns just the interpreter version pip is bound to.
func (t *Tool) PythonVersion(ctx context.Context) (string, error) {
	_, python, err := t.Version(ctx)
	return python, err
}

// dryRun simulates installing exactly one name==version pair. Never
// batched: one package's conflict must not mask another's feasibility.
func (t *Tool) dryRun(ctx context.Context, name string, version pep440.Version) (RunResult, error) {
	return t.run(ctx, "install", "--dry-run", name+"=="+version.String())
}
