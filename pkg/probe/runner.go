package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// RunOptions adjusts how a subprocess is executed. Stdout and Stderr, when
// set, receive the output in addition to the captured buffers.
type RunOptions struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// RunResult carries the captured output of a finished subprocess.
type RunResult struct {
	Stdout []byte
	Stderr []byte
}

// Combined returns stdout followed by stderr as one string, which is how
// pip diagnostics are matched: pip splits its messages across both streams.
func (r RunResult) Combined() string {
	return string(r.Stdout) + string(r.Stderr)
}

// Runner executes external commands. Tests substitute a fake; production
// code uses CmdRunner.
type Runner interface {
	Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error)
}

// CmdRunner runs commands via os/exec.
type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	stdoutWriter := io.Writer(&stdoutBuf)
	if opts.Stdout != nil {
		stdoutWriter = io.MultiWriter(&stdoutBuf, opts.Stdout)
	}
	stderrWriter := io.Writer(&stderrBuf)
	if opts.Stderr != nil {
		stderrWriter = io.MultiWriter(&stderrBuf, opts.Stderr)
	}

	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	err := cmd.Run()
	return RunResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}, err
}

var _ Runner = CmdRunner{}

// ExitCode extracts the exit code from a Run error: 0 for nil, the
// subprocess code for exit errors, -1 for anything else (command not
// found, killed by context, ...).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
