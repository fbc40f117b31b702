package engine

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// CommandRunner executes a single shell command in the given working
// directory (empty means the process default), streaming its output
// into the given writers. A non-zero exit is reported through the exit
// code with a nil error; the error is reserved for commands that could
// not be started at all.
type CommandRunner interface {
	Run(ctx context.Context, command, dir string, stdout, stderr io.Writer) (int, error)
}

// ShellRunner executes commands through a POSIX shell.
type ShellRunner struct {
	// Shell is the shell binary to invoke. Empty means "sh".
	Shell string
}

func (r *ShellRunner) Run(ctx context.Context, command, dir string, stdout, stderr io.Writer) (int, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Includes processes killed by context cancellation, which
		// surface as exit code -1.
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
