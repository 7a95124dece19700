// Package shell implements the Bash tool: streamed command execution in
// the workspace with a rolling output window, a per-turn denylist, and
// graceful cancellation.
package shell

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/haasonsaas/forge/internal/remote"
)

// killGrace is how long a cancelled command gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// Runner executes one shell command, streaming combined output to out,
// and returns the exit code. Implementations honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, command string, out io.Writer) (int, error)
}

// LocalRunner runs commands through sh in a fixed directory.
type LocalRunner struct {
	Dir string
}

func (r LocalRunner) Run(ctx context.Context, command string, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	cmd.Stdout = out
	cmd.Stderr = out

	// Run the command in its own process group so cancellation reaches
	// child processes, and give it killGrace between TERM and KILL.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	// A signal-killed process still surfaces as *exec.ExitError, so the
	// context check has to come first or timeouts read as exit code -1.
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// RemoteRunner runs commands on an SSH workspace host.
type RemoteRunner struct {
	Client *remote.Client
	Dir    string
}

func (r RemoteRunner) Run(ctx context.Context, command string, out io.Writer) (int, error) {
	return r.Client.Run(ctx, command, r.Dir, out)
}
