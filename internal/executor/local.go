package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// LocalRunner executes tasks in-process on the orchestrating node. Rank 0
// always runs this way instead of SSHing to itself. Each command gets its
// own process group so that cancellation can take down the command's whole
// tree, not just the shell.
type LocalRunner struct {
	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string

	// Stream, if set, receives the command's live output for the given host.
	Stream func(host string) io.Writer

	// GracePeriod bounds how long cancellation waits between SIGTERM to the
	// process group and a hard kill. Defaults to 10s.
	GracePeriod time.Duration
}

// Run implements Runner for the local host.
func (r *LocalRunner) Run(ctx context.Context, host Host, command string) *Result {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	cmd.WaitDelay = grace
	cmd.Cancel = func() error {
		// Signal the whole group; children of the shell must not survive.
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if r.Stream != nil {
		if w := r.Stream(host.Name); w != nil {
			sink = io.MultiWriter(&buf, w)
		}
	}
	// Identical writer for both streams; exec serializes writes in that case.
	cmd.Stdout = sink
	cmd.Stderr = sink

	err := cmd.Run()

	if ctx.Err() != nil {
		return &Result{Output: buf.Bytes(), ExitCode: -1, Err: ctx.Err()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{Output: buf.Bytes(), ExitCode: exitErr.ExitCode()}
		}
		// The command never started (bad shell, fork failure).
		return &Result{Output: buf.Bytes(), ExitCode: -1, Err: err}
	}
	return &Result{Output: buf.Bytes(), ExitCode: 0}
}
