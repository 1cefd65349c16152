package ssh

import (
	"context"
	"io"

	"github.com/dlaunch/dlaunch/internal/executor"
)

// Runner implements executor.Runner over one-shot SSH connections. Each
// task dials, runs, and closes: the launcher issues one command per host
// per invocation, so a persistent connection cache buys nothing and would
// complicate teardown on signals.
type Runner struct {
	// Base fills in fields a host descriptor leaves empty.
	Base Config

	// Stream, if set, receives each host's live output.
	Stream func(host string) io.Writer
}

// Run executes a command on a single host via SSH.
func (r *Runner) Run(ctx context.Context, host executor.Host, command string) *executor.Result {
	conf := r.Base
	if host.User != "" {
		conf.User = host.User
	}
	if host.Port > 0 {
		conf.Port = host.Port
	}
	if host.IdentityFile != "" {
		conf.IdentityFile = host.IdentityFile
	}

	client, err := Dial(ctx, host.DialAddr(), conf)
	if err != nil {
		if ctx.Err() != nil {
			return &executor.Result{ExitCode: -1, Err: ctx.Err()}
		}
		return &executor.Result{ExitCode: -1, Err: WrapConnectError(host.Name, err)}
	}
	defer client.Close()

	var stream io.Writer
	if r.Stream != nil {
		stream = r.Stream(host.Name)
	}

	output, exitCode, err := client.RunCommand(ctx, command, stream)
	return &executor.Result{Output: output, ExitCode: exitCode, Err: err}
}
