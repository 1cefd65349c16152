package lifecycle

import (
	"context"
	"io"

	"github.com/dlaunch/dlaunch/internal/executor"
	sshx "github.com/dlaunch/dlaunch/internal/ssh"
)

// routingRunner sends the local host to an in-process runner and everything
// else over SSH, so rank 0 participates in the fan-out like any other node.
type routingRunner struct {
	local  executor.Runner
	remote executor.Runner
}

func (r *routingRunner) Run(ctx context.Context, host executor.Host, command string) *executor.Result {
	if host.Local {
		return r.local.Run(ctx, host, command)
	}
	return r.remote.Run(ctx, host, command)
}

// envRunner decorates another runner, prefixing each command with the
// per-rank training environment and appending the job signature. The prefix
// is computed per host because RANK differs on every node.
type envRunner struct {
	inner      executor.Runner
	worldSize  int
	masterAddr string
	masterPort int
	jobID      string
}

func (r *envRunner) Run(ctx context.Context, host executor.Host, command string) *executor.Result {
	vars := rankEnv(host.Rank, r.worldSize, r.masterAddr, r.masterPort)
	full := signCommand(envPrefix(vars)+command, r.jobID)
	return r.inner.Run(ctx, host, full)
}

// newTransportRunner wires the default local+SSH routing runner with live
// output streaming.
func newTransportRunner(conf sshx.Config, stream func(host string) io.Writer) executor.Runner {
	return &routingRunner{
		local:  &executor.LocalRunner{Stream: stream},
		remote: &sshx.Runner{Base: conf, Stream: stream},
	}
}
