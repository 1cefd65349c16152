// Package lifecycle drives the launcher's three phases: waiting for the
// cluster to assemble, fanning a command out across it, and tearing a
// running job down.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dlaunch/dlaunch/internal/cluster"
	"github.com/dlaunch/dlaunch/internal/config"
	"github.com/dlaunch/dlaunch/internal/executor"
	"github.com/dlaunch/dlaunch/internal/pathutil"
	"github.com/dlaunch/dlaunch/internal/rendezvous"
	"github.com/dlaunch/dlaunch/internal/report"
	sshx "github.com/dlaunch/dlaunch/internal/ssh"
	"github.com/dlaunch/dlaunch/internal/transfer"
)

// State is the controller's current phase.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateWaiting     State = "waiting"
	StateRunning     State = "running"
	StateKilling     State = "killing"
)

// Controller owns the wait/run/kill operations. One Controller serves one
// CLI invocation; it is not safe for concurrent method calls.
type Controller struct {
	Settings *config.Settings
	Out      io.Writer
	ErrOut   io.Writer

	// Runner, when set, replaces the SSH+local transport. Tests use it to
	// fan out against fakes.
	Runner executor.Runner

	// NewExchanger, when set, replaces the TCP name exchange.
	NewExchanger func(rendezvous.Config) rendezvous.Exchanger

	// WriteAliases, when set, replaces the /etc/hosts alias writer.
	WriteAliases func(hostnames []string) error

	state State
}

// New creates a Controller with the given settings.
func New(settings *config.Settings) *Controller {
	return &Controller{
		Settings: settings,
		Out:      os.Stdout,
		ErrOut:   os.Stderr,
		state:    StateIdle,
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State { return c.state }

// Wait assembles the cluster and then parks until ctx fires or the optional
// timeout elapses. Discovery runs once: an existing registry document is
// reused unless force is set. The exit is a select, not a poll.
func (c *Controller) Wait(ctx context.Context, timeout time.Duration, force bool) error {
	c.state = StateDiscovering
	defer func() { c.state = StateIdle }()

	path := cluster.Path()

	if !force {
		if info, err := cluster.Load(path); err == nil {
			fmt.Fprintf(c.Out, "using existing cluster info at %s (world size %d)\n", path, info.WorldSize)
			return c.park(ctx, timeout)
		}
	}

	worldSize := worldSizeFromEnv()
	rank := nodeRankFromEnv()
	self := cluster.Hostname()
	if self == "" {
		return fmt.Errorf("cannot determine own hostname")
	}

	masterAddr := masterAddrFromEnv()
	if masterAddr == "" {
		if rank != 0 {
			return fmt.Errorf("MASTER_ADDR is required on rank %d", rank)
		}
		masterAddr = self
	}
	masterPort := masterPortFromEnv(c.Settings.MasterPort)

	ex := c.exchanger(rendezvous.Config{
		Rank:       rank,
		WorldSize:  worldSize,
		MasterAddr: masterAddr,
		Port:       exchangePort(masterPort),
	})

	fmt.Fprintf(c.Out, "discovering cluster: rank %d of %d, exchange at %s:%d\n",
		rank, worldSize, masterAddr, exchangePort(masterPort))

	hostnames, err := ex.Exchange(ctx, self)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if rank == 0 {
		info := cluster.NewInfo(hostnames, masterAddr, masterPort)
		if err := cluster.Save(path, info); err != nil {
			return fmt.Errorf("persist cluster info: %w", err)
		}
		fmt.Fprintf(c.Out, "cluster info saved to %s\n", path)

		if err := c.writeAliases(hostnames); err != nil {
			fmt.Fprintf(c.ErrOut, "warning: host aliases not written: %v\n", err)
		}
	}

	for rank, h := range hostnames {
		fmt.Fprintf(c.Out, "  rank %d: %s\n", rank, h)
	}

	return c.park(ctx, timeout)
}

// park blocks until shutdown is requested. Returning nil on a fired ctx is
// deliberate: being signalled out of waiting is this phase's clean exit.
func (c *Controller) park(ctx context.Context, timeout time.Duration) error {
	c.state = StateWaiting
	fmt.Fprintln(c.Out, "waiting (send SIGTERM or press Ctrl-C to exit)")

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			fmt.Fprintf(c.Out, "wait timeout (%s) elapsed\n", timeout)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// RunOptions carries the per-invocation knobs for Run.
type RunOptions struct {
	Nodes       string // comma-separated override of the host list
	MasterAddr  string
	MasterPort  int
	WorldSize   int // expected world size; mismatch with the host list is fatal
	Concurrency int
	TaskTimeout time.Duration
	CopyScript  bool
	DryRun      bool
	Color       bool
	AskPass     func() (string, error)
}

// Run fans command out across the cluster with the per-rank training
// environment and the job signature attached, streaming output live and
// reporting per-host outcomes. The returned summary decides the process
// exit code; err is reserved for preconditions that stop the launch before
// any task starts.
func (c *Controller) Run(ctx context.Context, command string, opts RunOptions) (*executor.Summary, error) {
	c.state = StateRunning
	defer func() { c.state = StateIdle }()

	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}

	hosts, err := c.resolveHosts(opts.Nodes, opts.WorldSize)
	if err != nil {
		return nil, err
	}

	masterAddr := opts.MasterAddr
	if masterAddr == "" {
		masterAddr = masterAddrFromEnv()
	}
	if masterAddr == "" {
		masterAddr = hosts[0].Name
	}
	masterPort := opts.MasterPort
	if masterPort == 0 {
		masterPort = masterPortFromEnv(c.Settings.MasterPort)
	}

	sshConf := sshx.Config{Password: opts.AskPass}
	jobID := newJobID()

	if opts.DryRun {
		for _, h := range hosts {
			vars := rankEnv(h.Rank, len(hosts), masterAddr, masterPort)
			fmt.Fprintf(c.Out, "[%s] %s\n", h.Name, signCommand(envPrefix(vars)+command, jobID))
		}
		return &executor.Summary{}, nil
	}

	if opts.CopyScript {
		if err := c.pushScript(ctx, hosts, command, sshConf, opts); err != nil {
			return nil, err
		}
	}

	stream := report.NewStream(c.Out, opts.Color)
	inner := c.Runner
	if inner == nil {
		inner = newTransportRunner(sshConf, stream.HostWriter)
	}
	runner := &envRunner{
		inner:      inner,
		worldSize:  len(hosts),
		masterAddr: masterAddr,
		masterPort: masterPort,
		jobID:      jobID,
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = c.Settings.Concurrency
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout == 0 {
		taskTimeout = c.Settings.TaskTimeout.Duration
	}

	exec := executor.New(runner,
		executor.WithConcurrency(concurrency),
		executor.WithTaskTimeout(taskTimeout))

	sum := exec.Dispatch(ctx, hosts, command)
	stream.Flush()

	f := &report.Formatter{Color: opts.Color}
	fmt.Fprint(c.Out, f.Format(sum))
	return sum, nil
}

// KillOptions carries the per-invocation knobs for Kill.
type KillOptions struct {
	Nodes       string
	Force       bool
	Concurrency int
	Color       bool
	AskPass     func() (string, error)
}

// killTimeout bounds each host's kill attempt; a node that cannot process a
// signal within this window is reported, not waited on.
const killTimeout = 60 * time.Second

// Kill fans a signature-matching process kill out to every resolvable host.
func (c *Controller) Kill(ctx context.Context, opts KillOptions) (*executor.Summary, error) {
	c.state = StateKilling
	defer func() { c.state = StateIdle }()

	hosts, err := c.resolveHosts(opts.Nodes, 0)
	if err != nil {
		return nil, err
	}

	stream := report.NewStream(c.Out, opts.Color)
	runner := c.Runner
	if runner == nil {
		runner = newTransportRunner(sshx.Config{Password: opts.AskPass}, stream.HostWriter)
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = c.Settings.Concurrency
	}

	exec := executor.New(runner,
		executor.WithConcurrency(concurrency),
		executor.WithTaskTimeout(killTimeout))

	sum := exec.Dispatch(ctx, hosts, killCommand(opts.Force))
	stream.Flush()

	f := &report.Formatter{Color: opts.Color}
	fmt.Fprint(c.Out, f.Format(sum))
	return sum, nil
}

// resolveHosts produces the rank-ordered execution targets, with self moved
// to rank 0.
func (c *Controller) resolveHosts(nodesFlag string, expectedWorldSize int) ([]executor.Host, error) {
	hostnames, source, err := cluster.ResolveHostnames(nodesFlag, cluster.Path())
	if err != nil {
		return nil, err
	}

	hostnames = cluster.EnsureSelfFirst(hostnames, cluster.Hostname())
	if len(hostnames) == 0 {
		return nil, fmt.Errorf("host list from %s is empty", source)
	}
	if expectedWorldSize > 0 && len(hostnames) != expectedWorldSize {
		return nil, &cluster.StaleError{
			Path:      source,
			Expected:  expectedWorldSize,
			WorldSize: len(hostnames),
		}
	}

	fmt.Fprintf(c.ErrOut, "using %d host(s) from %s\n", len(hostnames), source)
	return config.BuildHosts(hostnames, c.Settings), nil
}

// pushScript distributes the command's script to every node before launch,
// for clusters without a shared filesystem. The script is the command's
// first token and lands at the same absolute path everywhere.
func (c *Controller) pushScript(ctx context.Context, hosts []executor.Host, command string, conf sshx.Config, opts RunOptions) error {
	script := strings.Fields(command)[0]
	local := pathutil.ExpandHome(script)
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("--copy-script: %q is not a readable file: %w", script, err)
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = c.Settings.Concurrency
	}

	pusher := &transfer.Pusher{SSH: conf, Concurrency: int64(concurrency)}
	results := pusher.PushAll(ctx, hosts, local, script)

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.Host, r.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("script push failed on %d host(s):\n  %s",
			len(failed), strings.Join(failed, "\n  "))
	}
	fmt.Fprintf(c.ErrOut, "pushed %s to %d host(s)\n", script, len(results))
	return nil
}

// PushOptions carries the per-invocation knobs for Push.
type PushOptions struct {
	Nodes       string
	Concurrency int
	AskPass     func() (string, error)
}

// Push uploads a file to the same path on every node, reporting per-host
// outcomes. It fails if any host could not be written.
func (c *Controller) Push(ctx context.Context, localPath, remotePath string, opts PushOptions) error {
	hosts, err := c.resolveHosts(opts.Nodes, 0)
	if err != nil {
		return err
	}

	local := pathutil.ExpandHome(localPath)
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("push: %q is not a readable file: %w", localPath, err)
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = c.Settings.Concurrency
	}

	pusher := &transfer.Pusher{
		SSH:         sshx.Config{Password: opts.AskPass},
		Concurrency: int64(concurrency),
	}
	results := pusher.PushAll(ctx, hosts, local, remotePath)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(c.Out, "%s: FAILED: %v\n", r.Host, r.Err)
			continue
		}
		fmt.Fprintf(c.Out, "%s: %d bytes in %s (sha256 %.12s)\n",
			r.Host, r.Bytes, r.Duration.Round(time.Millisecond), r.Checksum)
	}
	if failed > 0 {
		return fmt.Errorf("push failed on %d of %d host(s)", failed, len(results))
	}
	return nil
}

func (c *Controller) exchanger(cfg rendezvous.Config) rendezvous.Exchanger {
	if c.NewExchanger != nil {
		return c.NewExchanger(cfg)
	}
	return rendezvous.NewTCP(cfg)
}

func (c *Controller) writeAliases(hostnames []string) error {
	if c.WriteAliases != nil {
		return c.WriteAliases(hostnames)
	}
	return rendezvous.WriteHostAliases(hostnames)
}
