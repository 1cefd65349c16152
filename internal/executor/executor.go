// Package executor fans a command out across cluster hosts with bounded
// concurrency, classifying each host's outcome independently.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Runner executes a command on a single host. Implementations must honor
// ctx: when it fires they stop waiting, send a best-effort kill to whatever
// they spawned, and return.
type Runner interface {
	Run(ctx context.Context, host Host, command string) *Result
}

// Executor fans out command execution across multiple hosts. A failure on
// one host never aborts the others; Dispatch returns only once every task
// is terminal.
type Executor struct {
	runner      Runner
	concurrency int
	taskTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency bounds the number of in-flight tasks. The bound protects
// the orchestrating node's descriptor and CPU budget when fanning out to
// hundreds of hosts.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTaskTimeout sets the per-host timeout. Zero or negative disables it,
// leaving only the caller's ctx as a bound (training runs block for hours).
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.taskTimeout = d
	}
}

// New creates an Executor with the given Runner and options.
func New(runner Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:      runner,
		concurrency: 20,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch runs command on every host with bounded parallelism and returns
// once all tasks are terminal. Tasks appear in the summary in input order.
// Cancelling ctx stops admitting new tasks and propagates to in-flight ones.
func (e *Executor) Dispatch(ctx context.Context, hosts []Host, command string) *Summary {
	tasks := make([]*Task, len(hosts))
	for i, h := range hosts {
		tasks[i] = &Task{Host: h, Command: command, Status: StatusPending, ExitCode: -1}
	}
	if len(tasks) == 0 {
		return summarize(tasks)
	}

	sem := semaphore.NewWeighted(int64(e.concurrency))
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				// Fan-out cancelled before this task ever started.
				t.Status = StatusTimedOut
				t.Err = err
				return
			}
			defer sem.Release(1)

			e.runOne(ctx, t)
		}(task)
	}

	wg.Wait()
	return summarize(tasks)
}

func (e *Executor) runOne(ctx context.Context, t *Task) {
	taskCtx := ctx
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	t.Status = StatusRunning
	t.StartedAt = time.Now()
	res := e.runner.Run(taskCtx, t.Host, t.Command)
	t.FinishedAt = time.Now()

	t.Output = res.Output
	t.ExitCode = res.ExitCode
	t.Err = res.Err
	t.Status = classify(taskCtx, res)
}

// classify maps a runner result onto exactly one terminal state. An error
// means the command never ran (or was cut short): a deadline/cancellation is
// timed_out, anything else is unreachable. With no error, the exit code
// decides between succeeded and failed. The distinction matters because
// "the remote command ran and failed" points at the workload, not the host.
func classify(ctx context.Context, res *Result) Status {
	if res.Err != nil {
		if errors.Is(res.Err, context.DeadlineExceeded) ||
			errors.Is(res.Err, context.Canceled) ||
			ctx.Err() != nil {
			return StatusTimedOut
		}
		return StatusUnreachable
	}
	if res.ExitCode != 0 {
		return StatusFailed
	}
	return StatusSucceeded
}
