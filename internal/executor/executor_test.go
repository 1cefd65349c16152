package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// mockRunner is a configurable mock for testing the fan-out.
type mockRunner struct {
	handler func(ctx context.Context, host Host, command string) *Result
}

func (m *mockRunner) Run(ctx context.Context, host Host, command string) *Result {
	return m.handler(ctx, host, command)
}

func hostList(names ...string) []Host {
	hosts := make([]Host, len(names))
	for i, n := range names {
		hosts[i] = Host{Name: n, Rank: i}
	}
	return hosts
}

func TestDispatch_AllSucceed(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			return &Result{Output: []byte("hello from " + host.Name), ExitCode: 0}
		},
	}

	e := New(runner)
	hosts := hostList("node-0", "node-1", "node-2")
	summary := e.Dispatch(context.Background(), hosts, "echo hello")

	if summary.Total != 3 || summary.Succeeded != 3 {
		t.Fatalf("expected 3/3 succeeded, got %d/%d", summary.Succeeded, summary.Total)
	}
	if !summary.AllSucceeded() {
		t.Error("AllSucceeded should be true")
	}
	for i, task := range summary.Tasks {
		if task.Host.Name != hosts[i].Name {
			t.Errorf("task[%d]: expected host %q, got %q", i, hosts[i].Name, task.Host.Name)
		}
		if task.Status != StatusSucceeded {
			t.Errorf("task[%d]: expected succeeded, got %s", i, task.Status)
		}
		if task.Duration() == 0 {
			t.Errorf("task[%d]: duration should be non-zero", i)
		}
	}
}

func TestDispatch_FailureIsolation(t *testing.T) {
	// 3 hosts, "exit 1" on node-1 only: the siblings must complete
	// normally and the call must not abort early.
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			if host.Name == "node-1" {
				return &Result{ExitCode: 1}
			}
			return &Result{ExitCode: 0}
		},
	}

	e := New(runner)
	summary := e.Dispatch(context.Background(), hostList("node-0", "node-1", "node-2"), "exit 1")

	if summary.Total != 3 {
		t.Fatalf("expected 3 results, got %d", summary.Total)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("expected 2 succeeded / 1 failed, got %d / %d", summary.Succeeded, summary.Failed)
	}
	if summary.Tasks[1].Status != StatusFailed || summary.Tasks[1].ExitCode != 1 {
		t.Errorf("node-1: expected failed with exit 1, got %s exit %d",
			summary.Tasks[1].Status, summary.Tasks[1].ExitCode)
	}
	failed := summary.FailedTasks()
	if len(failed) != 1 || failed[0].Host.Name != "node-1" {
		t.Errorf("FailedTasks: got %v", failed)
	}
}

func TestDispatch_KofNClassified(t *testing.T) {
	// One of each failure class among five hosts; every host must appear
	// in the summary with its own classification.
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			switch host.Name {
			case "bad-exit":
				return &Result{ExitCode: 2}
			case "down":
				return &Result{ExitCode: -1, Err: fmt.Errorf("connect: connection refused")}
			case "slow":
				<-ctx.Done()
				return &Result{ExitCode: -1, Err: ctx.Err()}
			default:
				return &Result{ExitCode: 0}
			}
		},
	}

	e := New(runner, WithTaskTimeout(50*time.Millisecond))
	summary := e.Dispatch(context.Background(), hostList("ok", "bad-exit", "down", "slow", "ok2"), "check")

	if summary.Total != 5 {
		t.Fatalf("expected 5 results, got %d", summary.Total)
	}
	want := map[string]Status{
		"ok":       StatusSucceeded,
		"bad-exit": StatusFailed,
		"down":     StatusUnreachable,
		"slow":     StatusTimedOut,
		"ok2":      StatusSucceeded,
	}
	for _, task := range summary.Tasks {
		if task.Status != want[task.Host.Name] {
			t.Errorf("%s: expected %s, got %s", task.Host.Name, want[task.Host.Name], task.Status)
		}
	}
	if summary.Succeeded != 2 || summary.Failed != 1 || summary.Unreachable != 1 || summary.TimedOut != 1 {
		t.Errorf("counts: succeeded=%d failed=%d unreachable=%d timed_out=%d",
			summary.Succeeded, summary.Failed, summary.Unreachable, summary.TimedOut)
	}
}

func TestDispatch_ConcurrencyBound(t *testing.T) {
	var running, maxRunning atomic.Int32

	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			cur := running.Add(1)
			for {
				prev := maxRunning.Load()
				if cur <= prev || maxRunning.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return &Result{ExitCode: 0}
		},
	}

	e := New(runner, WithConcurrency(2))
	start := time.Now()
	summary := e.Dispatch(context.Background(), hostList("a", "b", "c", "d", "e"), "sleep")
	elapsed := time.Since(start)

	if summary.Total != 5 {
		t.Fatalf("expected 5 results, got %d", summary.Total)
	}
	peak := maxRunning.Load()
	if peak > 2 {
		t.Errorf("expected max concurrency 2, saw %d in flight", peak)
	}
	if peak < 2 {
		t.Errorf("expected concurrency to reach 2, peak was %d", peak)
	}
	// ceil(5/2) batches of 50ms: parallel, but bounded.
	if elapsed < 150*time.Millisecond {
		t.Errorf("finished in %v, bound of 2 not honored", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("took %v, parallelism not honored", elapsed)
	}
}

func TestDispatch_TaskTimeout(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			select {
			case <-time.After(5 * time.Second):
				return &Result{ExitCode: 0}
			case <-ctx.Done():
				return &Result{ExitCode: -1, Err: ctx.Err()}
			}
		},
	}

	e := New(runner, WithTaskTimeout(50*time.Millisecond))
	start := time.Now()
	summary := e.Dispatch(context.Background(), hostList("slow-host"), "sleep 100")
	elapsed := time.Since(start)

	if summary.Tasks[0].Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", summary.Tasks[0].Status)
	}
	// Dispatch must return near the timeout, not when the command would
	// have naturally finished.
	if elapsed > time.Second {
		t.Errorf("Dispatch took %v, should return near the 50ms bound", elapsed)
	}
}

func TestDispatch_Cancellation(t *testing.T) {
	var started atomic.Int32
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			started.Add(1)
			<-ctx.Done()
			return &Result{ExitCode: -1, Err: ctx.Err()}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := New(runner)

	done := make(chan *Summary, 1)
	go func() {
		done <- e.Dispatch(ctx, hostList("node-0", "node-1"), "long-command")
	}()

	for started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	summary := <-done
	if summary.Total != 2 {
		t.Fatalf("expected 2 results, got %d", summary.Total)
	}
	for _, task := range summary.Tasks {
		if task.Status != StatusTimedOut {
			t.Errorf("%s: expected timed_out after cancel, got %s", task.Host.Name, task.Status)
		}
	}
}

func TestDispatch_ZeroHosts(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host Host, command string) *Result {
			t.Fatal("runner should not be called with zero hosts")
			return nil
		},
	}

	summary := New(runner).Dispatch(context.Background(), nil, "test")
	if summary.Total != 0 {
		t.Fatalf("expected 0 results, got %d", summary.Total)
	}
	if summary.AllSucceeded() {
		t.Error("an empty fan-out is not a success")
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(&mockRunner{})
	if e.concurrency != 20 {
		t.Errorf("expected default concurrency 20, got %d", e.concurrency)
	}
	if e.taskTimeout != 0 {
		t.Errorf("expected no default task timeout, got %v", e.taskTimeout)
	}
}

func TestWithConcurrency_IgnoresInvalid(t *testing.T) {
	e := New(&mockRunner{}, WithConcurrency(0), WithConcurrency(-1))
	if e.concurrency != 20 {
		t.Errorf("expected default concurrency 20, got %d", e.concurrency)
	}
}
