package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dlaunch/dlaunch/internal/executor"
)

func TestFormat_AllSucceeded(t *testing.T) {
	sum := summaryOf(
		&executor.Task{Host: executor.Host{Name: "rank-0"}, Status: executor.StatusSucceeded},
		&executor.Task{Host: executor.Host{Name: "rank-1"}, Status: executor.StatusSucceeded},
	)

	f := &Formatter{}
	out := f.Format(sum)

	if !strings.Contains(out, "2/2 nodes succeeded") {
		t.Errorf("summary line missing, got:\n%s", out)
	}
	if strings.Contains(out, "rank-0") {
		t.Errorf("successful hosts should not be itemized, got:\n%s", out)
	}
}

func TestFormat_FailedShowsExitCodeAndTail(t *testing.T) {
	sum := summaryOf(
		&executor.Task{Host: executor.Host{Name: "rank-0"}, Status: executor.StatusSucceeded},
		&executor.Task{
			Host:     executor.Host{Name: "rank-2", Rank: 2},
			Status:   executor.StatusFailed,
			ExitCode: 137,
			Output:   []byte("CUDA out of memory\n"),
		},
	)

	f := &Formatter{}
	out := f.Format(sum)

	if !strings.Contains(out, "exit 137") {
		t.Errorf("exit code missing:\n%s", out)
	}
	if !strings.Contains(out, "rank-2 (rank 2)") {
		t.Errorf("host identity missing:\n%s", out)
	}
	if !strings.Contains(out, "CUDA out of memory") {
		t.Errorf("output tail missing:\n%s", out)
	}
	if !strings.Contains(out, "1/2 nodes succeeded, 1 failed") {
		t.Errorf("summary line wrong:\n%s", out)
	}
}

func TestFormat_TailTruncatesLongOutput(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = "log line"
	}
	lines[99] = "the actual error"

	sum := summaryOf(&executor.Task{
		Host:     executor.Host{Name: "rank-1", Rank: 1},
		Status:   executor.StatusFailed,
		ExitCode: 1,
		Output:   []byte(strings.Join(lines, "\n") + "\n"),
	})

	f := &Formatter{}
	out := f.Format(sum)

	if !strings.Contains(out, "earlier lines omitted") {
		t.Errorf("expected truncation marker:\n%s", out)
	}
	if !strings.Contains(out, "the actual error") {
		t.Errorf("tail should keep the last lines:\n%s", out)
	}
	if strings.Count(out, "log line") >= 50 {
		t.Errorf("output not truncated, %d lines replayed", strings.Count(out, "log line"))
	}
}

func TestFormat_UnreachableShowsError(t *testing.T) {
	sum := summaryOf(&executor.Task{
		Host:   executor.Host{Name: "rank-3", Rank: 3},
		Status: executor.StatusUnreachable,
		Err:    errors.New("dial tcp: connection refused"),
	})

	f := &Formatter{}
	out := f.Format(sum)

	if !strings.Contains(out, "unreachable") {
		t.Errorf("status label missing:\n%s", out)
	}
	if !strings.Contains(out, "connection refused") {
		t.Errorf("error detail missing:\n%s", out)
	}
	if !strings.Contains(out, "1 unreachable") {
		t.Errorf("summary count missing:\n%s", out)
	}
}

func TestFormat_TimedOut(t *testing.T) {
	sum := summaryOf(&executor.Task{
		Host:   executor.Host{Name: "rank-1", Rank: 1},
		Status: executor.StatusTimedOut,
		Err:    context.DeadlineExceeded,
	})

	f := &Formatter{}
	out := f.Format(sum)

	if !strings.Contains(out, "timed out") {
		t.Errorf("status label missing:\n%s", out)
	}
	if !strings.Contains(out, "1 timed out") {
		t.Errorf("summary count missing:\n%s", out)
	}
}

func TestFormat_NoColorNoANSI(t *testing.T) {
	sum := summaryOf(&executor.Task{
		Host:     executor.Host{Name: "rank-0"},
		Status:   executor.StatusFailed,
		ExitCode: 1,
	})

	f := &Formatter{}
	if out := f.Format(sum); strings.Contains(out, "\x1b[") {
		t.Errorf("plain mode emitted ANSI codes:\n%q", out)
	}
}

func summaryOf(tasks ...*executor.Task) *executor.Summary {
	s := &executor.Summary{Tasks: tasks, Total: len(tasks)}
	for _, task := range tasks {
		switch task.Status {
		case executor.StatusSucceeded:
			s.Succeeded++
		case executor.StatusFailed:
			s.Failed++
		case executor.StatusUnreachable:
			s.Unreachable++
		case executor.StatusTimedOut:
			s.TimedOut++
		}
	}
	return s
}
