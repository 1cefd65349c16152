package executor

import "time"

// Status is the terminal (or in-flight) classification of one task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"      // the command ran and exited non-zero
	StatusTimedOut    Status = "timed_out"   // deadline elapsed or fan-out cancelled
	StatusUnreachable Status = "unreachable" // connect/auth failure; the command never ran
)

// Host describes one execution target. Rank 0 carries Local=true and runs
// in-process instead of over SSH.
type Host struct {
	Name         string // cluster hostname (display identity)
	Addr         string // address to dial; defaults to Name
	Port         int
	User         string
	IdentityFile string
	Rank         int
	Local        bool
}

// DialAddr returns the address the SSH layer should connect to.
func (h Host) DialAddr() string {
	if h.Addr != "" {
		return h.Addr
	}
	return h.Name
}

// Task is one (host, command) execution unit. It is owned by a single
// Dispatch call and never shared across calls.
type Task struct {
	Host       Host
	Command    string
	Status     Status
	ExitCode   int
	Output     []byte // combined stdout+stderr
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the task's wall time, or zero if it never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Result is what a Runner reports back for one task.
type Result struct {
	Output   []byte
	ExitCode int
	Err      error // connection or transport error; nil when the command ran
}

// Summary aggregates every task of one fan-out. It is immutable once
// returned; the lifecycle layer turns it into a process exit code.
type Summary struct {
	Tasks       []*Task
	Total       int
	Succeeded   int
	Failed      int
	Unreachable int
	TimedOut    int
}

// AllSucceeded reports whether every task reached StatusSucceeded.
func (s *Summary) AllSucceeded() bool {
	return s.Total > 0 && s.Succeeded == s.Total
}

// FailedTasks returns every task that did not succeed, in input order.
func (s *Summary) FailedTasks() []*Task {
	var out []*Task
	for _, t := range s.Tasks {
		if t.Status != StatusSucceeded {
			out = append(out, t)
		}
	}
	return out
}

func summarize(tasks []*Task) *Summary {
	s := &Summary{Tasks: tasks, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusUnreachable:
			s.Unreachable++
		case StatusTimedOut:
			s.TimedOut++
		}
	}
	return s
}
