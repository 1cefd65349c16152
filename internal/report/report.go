package report

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/dlaunch/dlaunch/internal/executor"
)

// outputTail bounds how much of a failed task's output the report replays.
const outputTail = 15

var (
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672")).Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	styleHost    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00E5FF"))
	styleSubtle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FDFF90"))
)

// Formatter renders a fan-out summary for terminal display.
type Formatter struct {
	Color bool
}

// Format renders per-host failure details followed by a one-line summary.
// Successful hosts are listed only in the count; their output already went
// to the live stream.
func (f *Formatter) Format(sum *executor.Summary) string {
	var b strings.Builder

	for _, task := range sum.FailedTasks() {
		f.writeFailure(&b, task)
	}

	b.WriteString(f.summaryLine(sum))
	b.WriteString("\n")
	return b.String()
}

func (f *Formatter) writeFailure(b *strings.Builder, task *executor.Task) {
	host := f.paint(styleHost, fmt.Sprintf("%s (rank %d)", task.Host.Name, task.Host.Rank))

	switch task.Status {
	case executor.StatusUnreachable:
		b.WriteString(f.paint(styleFailed, "unreachable: "))
		b.WriteString(host)
		if task.Err != nil {
			b.WriteString("\n   ")
			b.WriteString(task.Err.Error())
		}
		b.WriteString("\n")

	case executor.StatusTimedOut:
		b.WriteString(f.paint(styleFailed, "timed out: "))
		b.WriteString(host)
		b.WriteString(f.paint(styleSubtle, fmt.Sprintf(" after %s", task.Duration().Round(0))))
		b.WriteString("\n")

	case executor.StatusFailed:
		b.WriteString(f.paint(styleFailed, fmt.Sprintf("exit %d: ", task.ExitCode)))
		b.WriteString(host)
		b.WriteString("\n")
		f.writeTail(b, task.Output)

	default:
		b.WriteString(f.paint(styleWarning, string(task.Status)+": "))
		b.WriteString(host)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// writeTail replays the last lines of a failed task's output, indented.
func (f *Formatter) writeTail(b *strings.Builder, output []byte) {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	if len(lines) > outputTail {
		skipped := len(lines) - outputTail
		b.WriteString("   ")
		b.WriteString(f.paint(styleSubtle, fmt.Sprintf("... %d earlier lines omitted", skipped)))
		b.WriteString("\n")
		lines = lines[skipped:]
	}
	for _, line := range lines {
		b.WriteString("   ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (f *Formatter) summaryLine(sum *executor.Summary) string {
	if sum.AllSucceeded() {
		return f.paint(styleOK, fmt.Sprintf("%d/%d nodes succeeded", sum.Succeeded, sum.Total))
	}

	parts := []string{fmt.Sprintf("%d/%d nodes succeeded", sum.Succeeded, sum.Total)}
	if sum.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", sum.Failed))
	}
	if sum.Unreachable > 0 {
		parts = append(parts, fmt.Sprintf("%d unreachable", sum.Unreachable))
	}
	if sum.TimedOut > 0 {
		parts = append(parts, fmt.Sprintf("%d timed out", sum.TimedOut))
	}
	return f.paint(styleFailed, strings.Join(parts, ", "))
}

func (f *Formatter) paint(s lipgloss.Style, text string) string {
	if !f.Color {
		return text
	}
	return s.Render(text)
}
