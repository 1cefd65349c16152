package lifecycle

import (
	"regexp"
	"strings"
	"testing"
)

func TestSignCommand(t *testing.T) {
	signed := signCommand("python train.py", "abc-123")
	if signed != "python train.py # DLAUNCH_JOB=abc-123" {
		t.Errorf("signed command: %q", signed)
	}
}

func TestKillPattern_MatchesSignedCommands(t *testing.T) {
	// pgrep -f applies this regex to the full command line.
	pattern := regexp.MustCompile(jobMarker + "[=]")

	signed := signCommand("python train.py", newJobID())
	if !pattern.MatchString(signed) {
		t.Errorf("pattern misses a signed command: %q", signed)
	}
}

func TestKillPattern_NeverMatchesItself(t *testing.T) {
	pattern := regexp.MustCompile(jobMarker + "[=]")

	// The kill command's own command line contains the bracketed pattern,
	// not the literal marker, so a fan-out never kills its own kill shells.
	for _, force := range []bool{false, true} {
		if pattern.MatchString(killCommand(force)) {
			t.Errorf("kill command matches its own pattern:\n%s", killCommand(force))
		}
	}
}

func TestKillPattern_NeverMatchesWaiter(t *testing.T) {
	pattern := regexp.MustCompile(jobMarker + "[=]")

	// The parked launcher's command line.
	for _, waiter := range []string{"dlaunch wait", "dlaunch wait 3600 --force-discovery"} {
		if pattern.MatchString(waiter) {
			t.Errorf("pattern matches the waiter: %q", waiter)
		}
	}
}

func TestKillCommand_GracefulVsForce(t *testing.T) {
	if !strings.Contains(killCommand(false), "-TERM") {
		t.Error("default kill should send SIGTERM")
	}
	if !strings.Contains(killCommand(true), "-KILL") {
		t.Error("force kill should send SIGKILL")
	}
	if !strings.Contains(killCommand(false), "exit 0") {
		t.Error("no matching processes must still exit 0")
	}
}

func TestNewJobID_Unique(t *testing.T) {
	if newJobID() == newJobID() {
		t.Error("job ids must be unique per launch")
	}
}
