package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
)

// Launched commands carry a trailing comment with a job id, so a later kill
// can find them in the process table without a PID registry surviving
// launcher restarts.
const jobMarker = "DLAUNCH_JOB"

// newJobID returns the signature value for one launch.
func newJobID() string {
	return uuid.NewString()
}

// signCommand appends the job signature to a shell command. The comment is
// inert to the shell but lands on the process command line, where pgrep can
// see it.
func signCommand(command, jobID string) string {
	return fmt.Sprintf("%s # %s=%s", command, jobMarker, jobID)
}

// killCommand builds the shell command Kill fans out. The bracketed pattern
// matches the literal marker in a signed command line but not the kill
// command's own, and never the waiting launcher, whose command line carries
// no marker at all. Signed shells run in their own process groups, so the
// whole group is signalled to reach the training processes underneath.
func killCommand(force bool) string {
	sig := "TERM"
	if force {
		sig = "KILL"
	}
	pattern := jobMarker + "[=]"
	return fmt.Sprintf(
		`pids=$(pgrep -f '%s' || true); `+
			`if [ -z "$pids" ]; then echo "no dlaunch job found"; exit 0; fi; `+
			`pgids=$(ps -o pgid= -p $pids | sort -u); `+
			`for g in $pgids; do kill -%s -- -$g 2>/dev/null || true; done; `+
			`echo "sent SIG%s to $(echo $pids | wc -w) process(es)"`,
		pattern, sig, sig)
}
