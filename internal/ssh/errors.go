package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ConnectError wraps a connection-level failure (the command never ran on
// the host) with an operator hint. The executor classifies tasks carrying
// one of these as unreachable, distinct from a command that ran and failed.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError attaches a hint to common connection failures so the
// per-host report tells the operator what to fix, not just what broke.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	if errors.Is(err, os.ErrNotExist) || strings.Contains(msg, "load key") {
		return &ConnectError{Host: host, Err: err,
			Hint: "check the --ssh-key path (or SSH_KEY)"}
	}

	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed") {
		return &ConnectError{Host: host, Err: err,
			Hint: "key not authorized on the node; re-run discovery to redistribute it (dlaunch wait)"}
	}

	if strings.Contains(msg, "connection refused") {
		return &ConnectError{Host: host, Err: err,
			Hint: "no sshd on the target port; check --ssh-port (or SSH_PORT)"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return &ConnectError{Host: host, Err: err,
			Hint: "hostname does not resolve; the cluster info may be stale (dlaunch wait)"}
	}

	if strings.Contains(msg, "i/o timeout") {
		return &ConnectError{Host: host, Err: err,
			Hint: "node did not answer; it may be down or rebooting"}
	}

	return &ConnectError{Host: host, Err: err}
}
