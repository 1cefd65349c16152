package ssh_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dlaunch/dlaunch/internal/executor"
	"github.com/dlaunch/dlaunch/internal/ssh"
	"github.com/dlaunch/dlaunch/internal/sshtest"
)

func TestRunner_RunsCommand(t *testing.T) {
	pub, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pub), sshtest.WithCmdHandler(
		func(cmd string) (string, string, int) {
			return "ran: " + cmd, "", 0
		}))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	r := &ssh.Runner{Base: ssh.Config{User: "root", IdentityFile: keyPath}}

	res := r.Run(context.Background(), executor.Host{Name: host, Port: port}, "nvidia-smi")
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code: got %d", res.ExitCode)
	}
	if string(res.Output) != "ran: nvidia-smi" {
		t.Errorf("output: got %q", string(res.Output))
	}
}

func TestRunner_HostOverridesBase(t *testing.T) {
	pub, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pub))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	// Base points at a dead port; the host descriptor carries the real one.
	r := &ssh.Runner{Base: ssh.Config{User: "root", Port: 1, IdentityFile: keyPath}}

	res := r.Run(context.Background(), executor.Host{Name: host, Port: port}, "true")
	if res.Err != nil {
		t.Fatalf("per-host port was not applied: %v", res.Err)
	}
}

func TestRunner_UnreachableHost(t *testing.T) {
	_, keyPath := sshtest.GenerateKey(t)
	r := &ssh.Runner{Base: ssh.Config{User: "root", IdentityFile: keyPath}}

	// Port 1 on loopback is refused immediately.
	res := r.Run(context.Background(), executor.Host{Name: "127.0.0.1", Port: 1}, "true")
	if res.Err == nil {
		t.Fatal("expected a connection error")
	}
	var connErr *ssh.ConnectError
	if !errors.As(res.Err, &connErr) {
		t.Fatalf("error should be a ConnectError, got %T: %v", res.Err, res.Err)
	}
	if !strings.Contains(res.Err.Error(), "hint") {
		t.Errorf("refused connection should carry a hint: %v", res.Err)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	_, keyPath := sshtest.GenerateKey(t)
	r := &ssh.Runner{Base: ssh.Config{User: "root", IdentityFile: keyPath}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, executor.Host{Name: "127.0.0.1", Port: 1}, "true")
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("cancelled dial should surface ctx.Err, got %v", res.Err)
	}
}

func TestRunner_StreamReceivesOutput(t *testing.T) {
	pub, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pub), sshtest.WithCmdHandler(
		func(cmd string) (string, string, int) {
			return "epoch 1 done", "", 0
		}))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	var sink bytes.Buffer
	r := &ssh.Runner{
		Base:   ssh.Config{User: "root", IdentityFile: keyPath},
		Stream: func(h string) io.Writer { return &sink },
	}
	res := r.Run(context.Background(), executor.Host{Name: host, Port: port}, "train")
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if !strings.Contains(sink.String(), "epoch 1 done") {
		t.Errorf("stream sink missed output: %q", sink.String())
	}
	if !strings.Contains(string(res.Output), "epoch 1 done") {
		t.Errorf("output: got %q", string(res.Output))
	}
}
