// Package ssh provides the remote-shell transport the launcher uses to
// reach worker nodes. Host-key verification is deliberately disabled: the
// cluster lives on a trusted private network and the surrounding tooling
// provisions throwaway host keys on every job start.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
)

// Config holds the connection parameters for one host.
type Config struct {
	User         string
	Port         int
	IdentityFile string

	// Password, if set, is tried after key auth. It is invoked at most
	// once per dial (the --ask-pass prompt).
	Password func() (string, error)
}

// Client wraps an SSH connection to a single host.
type Client struct {
	host      string
	sshClient *ssh.Client
}

// Dial connects to host using key auth (plus the optional password
// fallback). host is the bare hostname or address; the port comes from conf.
func Dial(ctx context.Context, host string, conf Config) (*Client, error) {
	port := conf.Port
	if port == 0 {
		port = 22
	}
	user := conf.User
	if user == "" {
		user = "root"
	}

	var methods []ssh.AuthMethod
	if conf.IdentityFile != "" {
		signer, err := loadSigner(conf.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("load key %s: %w", conf.IdentityFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if conf.Password != nil {
		methods = append(methods, ssh.PasswordCallback(conf.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth methods for %s: set an identity file", host)
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{
		host:      host,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// RunCommand executes a command on the connected host, capturing combined
// stdout+stderr. If stream is non-nil it also receives the output live.
// Cancelling ctx sends a best-effort kill to the remote process and returns
// without waiting for it to die.
func (c *Client) RunCommand(ctx context.Context, command string, stream io.Writer) (output []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var buf safeBuffer
	var sink io.Writer = &buf
	if stream != nil {
		sink = io.MultiWriter(&buf, stream)
	}
	session.Stdout = sink
	session.Stderr = sink

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return buf.Bytes(), -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return buf.Bytes(), exitErr.ExitStatus(), nil
			}
			return buf.Bytes(), -1, err
		}
		return buf.Bytes(), 0, nil
	}
}

// Raw exposes the underlying connection for the SFTP layer.
func (c *Client) Raw() *ssh.Client {
	return c.sshClient
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	if c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

// Host returns the hostname this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// loadSigner reads and parses a private key file.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
