package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dlaunch/dlaunch/internal/executor"
	sshx "github.com/dlaunch/dlaunch/internal/ssh"
)

// Result holds the outcome of a file push for a single host.
type Result struct {
	Host     string
	Bytes    int64
	Checksum string
	Duration time.Duration
	Err      error
}

// Pusher uploads one local file to every node in parallel. The local node
// gets a plain filesystem copy; remote nodes get SFTP.
type Pusher struct {
	SSH         sshx.Config
	Concurrency int64
	Timeout     time.Duration
	Progress    ProgressFunc
}

// PushAll pushes localPath to remotePath on every host, one result per host
// in input order.
func (p *Pusher) PushAll(ctx context.Context, hosts []executor.Host, localPath, remotePath string) []*Result {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	results := make([]*Result, len(hosts))
	sem := semaphore.NewWeighted(concurrency)
	var wg sync.WaitGroup

	for i, host := range hosts {
		wg.Add(1)
		go func(idx int, h executor.Host) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = &Result{Host: h.Name, Err: err}
				return
			}
			defer sem.Release(1)

			hostCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			res := p.pushOne(hostCtx, h, localPath, remotePath)
			res.Duration = time.Since(start)
			results[idx] = res
		}(i, host)
	}

	wg.Wait()
	return results
}

func (p *Pusher) pushOne(ctx context.Context, host executor.Host, localPath, remotePath string) *Result {
	res := &Result{Host: host.Name}

	if host.Local {
		res.Checksum, res.Bytes, res.Err = copyLocal(ctx, localPath, remotePath)
		return res
	}

	conf := p.SSH
	if host.User != "" {
		conf.User = host.User
	}
	if host.Port > 0 {
		conf.Port = host.Port
	}
	if host.IdentityFile != "" {
		conf.IdentityFile = host.IdentityFile
	}

	client, err := sshx.Dial(ctx, host.DialAddr(), conf)
	if err != nil {
		res.Err = sshx.WrapConnectError(host.Name, err)
		return res
	}
	defer client.Close()

	res.Checksum, res.Bytes, res.Err = PushFile(ctx, client.Raw(), localPath, remotePath, host.Name, p.Progress)
	return res
}

// copyLocal mirrors the remote push on the local filesystem. A destination
// identical to the source is a no-op apart from hashing it.
func copyLocal(ctx context.Context, localPath, destPath string) (checksum string, written int64, err error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat local file: %w", err)
	}

	hasher := sha256.New()

	if samePath(localPath, destPath) {
		n, err := io.Copy(hasher, src)
		if err != nil {
			return "", 0, fmt.Errorf("read local file: %w", err)
		}
		return hex.EncodeToString(hasher.Sum(nil)), n, nil
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", 0, fmt.Errorf("create dest dir: %w", err)
		}
	}

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stat.Mode().Perm())
	if err != nil {
		return "", 0, fmt.Errorf("create dest file: %w", err)
	}
	defer dst.Close()

	written, err = copyWithContext(ctx, io.MultiWriter(dst, hasher), src)
	if err != nil {
		return "", written, fmt.Errorf("copy: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}

func samePath(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
