// Package rendezvous implements the one-shot name exchange that turns a set
// of concurrently starting job processes into a rank-ordered hostname list.
package rendezvous

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

// ErrTimeout indicates that not every participant joined the exchange within
// the deadline. The exchange is all-or-nothing: no partial result is ever
// returned, and retrying is the surrounding job launcher's decision.
var ErrTimeout = errors.New("rendezvous timed out")

// Exchanger is the collective primitive the launcher needs from discovery:
// every one of the N participants supplies its own name, and every one
// receives the same list of all N names ordered by rank. Arrival order is
// non-deterministic and must not leak into the result.
type Exchanger interface {
	Exchange(ctx context.Context, self string) ([]string, error)
}

// Config describes one participant of a TCP exchange.
type Config struct {
	Rank       int
	WorldSize  int
	MasterAddr string        // address rank 0 listens on; peers dial it
	Port       int           // exchange port (distinct from the training port)
	Timeout    time.Duration // join deadline for the whole exchange
}

// TCP is an Exchanger over a plain TCP gather/broadcast: rank 0 listens,
// every other rank dials in with a {rank, name} frame, and once all ranks
// have reported rank 0 sends each of them the rank-ordered list.
type TCP struct {
	cfg Config
}

// NewTCP creates a TCP exchanger for the given participant.
func NewTCP(cfg Config) *TCP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &TCP{cfg: cfg}
}

// frame is one participant's announcement.
type frame struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// roster is the broadcast reply: all names ordered by rank.
type roster struct {
	Hostnames []string `json:"hostnames"`
	Err       string   `json:"err,omitempty"`
}

// Exchange runs the participant's side of the exchange and returns the
// rank-ordered hostname list. Repeated exchanges with an unchanged peer set
// produce the same ordering regardless of connection timing.
func (t *TCP) Exchange(ctx context.Context, self string) ([]string, error) {
	if t.cfg.WorldSize < 1 {
		return nil, fmt.Errorf("invalid world size %d", t.cfg.WorldSize)
	}
	if t.cfg.Rank < 0 || t.cfg.Rank >= t.cfg.WorldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", t.cfg.Rank, t.cfg.WorldSize)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	if t.cfg.Rank == 0 {
		return t.gather(ctx, self)
	}
	return t.join(ctx, self)
}

// gather is rank 0: accept one frame per peer rank, then broadcast.
func (t *TCP) gather(ctx context.Context, self string) ([]string, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", t.cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on exchange port %d: %w", t.cfg.Port, err)
	}
	defer ln.Close()

	// Close the listener when the deadline fires so Accept unblocks.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	names := map[int]string{0: self}
	conns := make(map[int]net.Conn)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for len(names) < t.cfg.WorldSize {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, t.missingRanks(names)
			}
			return nil, fmt.Errorf("accept peer: %w", err)
		}

		var f frame
		if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&f); err != nil {
			conn.Close()
			continue // a broken dial-in; the peer will reconnect
		}
		if f.Rank <= 0 || f.Rank >= t.cfg.WorldSize {
			t.reject(conn, fmt.Sprintf("rank %d out of range for world size %d", f.Rank, t.cfg.WorldSize))
			continue
		}
		if prev, dup := names[f.Rank]; dup {
			if prev == f.Name {
				// Same peer reconnecting after a dropped connection.
				if old, ok := conns[f.Rank]; ok {
					old.Close()
				}
				conns[f.Rank] = conn
				continue
			}
			t.reject(conn, fmt.Sprintf("duplicate rank %d (%s vs %s)", f.Rank, prev, f.Name))
			return nil, fmt.Errorf("duplicate rank %d: %q and %q both claim it", f.Rank, prev, f.Name)
		}
		names[f.Rank] = f.Name
		conns[f.Rank] = conn
	}

	hostnames := make([]string, t.cfg.WorldSize)
	for rank, name := range names {
		hostnames[rank] = name
	}

	// Broadcast the roster to every peer. A failed send to one peer does
	// not invalidate the exchange for the others; that peer's own Exchange
	// call will fail and report it.
	reply, err := json.Marshal(roster{Hostnames: hostnames})
	if err != nil {
		return nil, fmt.Errorf("marshal roster: %w", err)
	}
	reply = append(reply, '\n')
	for rank, conn := range conns {
		if _, err := conn.Write(reply); err != nil {
			fmt.Printf("rendezvous: broadcast to rank %d failed: %v\n", rank, err)
		}
	}

	return hostnames, nil
}

// join is a non-zero rank: dial rank 0, announce, and wait for the roster.
// Dialing retries until the deadline because rank 0 may not be listening yet.
func (t *TCP) join(ctx context.Context, self string) ([]string, error) {
	addr := net.JoinHostPort(t.cfg.MasterAddr, fmt.Sprintf("%d", t.cfg.Port))
	announce, err := json.Marshal(frame{Rank: t.cfg.Rank, Name: self})
	if err != nil {
		return nil, fmt.Errorf("marshal announcement: %w", err)
	}
	announce = append(announce, '\n')

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: rank %d could not reach %s: %v", ErrTimeout, t.cfg.Rank, addr, lastErr)
			}
			return nil, fmt.Errorf("%w: rank %d waiting on %s", ErrTimeout, t.cfg.Rank, addr)
		default:
		}

		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			sleepCtx(ctx, 500*time.Millisecond)
			continue
		}

		r, err := t.announceAndWait(ctx, conn, announce)
		conn.Close()
		if err != nil {
			lastErr = err
			sleepCtx(ctx, 500*time.Millisecond)
			continue
		}
		if r.Err != "" {
			return nil, fmt.Errorf("rendezvous rejected rank %d: %s", t.cfg.Rank, r.Err)
		}
		return r.Hostnames, nil
	}
}

func (t *TCP) announceAndWait(ctx context.Context, conn net.Conn, announce []byte) (*roster, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(announce); err != nil {
		return nil, fmt.Errorf("send announcement: %w", err)
	}

	var r roster
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&r); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return &r, nil
}

func (t *TCP) reject(conn net.Conn, reason string) {
	reply, _ := json.Marshal(roster{Err: reason})
	conn.Write(append(reply, '\n'))
	conn.Close()
}

func (t *TCP) missingRanks(names map[int]string) error {
	var missing []int
	for rank := 0; rank < t.cfg.WorldSize; rank++ {
		if _, ok := names[rank]; !ok {
			missing = append(missing, rank)
		}
	}
	sort.Ints(missing)
	return fmt.Errorf("%w: ranks %v never joined", ErrTimeout, missing)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
