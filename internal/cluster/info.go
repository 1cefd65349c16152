// Package cluster defines the durable cluster-membership document and the
// registry that persists it between launcher invocations.
package cluster

import (
	"fmt"
	"time"
)

// Info is the durable fact of cluster membership, produced once per job by
// the rendezvous and read by every later run/kill/bench invocation. The
// hostname at index i is the node with rank i; index 0 is the orchestrating
// node. A re-discovery fully overwrites the document, it is never mutated
// in place.
type Info struct {
	Hostnames  []string  `json:"hostnames"`
	WorldSize  int       `json:"world_size"`
	MasterAddr string    `json:"master_addr"`
	MasterPort int       `json:"master_port"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewInfo builds an Info from a rank-ordered hostname list.
func NewInfo(hostnames []string, masterAddr string, masterPort int) *Info {
	return &Info{
		Hostnames:  append([]string(nil), hostnames...),
		WorldSize:  len(hostnames),
		MasterAddr: masterAddr,
		MasterPort: masterPort,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks the structural invariants of the document: a non-empty,
// duplicate-free hostname list whose length matches world_size.
func (i *Info) Validate() error {
	if len(i.Hostnames) == 0 {
		return fmt.Errorf("empty hostname list")
	}
	if i.WorldSize != len(i.Hostnames) {
		return fmt.Errorf("world_size %d does not match %d hostnames", i.WorldSize, len(i.Hostnames))
	}
	seen := make(map[string]bool, len(i.Hostnames))
	for rank, h := range i.Hostnames {
		if h == "" {
			return fmt.Errorf("empty hostname at rank %d", rank)
		}
		if seen[h] {
			return fmt.Errorf("duplicate hostname %q", h)
		}
		seen[h] = true
	}
	return nil
}

// Rank returns the rank of the given hostname, or -1 if it is not a member.
func (i *Info) Rank(hostname string) int {
	for rank, h := range i.Hostnames {
		if h == hostname {
			return rank
		}
	}
	return -1
}
