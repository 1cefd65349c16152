package config

import (
	"testing"
)

func TestBuildHosts_RanksAndLocal(t *testing.T) {
	s := DefaultSettings()
	s.SSHKey = "/root/.ssh/id_ed25519"

	hosts := BuildHosts([]string{"node-a", "node-b", "node-c"}, s)
	if len(hosts) != 3 {
		t.Fatalf("hosts: %d", len(hosts))
	}

	for i, h := range hosts {
		if h.Rank != i {
			t.Errorf("host %d rank: got %d", i, h.Rank)
		}
	}
	if !hosts[0].Local {
		t.Error("rank 0 must be local")
	}
	if hosts[1].Local || hosts[2].Local {
		t.Error("only rank 0 is local")
	}
	if hosts[1].Port != 2025 || hosts[1].User != "root" {
		t.Errorf("ssh settings not applied: %+v", hosts[1])
	}
	if hosts[1].IdentityFile != "/root/.ssh/id_ed25519" {
		t.Errorf("identity file: %q", hosts[1].IdentityFile)
	}
}

func TestBuildHosts_Empty(t *testing.T) {
	hosts := BuildHosts(nil, DefaultSettings())
	if len(hosts) != 0 {
		t.Errorf("expected no hosts, got %d", len(hosts))
	}
}

func TestBuildHosts_NameIsDialTarget(t *testing.T) {
	hosts := BuildHosts([]string{"rank-0", "rank-1"}, DefaultSettings())
	if hosts[1].DialAddr() != "rank-1" {
		t.Errorf("dial addr: %q", hosts[1].DialAddr())
	}
}
