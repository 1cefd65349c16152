package rendezvous

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withTestHostsFile(t *testing.T, initial string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatal(err)
	}

	origHosts, origBackup, origLookup := hostsPath, backupPath, lookupHost
	hostsPath = path
	backupPath = filepath.Join(dir, "hosts.backup")
	lookupHost = func(host string) ([]string, error) {
		switch host {
		case "node-a":
			return []string{"10.0.0.1"}, nil
		case "node-b":
			return []string{"10.0.0.2"}, nil
		default:
			return nil, fmt.Errorf("unknown host %s", host)
		}
	}
	t.Cleanup(func() {
		hostsPath, backupPath, lookupHost = origHosts, origBackup, origLookup
	})
	return path
}

func TestWriteHostAliases(t *testing.T) {
	path := withTestHostsFile(t, "127.0.0.1\tlocalhost\n")

	if err := WriteHostAliases([]string{"node-a", "node-b"}); err != nil {
		t.Fatalf("WriteHostAliases: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if !strings.Contains(content, "127.0.0.1\tlocalhost") {
		t.Error("existing entries must be preserved")
	}
	if !strings.Contains(content, "10.0.0.1\trank-0") {
		t.Errorf("missing rank-0 alias:\n%s", content)
	}
	if !strings.Contains(content, "10.0.0.2\trank-1") {
		t.Errorf("missing rank-1 alias:\n%s", content)
	}
}

func TestWriteHostAliases_ReplacesOldEntries(t *testing.T) {
	initial := "127.0.0.1\tlocalhost\n10.9.9.9\trank-0\t# dlaunch: rank0 -> stale-node\n"
	path := withTestHostsFile(t, initial)

	if err := WriteHostAliases([]string{"node-a"}); err != nil {
		t.Fatalf("WriteHostAliases: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if strings.Contains(content, "stale-node") {
		t.Errorf("stale dlaunch entry survived rewrite:\n%s", content)
	}
	if strings.Count(content, "rank-0") != 1 {
		t.Errorf("expected exactly one rank-0 entry:\n%s", content)
	}
}

func TestWriteHostAliases_BacksUpPrevious(t *testing.T) {
	withTestHostsFile(t, "127.0.0.1\tlocalhost\n")

	if err := WriteHostAliases([]string{"node-a"}); err != nil {
		t.Fatalf("WriteHostAliases: %v", err)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if string(data) != "127.0.0.1\tlocalhost\n" {
		t.Errorf("backup content: got %q", string(data))
	}
}

func TestWriteHostAliases_SkipsUnresolvable(t *testing.T) {
	path := withTestHostsFile(t, "")

	// node-x does not resolve; the alias is skipped, the call still succeeds.
	if err := WriteHostAliases([]string{"node-a", "node-x"}); err != nil {
		t.Fatalf("WriteHostAliases: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "rank-1") {
		t.Errorf("unresolvable host must be skipped:\n%s", string(data))
	}
	if !strings.Contains(string(data), "rank-0") {
		t.Errorf("resolvable host must still be written:\n%s", string(data))
	}
}

func TestWriteHostAliases_LiteralIP(t *testing.T) {
	path := withTestHostsFile(t, "")

	if err := WriteHostAliases([]string{"192.168.1.10"}); err != nil {
		t.Fatalf("WriteHostAliases: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "192.168.1.10\trank-0") {
		t.Errorf("IP hostnames should be used as-is:\n%s", string(data))
	}
}
