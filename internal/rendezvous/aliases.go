package rendezvous

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Overridable for tests.
var (
	hostsPath  = "/etc/hosts"
	backupPath = "/etc/hosts.dlaunch.backup"
	lookupHost = net.LookupHost
)

const aliasMarker = "# dlaunch:"

// WriteHostAliases registers rank-0, rank-1, ... aliases for the discovered
// hostnames in the local hosts file, so an operator can `ssh rank-3` without
// remembering machine names. Only the orchestrating node calls this, and it
// is a cosmetic convenience: the caller treats any error as non-fatal.
//
// Previously written dlaunch entries are replaced, and the prior file is
// backed up once per rewrite.
func WriteHostAliases(hostnames []string) error {
	current, err := os.ReadFile(hostsPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", hostsPath, err)
	}

	if len(current) > 0 {
		if err := os.WriteFile(backupPath, current, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not back up %s: %v\n", hostsPath, err)
		}
	}

	// Keep everything that is not ours.
	var kept []string
	for _, line := range strings.Split(string(current), "\n") {
		if !strings.Contains(line, aliasMarker) {
			kept = append(kept, line)
		}
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}

	var entries []string
	for rank, hostname := range hostnames {
		ip, err := resolveIP(hostname)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not resolve %s, skipping alias rank-%d: %v\n", hostname, rank, err)
			continue
		}
		entries = append(entries, fmt.Sprintf("%s\trank-%d\t%s rank%d -> %s", ip, rank, aliasMarker, rank, hostname))
	}

	var b strings.Builder
	b.WriteString(strings.Join(kept, "\n"))
	if len(entries) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(entries, "\n"))
	}
	b.WriteString("\n")

	if err := os.WriteFile(hostsPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", hostsPath, err)
	}
	return nil
}

// resolveIP returns hostname unchanged if it already parses as an IP,
// otherwise resolves it through the system resolver.
func resolveIP(hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return hostname, nil
	}
	addrs, err := lookupHost(hostname)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", hostname)
	}
	return addrs[0], nil
}
