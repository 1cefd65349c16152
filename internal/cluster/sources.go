package cluster

import (
	"fmt"
	"os"
	"strings"
)

// ResolveHostnames resolves the cluster host list for a run/kill/bench
// invocation, trying each source in order:
//
//  1. the explicit --nodes value (comma-separated),
//  2. the NODE_LIST environment variable (comma-separated),
//  3. the HOSTFILE environment variable (one host per line, # comments),
//  4. the persisted cluster info document at path.
//
// It returns the host list and the name of the source that produced it.
func ResolveHostnames(nodesFlag, path string) ([]string, string, error) {
	if nodesFlag != "" {
		return splitHostList(nodesFlag), "--nodes", nil
	}

	if env := os.Getenv("NODE_LIST"); env != "" {
		return splitHostList(env), "NODE_LIST", nil
	}

	if hostfile := os.Getenv("HOSTFILE"); hostfile != "" {
		hosts, err := readHostfile(hostfile)
		if err != nil {
			return nil, "", fmt.Errorf("HOSTFILE: %w", err)
		}
		if len(hosts) > 0 {
			return hosts, "HOSTFILE", nil
		}
	}

	info, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return info.Hostnames, path, nil
}

// EnsureSelfFirst reorders hosts so that self is at index 0 (rank 0 is
// always the orchestrating node). If self is not in the list it is
// prepended, since the node driving the launch always participates.
func EnsureSelfFirst(hosts []string, self string) []string {
	if self == "" {
		return hosts
	}
	out := make([]string, 0, len(hosts)+1)
	out = append(out, self)
	for _, h := range hosts {
		if h != self {
			out = append(out, h)
		}
	}
	return out
}

// Hostname returns the identity of the current node: the HOSTNAME
// environment variable if set (the job launcher exports it), otherwise the
// kernel hostname.
func Hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func splitHostList(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func readHostfile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts, nil
}
