package config

import (
	"os"
	"strconv"

	"github.com/kevinburke/ssh_config"

	"github.com/dlaunch/dlaunch/internal/executor"
	"github.com/dlaunch/dlaunch/internal/pathutil"
)

// BuildHosts turns a rank-ordered hostname list into execution targets.
// Index 0 is marked local and runs in-process. Settings fill in the SSH
// parameters; ~/.ssh/config fills in anything still missing per host.
func BuildHosts(hostnames []string, s *Settings) []executor.Host {
	hosts := make([]executor.Host, len(hostnames))
	for i, name := range hostnames {
		h := executor.Host{
			Name:         name,
			Rank:         i,
			Local:        i == 0,
			Port:         s.SSHPort,
			User:         s.SSHUser,
			IdentityFile: pathutil.ExpandHome(s.SSHKey),
		}
		if !h.Local {
			mergeSSHConfig(&h)
		}
		hosts[i] = h
	}
	return hosts
}

// mergeSSHConfig fills in empty fields from the user's SSH config. The
// launcher's own settings always win; only gaps are filled.
func mergeSSHConfig(h *executor.Host) {
	if h.User == "" {
		if user := sshConfigGet(h.Name, "User"); user != "" {
			h.User = user
		}
	}

	if h.Port == 0 {
		if portStr := sshConfigGet(h.Name, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				h.Port = port
			}
		}
	}

	if h.IdentityFile == "" {
		if identity := sshConfigGet(h.Name, "IdentityFile"); identity != "" {
			expanded := pathutil.ExpandHome(identity)
			if _, err := os.Stat(expanded); err == nil {
				h.IdentityFile = expanded
			}
		}
	}

	if h.Addr == "" {
		if hostname := sshConfigGet(h.Name, "HostName"); hostname != "" {
			h.Addr = hostname
		}
	}
}

func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}
