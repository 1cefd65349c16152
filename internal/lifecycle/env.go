package lifecycle

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// The launcher speaks both its own variable names and the torchrun elastic
// ("PET_") ones, so existing job scripts work unchanged.

func envInt(keys ...string) (int, bool) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func envString(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func masterAddrFromEnv() string {
	return envString("MASTER_ADDR", "PET_MASTER_ADDR")
}

func masterPortFromEnv(fallback int) int {
	if p, ok := envInt("MASTER_PORT", "PET_MASTER_PORT"); ok && p > 0 {
		return p
	}
	return fallback
}

func worldSizeFromEnv() int {
	if n, ok := envInt("WORLD_SIZE", "PET_NNODES"); ok && n > 0 {
		return n
	}
	return 1
}

func nodeRankFromEnv() int {
	if r, ok := envInt("RANK", "PET_NODE_RANK"); ok && r >= 0 {
		return r
	}
	return 0
}

// exchangePort is where the name exchange listens: one above the training
// master port, so the two never collide, unless overridden explicitly.
func exchangePort(masterPort int) int {
	if p, ok := envInt("INIT_MASTER_PORT"); ok && p > 0 {
		return p
	}
	return masterPort + 1
}

// rankEnv builds the distributed-training environment for one node.
func rankEnv(rank, worldSize int, masterAddr string, masterPort int) []string {
	port := strconv.Itoa(masterPort)
	return []string{
		"RANK=" + strconv.Itoa(rank),
		"PET_NODE_RANK=" + strconv.Itoa(rank),
		"WORLD_SIZE=" + strconv.Itoa(worldSize),
		"MASTER_ADDR=" + masterAddr,
		"PET_MASTER_ADDR=" + masterAddr,
		"MASTER_PORT=" + port,
		"PET_MASTER_PORT=" + port,
	}
}

// envPrefix turns KEY=VALUE pairs into a shell prefix for a remote command.
// Values are hostnames and integers; they are still quoted in case a
// hostname carries shell-significant characters.
func envPrefix(vars []string) string {
	var b strings.Builder
	for _, kv := range vars {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s=%s ", key, shellQuote(val))
	}
	return b.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&;|<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
