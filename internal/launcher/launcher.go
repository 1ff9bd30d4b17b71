// Package launcher resolves the proxy's own launch parameters: which
// executable path a configured backend command refers to, and which port
// the HTTP gateway should bind.
package launcher

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPort is used when neither the environment nor configuration supply
// a valid port.
const DefaultPort = 49152

// minPort and maxPort bound a valid TCP port per spec.
const (
	minPort = 1
	maxPort = 65535
)

// ResolveExecutable resolves a bare command name against an ordered list of
// known paths, expanding a leading "~" to the user's home directory. The
// first candidate that exists on disk wins. If knownPaths is empty or no
// candidate exists, name is returned unchanged so callers can fall back to
// PATH resolution.
func ResolveExecutable(name string, knownPaths []string) string {
	if len(knownPaths) == 0 {
		return name
	}

	home, _ := os.UserHomeDir()

	for _, candidate := range knownPaths {
		resolved := expandHome(candidate, home)
		if _, err := os.Stat(resolved); err == nil {
			return resolved
		}
	}

	return name
}

func expandHome(path, home string) string {
	if home == "" || path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

// ResolvePort picks a listen port using the precedence env > config > default.
// envVal is the raw ANYCLAUDE_PORT value (possibly empty). Leading/trailing
// whitespace is trimmed before parsing; a value that is not a plain base-10
// integer (including floating-point values) falls through to configPort,
// matching the decision recorded in SPEC_FULL.md §13. configPort <= 0 is
// treated as unset.
func ResolvePort(envVal string, configPort int) int {
	if p, ok := parsePort(envVal); ok {
		return p
	}
	if configPort >= minPort && configPort <= maxPort {
		return configPort
	}
	return DefaultPort
}

func parsePort(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	if n < minPort || n > maxPort {
		return 0, false
	}
	return n, true
}
