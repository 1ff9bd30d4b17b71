// Package anthropicbackend implements the backend.Backend contract against
// the real Anthropic Messages API, used by the "claude" vendor-passthrough
// proxy mode. It talks to the upstream API with the official
// github.com/anthropics/anthropic-sdk-go client rather than a hand-rolled
// HTTP client, since the proxy's own wire format already mirrors this
// vendor's shape closely.
package anthropicbackend

import "strings"

var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"claude-4", 200_000},
	{"claude-3", 200_000},
}

const defaultContextWindow = 200_000

func lookupContextWindow(model string) int {
	for _, entry := range contextWindows {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.tokens
		}
	}
	return defaultContextWindow
}
