package backend

import (
	"encoding/json"
	"math"
	"strings"
)

// modelInfo mirrors the subset of a `/models`-equivalent discovery
// response's per-model object this proxy cares about.
type modelInfo struct {
	ID                  string          `json:"id"`
	LoadedContextLength json.RawMessage `json:"loaded_context_length"`
	ContextLength       json.RawMessage `json:"context_length"`
	MaxContextLength    json.RawMessage `json:"max_context_length"`
}

// NormalizeBaseURL strips a trailing "/v1" segment (with or without a
// trailing slash) so every dialect can append its own versioned path
// consistently regardless of how the operator wrote the configured URL.
func NormalizeBaseURL(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	trimmed = strings.TrimSuffix(trimmed, "/v1")
	return strings.TrimRight(trimmed, "/")
}

// DiscoverContextLength extracts a model's context window from a raw
// `/models`-equivalent JSON response body, applying the ordered precedence
// loaded_context_length -> context_length -> max_context_length -> nil. A
// field is accepted only if it decodes as a finite positive integer;
// strings, zero, negative numbers, NaN, and infinity all yield nil instead
// of falling through to a lower-priority field with that value, matching a
// producer that deliberately emits a uint64-looking sentinel.
func DiscoverContextLength(data []byte) *int {
	var resp struct {
		Data []modelInfo `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Data) == 0 {
		return nil
	}

	m := resp.Data[0]
	for _, raw := range []json.RawMessage{m.LoadedContextLength, m.ContextLength, m.MaxContextLength} {
		if n, ok := positiveInt(raw); ok {
			return &n
		}
	}
	return nil
}

func positiveInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f <= 0 {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
