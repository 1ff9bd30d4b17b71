package openrouter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
)

const maxErrorBodySize = 4096

func handleErrorResponse(statusCode int, body io.Reader) error {
	var ae apiError
	data, readErr := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if readErr == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &ae)
	}

	msg := ae.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}

	switch {
	case statusCode == 429:
		return fmt.Errorf("%w: %s", backend.ErrRateLimit, msg)
	case statusCode == 400 && isContextLengthError(msg):
		return fmt.Errorf("%w: %s", backend.ErrContextLength, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", backend.ErrUnavailable, msg)
	default:
		return fmt.Errorf("openrouter: %s", msg)
	}
}

func mapStreamError(ae apiError) error {
	msg := ae.Error.Message
	if msg == "" {
		msg = "unknown error"
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"):
		return fmt.Errorf("%w: %s", backend.ErrRateLimit, msg)
	case isContextLengthError(msg):
		return fmt.Errorf("%w: %s", backend.ErrContextLength, msg)
	default:
		return fmt.Errorf("%w: %s", backend.ErrUnavailable, msg)
	}
}

func isContextLengthError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "token limit")
}
