// Package tokenest estimates token counts for request content without
// calling out to a tokenizer, so the context manager (internal/contextwindow)
// and cache-fingerprint extractor can budget and report usage before a
// backend has even been chosen.
package tokenest

import (
	"encoding/json"
	"strings"

	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Estimator estimates the token count of a string.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio. A ratio
// of ~4 approximates English text; tighter ratios suit denser scripts.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator builds a CharEstimator, defaulting non-positive ratios to
// 4.0.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the estimated token count, always rounding up so budgets
// never underestimate usage.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := float64(len(text)) / e.CharsPerToken
	return int(tokens) + 1
}

// modelFamilyRatio maps a substring of the model name to its chars-per-token
// ratio. Matching is first-match-wins against this ordered list, falling
// back to the English default when nothing matches.
var modelFamilyRatios = []struct {
	substr string
	ratio  float64
}{
	{"claude", 3.8},
	{"gpt-4", 4.0},
	{"gpt-3.5", 4.0},
	{"llama", 3.6},
	{"mistral", 3.7},
	{"qwen", 3.3},
	{"deepseek", 3.4},
}

// ForModel returns a CharEstimator tuned to the given model name, falling
// back to the generic English ratio when the family is unrecognized.
func ForModel(modelName string) *CharEstimator {
	lower := strings.ToLower(modelName)
	for _, fam := range modelFamilyRatios {
		if strings.Contains(lower, fam.substr) {
			return NewCharEstimator(fam.ratio)
		}
	}
	return NewCharEstimator(4.0)
}

// perMessageOverhead approximates the role/formatting tokens a chat template
// adds around each message's own content.
const perMessageOverhead = 4

// Messages returns the total estimated tokens for a sequence of wire
// messages, including per-message formatting overhead and any tool_use/
// tool_result blocks they carry.
func Messages(e Estimator, messages []anthropic.Message) int {
	total := 0
	for i := range messages {
		total += perMessageOverhead
		total += blocks(e, messages[i].Content)
	}
	return total
}

// System returns the estimated tokens for a normalized system prompt.
func System(e Estimator, blocks_ []anthropic.ContentBlock) int {
	return blocks(e, blocks_)
}

func blocks(e Estimator, bs []anthropic.ContentBlock) int {
	total := 0
	for _, b := range bs {
		switch b.Type {
		case anthropic.BlockText:
			total += e.Estimate(b.Text)
		case anthropic.BlockToolUse:
			total += e.Estimate(b.Name)
			total += e.Estimate(string(b.Input))
		case anthropic.BlockToolResult:
			total += e.Estimate(string(b.Content))
		case anthropic.BlockImage:
			// Conservative flat estimate for an "auto" detail image, matching
			// what vision-capable model families charge per image tile.
			total += 765
		}
	}
	return total
}

// Tools returns the estimated tokens for tool definitions serialized the way
// they appear in the actual prompt (as a JSON array), falling back to a
// per-field sum if serialization fails.
func Tools(e Estimator, tools []anthropic.ToolDefinition) int {
	if len(tools) == 0 {
		return 0
	}
	data, err := json.Marshal(tools)
	if err != nil {
		total := 0
		for i := range tools {
			total += e.Estimate(tools[i].Name)
			total += e.Estimate(tools[i].Description)
			total += e.Estimate(string(tools[i].InputSchema))
		}
		return total
	}
	return e.Estimate(string(data))
}
