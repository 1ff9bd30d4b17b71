// Package contextwindow fits a conversation into a model's context window:
// it reports usage, partitions messages into recent/older spans, compresses
// oversized tool results, and optionally summarizes the older span when a
// conversation threatens to exceed its budget.
package contextwindow

import (
	"fmt"

	"github.com/anyclaude/anyclaude-proxy/internal/tokenest"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// DefaultWindow is used when a model's context window cannot be discovered
// and no override is configured.
const DefaultWindow = 128000

// Config tunes one context manager instance.
type Config struct {
	// CompressThreshold is the fraction (0-1) of the window at which Manage
	// begins compacting. Defaults to 0.85.
	CompressThreshold float64
	// KeepRecentMessages is how many trailing messages Partition always
	// keeps intact. Defaults to 20.
	KeepRecentMessages int
	// ToolResultMaxTokens bounds a single tool_result block before
	// CompressToolResult truncates it. Defaults to 1024.
	ToolResultMaxTokens int
	// EnableSummarization turns on Summarize during Manage; when false,
	// the older span is dropped outright instead of replaced with a summary.
	EnableSummarization bool
	ModelName           string
	// ContextWindowOverride, if positive, takes precedence over any
	// model-name-based lookup.
	ContextWindowOverride int
}

func (c Config) withDefaults() Config {
	if c.CompressThreshold <= 0 {
		c.CompressThreshold = 0.85
	}
	if c.KeepRecentMessages <= 0 {
		c.KeepRecentMessages = 20
	}
	if c.ToolResultMaxTokens <= 0 {
		c.ToolResultMaxTokens = 1024
	}
	return c
}

// windowFor resolves the context window in tokens for the configured model,
// falling back to DefaultWindow for an unrecognized or empty name.
func (c Config) windowFor() int {
	if c.ContextWindowOverride > 0 {
		return c.ContextWindowOverride
	}
	return DefaultWindow
}

// Usage reports token consumption broken down by category.
type Usage struct {
	Tokens         int
	PercentOfWindow float64
	Messages       int
	System         int
	Tools          int
}

// Manager fits conversations into a model's discovered context window.
type Manager struct {
	cfg       Config
	estimator tokenest.Estimator
	summarize Summarizer
}

// Summarizer produces a single deterministic summary string for a span of
// messages being dropped from context. The default Manager has none
// configured and falls back to a structural summary (message count plus
// role breakdown) so Manage remains deterministic without an LLM call.
type Summarizer interface {
	Summarize(messages []anthropic.Message) string
}

// New creates a Manager. estimator may be nil, in which case a model-family
// CharEstimator tuned to cfg.ModelName is used.
func New(cfg Config, estimator tokenest.Estimator, summarizer Summarizer) *Manager {
	cfg = cfg.withDefaults()
	if estimator == nil {
		estimator = tokenest.ForModel(cfg.ModelName)
	}
	return &Manager{cfg: cfg, estimator: estimator, summarize: summarizer}
}

// UsageOf computes the usage snapshot for a message list and optional system
// content.
func (m *Manager) UsageOf(messages []anthropic.Message, system []anthropic.ContentBlock) Usage {
	window := m.cfg.windowFor()
	msgTokens := tokenest.Messages(m.estimator, messages)
	sysTokens := tokenest.System(m.estimator, system)
	total := msgTokens + sysTokens

	pct := 0.0
	if window > 0 {
		pct = float64(total) / float64(window)
	}

	return Usage{
		Tokens:          total,
		PercentOfWindow: pct,
		Messages:        msgTokens,
		System:          sysTokens,
	}
}

// Partition splits messages into the trailing keepRecentN (by message count,
// not turn-pair count) and everything before them. If the total is at or
// below keepRecentN, older is empty.
func Partition(messages []anthropic.Message, keepRecentN int) (recent, older []anthropic.Message) {
	if len(messages) <= keepRecentN {
		return messages, nil
	}
	splitAt := len(messages) - keepRecentN
	return messages[splitAt:], messages[:splitAt]
}

// CompressToolResult truncates a tool_result's content to fit under
// maxTokens, appending a truncation marker. Content that already fits is
// returned verbatim.
func (m *Manager) CompressToolResult(content string, maxTokens int) string {
	orig := m.estimator.Estimate(content)
	if orig <= maxTokens {
		return content
	}

	// Binary search the longest prefix whose estimate fits under maxTokens,
	// reserving room for the marker itself isn't necessary since the marker
	// is appended after truncation and its own size doesn't count against
	// the content budget.
	lo, hi := 0, len(content)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.estimator.Estimate(content[:mid]) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	truncated := content[:lo]
	newTokens := m.estimator.Estimate(truncated)
	return fmt.Sprintf("%s\n[... Output truncated: %d → %d tokens]", truncated, orig, newTokens)
}

// Summarize produces a single text content block summarizing older. Without
// a configured Summarizer, it falls back to a deterministic structural
// summary.
func (m *Manager) Summarize(older []anthropic.Message) anthropic.ContentBlock {
	var text string
	if m.summarize != nil {
		text = m.summarize.Summarize(older)
	} else {
		text = structuralSummary(older)
	}
	return anthropic.ContentBlock{Type: anthropic.BlockText, Text: text}
}

func structuralSummary(messages []anthropic.Message) string {
	userCount, assistantCount := 0, 0
	for _, m := range messages {
		switch m.Role {
		case anthropic.RoleUser:
			userCount++
		case anthropic.RoleAssistant:
			assistantCount++
		}
	}
	return fmt.Sprintf("[Conversation summary: %d earlier messages omitted (%d user, %d assistant)]",
		len(messages), userCount, assistantCount)
}

// ManageResult is the output of Manage.
type ManageResult struct {
	Messages      []anthropic.Message
	WasCompressed bool
	// FinalUsage is the usage re-check performed after compaction (or the
	// original usage, when Manage returned the input unchanged).
	FinalUsage Usage
	// Overflowed reports that, even after partitioning, tool-result
	// compression, and summarization, the result still exceeds the
	// model's window. Manage never truncates past this point to force a
	// fit — the caller must surface the overflow rather than dispatch a
	// request the backend will reject anyway.
	Overflowed bool
}

// Manage computes usage; if usage is under the configured threshold, the
// input is returned unchanged. Otherwise it partitions, compresses
// oversized tool results across the older span, optionally replaces older
// with a single summary block, and re-checks usage against the full
// window. If the re-checked usage still exceeds the window, Overflowed is
// set rather than truncating further — the caller decides whether to
// reject the request. Empty input returns empty output. An unrecognized
// model name is accepted and treated as DefaultWindow.
func (m *Manager) Manage(messages []anthropic.Message, system []anthropic.ContentBlock) ManageResult {
	if len(messages) == 0 {
		return ManageResult{}
	}

	window := m.cfg.windowFor()
	usage := m.UsageOf(messages, system)
	threshold := float64(window) * m.cfg.CompressThreshold
	if float64(usage.Tokens) <= threshold {
		return ManageResult{Messages: messages, FinalUsage: usage}
	}

	recent, older := Partition(messages, m.cfg.KeepRecentMessages)
	if len(older) == 0 {
		return ManageResult{Messages: messages, FinalUsage: usage, Overflowed: usage.Tokens > window}
	}

	compressedOlder := make([]anthropic.Message, len(older))
	for i, msg := range older {
		compressedOlder[i] = m.compressMessage(msg)
	}

	var finalOlder []anthropic.Message
	if m.cfg.EnableSummarization {
		summary := m.Summarize(compressedOlder)
		finalOlder = []anthropic.Message{{Role: anthropic.RoleUser, Content: []anthropic.ContentBlock{summary}}}
	} else {
		finalOlder = compressedOlder
	}

	result := make([]anthropic.Message, 0, len(finalOlder)+len(recent))
	result = append(result, finalOlder...)
	result = append(result, recent...)

	finalUsage := m.UsageOf(result, system)
	return ManageResult{
		Messages:      result,
		WasCompressed: true,
		FinalUsage:    finalUsage,
		Overflowed:    finalUsage.Tokens > window,
	}
}

func (m *Manager) compressMessage(msg anthropic.Message) anthropic.Message {
	out := anthropic.Message{Role: msg.Role, Content: make([]anthropic.ContentBlock, len(msg.Content))}
	for i, b := range msg.Content {
		if b.Type == anthropic.BlockToolResult {
			b.Content = marshalString(m.CompressToolResult(rawString(b.Content), m.cfg.ToolResultMaxTokens))
		}
		out.Content[i] = b
	}
	return out
}
