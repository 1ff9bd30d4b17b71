// Package anthropic defines the inbound/outbound wire shapes for the vendor
// Messages API dialect the proxy's front-end speaks: requests carrying a
// system prompt, a message list, and tools; SSE events describing streamed
// content blocks.
package anthropic

import "encoding/json"

// Role identifies the author of a Message. The wire protocol only ever
// carries user and assistant turns; system content travels in Request.System.
type Role string

// Supported roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the tagged variant stored in a ContentBlock.
type BlockType string

// Supported content block types.
const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// CacheControl marks a content block as a candidate for prompt-prefix
// caching. Mode is currently always "ephemeral"; other values are ignored
// by the cache-marker extractor rather than rejected, since the wire format
// may introduce new modes the proxy doesn't yet understand.
type CacheControl struct {
	Type string `json:"type"`
}

// IsEphemeral reports whether this cache marker uses ephemeral mode.
func (c *CacheControl) IsEphemeral() bool {
	return c != nil && c.Type == "ephemeral"
}

// ContentBlock is one element of a Message's or system prompt's content
// sequence. Unknown/unused fields for a given Type are simply zero-valued;
// Extra preserves any fields this type doesn't model so unrecognized
// producer extensions round-trip instead of being silently dropped.
type ContentBlock struct {
	Type  BlockType     `json:"type"`
	Cache *CacheControl `json:"cache_control,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ImageSource describes an inline or referenced image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// SystemPrompt is either a bare string or an ordered sequence of text blocks
// with optional cache markers; ParseRequest normalizes the former into the
// latter before the cache-marker extractor or context manager ever sees it.
type SystemPrompt struct {
	Blocks []ContentBlock
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Blocks = []ContentBlock{{Type: BlockText, Text: str}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = blocks
	return nil
}

// MarshalJSON always emits the array-of-blocks form.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Blocks)
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Request is the top-level inbound wire shape for POST /v1/messages.
type Request struct {
	Model       string           `json:"model"`
	System      *SystemPrompt    `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// SystemBlocks returns the normalized system content sequence, or nil if no
// system prompt was supplied.
func (r *Request) SystemBlocks() []ContentBlock {
	if r.System == nil {
		return nil
	}
	return r.System.Blocks
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageResponse is the buffered JSON body returned for a non-streaming
// POST /v1/messages call.
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}
