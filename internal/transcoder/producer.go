package transcoder

import "encoding/json"

// ProducerEventKind discriminates the kinds of events a backend dialect
// (internal/backend/*) emits while decoding its native stream.
type ProducerEventKind int

// Supported producer event kinds.
const (
	EventTextDelta ProducerEventKind = iota
	EventToolInputStart
	EventToolInputDelta
	EventToolInputEnd
	EventToolWholeCall
	EventFinish
)

// ProducerEvent is one unit of a decoded backend stream, normalized across
// dialects so the transcoder never needs to know which backend produced it.
type ProducerEvent struct {
	Kind ProducerEventKind

	// EventTextDelta
	Text string

	// EventToolInputStart / EventToolInputDelta / EventToolInputEnd / EventToolWholeCall
	ToolID    string
	ToolName  string
	ToolIndex int
	Delta     string
	Input     json.RawMessage

	// EventFinish
	FinishReason string
	InputTokens  int
	OutputTokens int
}
