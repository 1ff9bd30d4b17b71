package anthropic

import "encoding/json"

// EventType names the SSE event types emitted on the outbound stream, in
// the order they may legally appear per content block.
type EventType string

// Outbound SSE event types.
const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
)

// Event is one SSE frame: a type tag plus its JSON-serializable payload.
type Event struct {
	Type EventType
	Data any
}

// MessageStartData is the payload of a message_start event.
type MessageStartData struct {
	Type    string       `json:"type"`
	Message MessageStart `json:"message"`
}

// MessageStart is the partial message object announced at stream start.
type MessageStart struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Role    Role    `json:"role"`
	Model   string  `json:"model"`
	Content []any   `json:"content"`
	Usage   Usage   `json:"usage"`
	Stop    *string `json:"stop_reason"`
}

// ContentBlockStartData is the payload of a content_block_start event.
type ContentBlockStartData struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// DeltaType discriminates the variant carried by a content_block_delta event.
type DeltaType string

// Supported delta variants.
const (
	DeltaText       DeltaType = "text_delta"
	DeltaInputJSON  DeltaType = "input_json_delta"
)

// Delta is the payload of a single content_block_delta event.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

// ContentBlockDeltaData is the payload of a content_block_delta event.
type ContentBlockDeltaData struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// ContentBlockStopData is the payload of a content_block_stop event.
type ContentBlockStopData struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaPayload carries the finish reason and running usage totals.
type MessageDeltaPayload struct {
	StopReason string `json:"stop_reason,omitempty"`
}

// MessageDeltaData is the payload of a message_delta event.
type MessageDeltaData struct {
	Type  string              `json:"type"`
	Delta MessageDeltaPayload `json:"delta"`
	Usage Usage               `json:"usage"`
}

// MessageStopData is the (empty) payload of a message_stop event.
type MessageStopData struct {
	Type string `json:"type"`
}

// Marshal serializes an event's data payload to JSON for the "data:" line.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e.Data)
}
