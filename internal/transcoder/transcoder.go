// Package transcoder converts a normalized backend producer event stream
// into the vendor Messages API SSE event sequence, routing tool-call events
// through internal/toolstream and stripping model-family end-of-turn marker
// tokens and, optionally, web-search tool invocations.
package transcoder

import (
	"strings"

	"github.com/anyclaude/anyclaude-proxy/internal/toolstream"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// endOfTurnMarkers is the explicit, case-sensitive, exact-match set of
// known model-family end-of-turn tokens stripped from text deltas.
var endOfTurnMarkers = []string{
	"<|im_end|>",
	"<|endoftext|>",
	"</s>",
	"<|eot_id|>",
	"<|end_of_text|>",
}

var webSearchToolNames = map[string]bool{
	"websearch":  true,
	"web_search": true,
}

// Options configures one transcoding pass.
type Options struct {
	MessageID       string
	Model           string
	StripWebSearch  bool
	InputTokenCount int
}

// Sink receives the outbound SSE events in order. Implementations typically
// write an SSE frame per call (internal/gateway's sse.go).
type Sink interface {
	Emit(ev anthropic.Event) error
}

// Transcoder drives one response stream from producer events to outbound
// SSE events.
type Transcoder struct {
	opts    Options
	sink    Sink
	tracker *toolstream.Tracker

	nextIndex     int
	textBlockOpen bool
	textIndex     int
	stopped       bool

	skippedTools map[string]bool

	outputTokens int
	finishReason string
}

// New creates a Transcoder that will emit events to sink.
func New(opts Options, sink Sink) *Transcoder {
	tc := &Transcoder{
		opts:         opts,
		sink:         sink,
		skippedTools: make(map[string]bool),
	}
	tc.tracker = toolstream.New(tc.allocIndex)
	return tc
}

// Start emits message_start and must be called exactly once before any
// Handle call.
func (tc *Transcoder) Start() error {
	return tc.sink.Emit(anthropic.Event{
		Type: anthropic.EventMessageStart,
		Data: anthropic.MessageStartData{
			Type: "message_start",
			Message: anthropic.MessageStart{
				ID:      tc.opts.MessageID,
				Type:    "message",
				Role:    anthropic.RoleAssistant,
				Model:   tc.opts.Model,
				Content: []any{},
				Usage:   anthropic.Usage{InputTokens: tc.opts.InputTokenCount},
			},
		},
	})
}

// Handle processes one producer event, emitting zero or more SSE events.
func (tc *Transcoder) Handle(ev ProducerEvent) error {
	if tc.stopped {
		return nil
	}
	switch ev.Kind {
	case EventTextDelta:
		return tc.handleText(ev.Text)
	case EventToolInputStart:
		if tc.isStrippedTool(ev.ToolID, ev.ToolName) {
			return nil
		}
		return tc.emitTrackerOut(tc.tracker.Handle(toolstream.Event{
			Kind: toolstream.EventInputStart, ID: ev.ToolID, Name: ev.ToolName, Index: tc.allocIndex(),
		}))
	case EventToolInputDelta:
		if tc.skippedTools[ev.ToolID] {
			return nil
		}
		return tc.emitTrackerOut(tc.tracker.Handle(toolstream.Event{
			Kind: toolstream.EventInputDelta, ID: ev.ToolID, Delta: ev.Delta,
		}))
	case EventToolInputEnd:
		if tc.skippedTools[ev.ToolID] {
			return nil
		}
		return tc.emitTrackerOut(tc.tracker.Handle(toolstream.Event{
			Kind: toolstream.EventInputEnd, ID: ev.ToolID,
		}))
	case EventToolWholeCall:
		if tc.isStrippedTool(ev.ToolID, ev.ToolName) {
			return nil
		}
		return tc.emitTrackerOut(tc.tracker.Handle(toolstream.Event{
			Kind: toolstream.EventWholeCall, ID: ev.ToolID, Name: ev.ToolName, Input: ev.Input,
		}))
	case EventFinish:
		tc.finishReason = ev.FinishReason
		tc.outputTokens = ev.OutputTokens
		return nil
	}
	return nil
}

func (tc *Transcoder) isStrippedTool(id, name string) bool {
	if tc.opts.StripWebSearch && webSearchToolNames[strings.ToLower(name)] {
		tc.skippedTools[id] = true
		return true
	}
	return false
}

func (tc *Transcoder) allocIndex() int {
	idx := tc.nextIndex
	tc.nextIndex++
	return idx
}

func (tc *Transcoder) handleText(text string) error {
	for _, marker := range endOfTurnMarkers {
		text = strings.ReplaceAll(text, marker, "")
	}
	if text == "" {
		return nil
	}

	if !tc.textBlockOpen {
		tc.textIndex = tc.allocIndex()
		tc.textBlockOpen = true
		if err := tc.sink.Emit(anthropic.Event{
			Type: anthropic.EventContentBlockStart,
			Data: anthropic.ContentBlockStartData{
				Type:         "content_block_start",
				Index:        tc.textIndex,
				ContentBlock: anthropic.ContentBlock{Type: anthropic.BlockText, Text: ""},
			},
		}); err != nil {
			return err
		}
	}

	return tc.sink.Emit(anthropic.Event{
		Type: anthropic.EventContentBlockDelta,
		Data: anthropic.ContentBlockDeltaData{
			Type:  "content_block_delta",
			Index: tc.textIndex,
			Delta: anthropic.Delta{Type: anthropic.DeltaText, Text: text},
		},
	})
}

func (tc *Transcoder) closeTextBlockIfOpen() error {
	if !tc.textBlockOpen {
		return nil
	}
	tc.textBlockOpen = false
	return tc.sink.Emit(anthropic.Event{
		Type: anthropic.EventContentBlockStop,
		Data: anthropic.ContentBlockStopData{Type: "content_block_stop", Index: tc.textIndex},
	})
}

func (tc *Transcoder) emitTrackerOut(outs []toolstream.Out) error {
	if len(outs) == 0 {
		return nil
	}
	if err := tc.closeTextBlockIfOpen(); err != nil {
		return err
	}
	for _, out := range outs {
		if err := tc.emitOne(out); err != nil {
			return err
		}
	}
	return nil
}

func (tc *Transcoder) emitOne(out toolstream.Out) error {
	switch out.Kind {
	case toolstream.OutBlockStart:
		return tc.sink.Emit(anthropic.Event{
			Type: anthropic.EventContentBlockStart,
			Data: anthropic.ContentBlockStartData{
				Type:  "content_block_start",
				Index: out.Index,
				ContentBlock: anthropic.ContentBlock{
					Type: anthropic.BlockToolUse,
					ID:   out.ID,
					Name: out.Name,
				},
			},
		})
	case toolstream.OutBlockDelta:
		return tc.sink.Emit(anthropic.Event{
			Type: anthropic.EventContentBlockDelta,
			Data: anthropic.ContentBlockDeltaData{
				Type:  "content_block_delta",
				Index: out.Index,
				Delta: anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: out.JSON},
			},
		})
	case toolstream.OutBlockStop:
		return tc.sink.Emit(anthropic.Event{
			Type: anthropic.EventContentBlockStop,
			Data: anthropic.ContentBlockStopData{Type: "content_block_stop", Index: out.Index},
		})
	}
	return nil
}

// Flush closes any open blocks and emits message_delta and message_stop.
// It is idempotent: calling it more than once (the guaranteed fallback path
// when the producer iterator ends without an explicit finish) only emits
// once.
func (tc *Transcoder) Flush() error {
	if tc.stopped {
		return nil
	}
	tc.stopped = true

	if err := tc.closeTextBlockIfOpen(); err != nil {
		return err
	}
	if err := tc.emitTrackerOut(tc.tracker.Flush()); err != nil {
		return err
	}

	if err := tc.sink.Emit(anthropic.Event{
		Type: anthropic.EventMessageDelta,
		Data: anthropic.MessageDeltaData{
			Type:  "message_delta",
			Delta: anthropic.MessageDeltaPayload{StopReason: tc.finishReason},
			Usage: anthropic.Usage{InputTokens: tc.opts.InputTokenCount, OutputTokens: tc.outputTokens},
		},
	}); err != nil {
		return err
	}

	return tc.sink.Emit(anthropic.Event{
		Type: anthropic.EventMessageStop,
		Data: anthropic.MessageStopData{Type: "message_stop"},
	})
}
