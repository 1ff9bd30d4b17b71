package transcoder

import (
	"encoding/json"
	"testing"

	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

type recordingSink struct {
	events []anthropic.Event
}

func (s *recordingSink) Emit(ev anthropic.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []anthropic.EventType {
	out := make([]anthropic.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func eqTypes(got, want []anthropic.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestTranscoder_TextOnlyStream(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{MessageID: "msg_1", Model: "claude-3"}, sink)
	must(t, tc.Start())
	must(t, tc.Handle(ProducerEvent{Kind: EventTextDelta, Text: "hello "}))
	must(t, tc.Handle(ProducerEvent{Kind: EventTextDelta, Text: "world"}))
	must(t, tc.Handle(ProducerEvent{Kind: EventFinish, FinishReason: "end_turn", OutputTokens: 2}))
	must(t, tc.Flush())

	want := []anthropic.EventType{
		anthropic.EventMessageStart,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockStop,
		anthropic.EventMessageDelta,
		anthropic.EventMessageStop,
	}
	if !eqTypes(sink.types(), want) {
		t.Fatalf("got %v, want %v", sink.types(), want)
	}
}

func TestTranscoder_StripsEndOfTurnMarkers(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{MessageID: "msg_1"}, sink)
	must(t, tc.Start())
	must(t, tc.Handle(ProducerEvent{Kind: EventTextDelta, Text: "done<|im_end|>"}))
	must(t, tc.Flush())

	for _, ev := range sink.events {
		if ev.Type != anthropic.EventContentBlockDelta {
			continue
		}
		d := ev.Data.(anthropic.ContentBlockDeltaData)
		if d.Delta.Text == "done" {
			return
		}
	}
	t.Fatal("expected marker-stripped text delta 'done'")
}

func TestTranscoder_FlushIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{}, sink)
	must(t, tc.Start())
	must(t, tc.Flush())
	n := len(sink.events)
	must(t, tc.Flush())
	if len(sink.events) != n {
		t.Fatalf("second Flush emitted more events: %d -> %d", n, len(sink.events))
	}
}

func TestTranscoder_ToolCallRoutedThroughTracker(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{}, sink)
	must(t, tc.Start())
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputStart, ToolID: "t1", ToolName: "get_weather"}))
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputDelta, ToolID: "t1", Delta: `{"city":"nyc"}`}))
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputEnd, ToolID: "t1"}))
	must(t, tc.Flush())

	want := []anthropic.EventType{
		anthropic.EventMessageStart,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockStop,
		anthropic.EventMessageDelta,
		anthropic.EventMessageStop,
	}
	if !eqTypes(sink.types(), want) {
		t.Fatalf("got %v, want %v", sink.types(), want)
	}
}

func TestTranscoder_StripWebSearchDiscardsToolEntirely(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{StripWebSearch: true}, sink)
	must(t, tc.Start())
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputStart, ToolID: "t1", ToolName: "web_search"}))
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputDelta, ToolID: "t1", Delta: `{"q":"x"}`}))
	must(t, tc.Handle(ProducerEvent{Kind: EventToolInputEnd, ToolID: "t1"}))
	must(t, tc.Flush())

	for _, ty := range sink.types() {
		if ty == anthropic.EventContentBlockStart || ty == anthropic.EventContentBlockDelta || ty == anthropic.EventContentBlockStop {
			t.Fatalf("expected no content block events for stripped web_search tool, got %v", sink.types())
		}
	}
}

func TestTranscoder_TextThenToolClosesTextBlockFirst(t *testing.T) {
	sink := &recordingSink{}
	tc := New(Options{}, sink)
	must(t, tc.Start())
	must(t, tc.Handle(ProducerEvent{Kind: EventTextDelta, Text: "thinking..."}))
	must(t, tc.Handle(ProducerEvent{Kind: EventToolWholeCall, ToolID: "t1", ToolName: "search", Input: json.RawMessage(`{"q":"go"}`)}))
	must(t, tc.Flush())

	types := sink.types()
	stopIdx, startIdx := -1, -1
	for i, ty := range types {
		if ty == anthropic.EventContentBlockStop && stopIdx == -1 {
			stopIdx = i
		}
		if ty == anthropic.EventContentBlockStart && i > 0 && startIdx == -1 && stopIdx != -1 {
			startIdx = i
		}
	}
	if stopIdx == -1 || startIdx == -1 || startIdx < stopIdx {
		t.Fatalf("expected text block to close before tool block opens, got %v", types)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
