package anthropicbackend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

func TestStream_TextOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		events := []string{
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude-sonnet-4-5-20250929\",\"stop_reason\":null,\"stop_sequence\":null,\"usage\":{\"input_tokens\":10,\"output_tokens\":0}}}",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" world\"}}",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\",\"stop_sequence\":null},\"usage\":{\"output_tokens\":5}}",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}",
		}
		for _, ev := range events {
			_, _ = w.Write([]byte(ev + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	var text strings.Builder
	var finish transcoder.ProducerEvent
	err := c.Stream(context.Background(), &anthropic.Request{
		Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "hi"}}}},
	}, func(ev transcoder.ProducerEvent) error {
		if ev.Kind == transcoder.EventTextDelta {
			text.WriteString(ev.Text)
		}
		if ev.Kind == transcoder.EventFinish {
			finish = ev
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text.String() != "Hello world" {
		t.Errorf("text = %q, want %q", text.String(), "Hello world")
	}
	if finish.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", finish.FinishReason)
	}
	if finish.InputTokens != 10 || finish.OutputTokens != 5 {
		t.Errorf("usage = %+v", finish)
	}
}

func TestStream_ToolUseEmitsStartDeltaEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		events := []string{
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"m\",\"stop_reason\":null,\"stop_sequence\":null,\"usage\":{\"input_tokens\":1,\"output_tokens\":0}}}",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"call_1\",\"name\":\"search\",\"input\":{}}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"q\\\":\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"go\\\"}\"}}",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\",\"stop_sequence\":null},\"usage\":{\"output_tokens\":2}}",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}",
		}
		for _, ev := range events {
			_, _ = w.Write([]byte(ev + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	var events []transcoder.ProducerEvent
	err := c.Stream(context.Background(), &anthropic.Request{
		Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "search for go"}}}},
	}, func(ev transcoder.ProducerEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var kinds []transcoder.ProducerEventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []transcoder.ProducerEventKind{
		transcoder.EventToolInputStart, transcoder.EventToolInputDelta, transcoder.EventToolInputDelta,
		transcoder.EventToolInputEnd, transcoder.EventFinish,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %+v, want %+v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if events[0].ToolID != "call_1" || events[0].ToolName != "search" {
		t.Errorf("start event = %+v", events[0])
	}
}
