package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

type fakeBackend struct {
	response backend.Response
	events   []transcoder.ProducerEvent
	err      error
}

func (f *fakeBackend) Complete(ctx context.Context, req *anthropic.Request) (backend.Response, error) {
	return f.response, f.err
}

func (f *fakeBackend) Stream(ctx context.Context, req *anthropic.Request, emit func(transcoder.ProducerEvent) error) error {
	if f.err != nil {
		return f.err
	}
	for _, ev := range f.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) ContextWindow() int { return 128000 }
func (f *fakeBackend) ModelName() string  { return "fake-model" }

const testRequestBody = `{"model":"test-model","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`

func TestHandleMessages_NonStreamingSuccess(t *testing.T) {
	g := newTestGateway()
	g.backend = &fakeBackend{response: backend.Response{
		Content:      []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "hello"}},
		FinishReason: "end_turn",
		Usage:        anthropic.Usage{InputTokens: 5, OutputTokens: 2},
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(testRequestBody))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}

	var out anthropic.MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Role != anthropic.RoleAssistant || len(out.Content) != 1 || out.Content[0].Text != "hello" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestHandleMessages_BackendErrorMapsToUpstreamUnavailable(t *testing.T) {
	g := newTestGateway()
	g.backend = &fakeBackend{err: backend.ErrUnavailable}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(testRequestBody))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandleMessages_RejectsMissingFields(t *testing.T) {
	g := newTestGateway()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandleMessages_RejectsOversizedBody(t *testing.T) {
	g := newTestGateway()
	g.config.MaxBodyBytes = 16
	g.backend = &fakeBackend{}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(testRequestBody))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMessages_RejectsExcessiveJSONNesting(t *testing.T) {
	g := newTestGateway()
	g.backend = &fakeBackend{}

	nested := strings.Repeat("[", 64) + strings.Repeat("]", 64)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(nested))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
}

type tinyWindowBackend struct{ fakeBackend }

func (tinyWindowBackend) ContextWindow() int { return 50 }

func TestHandleMessages_ContextOverflowReturnsBadRequest(t *testing.T) {
	g := newTestGateway()
	g.backend = &tinyWindowBackend{}

	var sb strings.Builder
	sb.WriteString(`{"model":"test-model","messages":[`)
	for i := 0; i < 25; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"role":"user","content":[{"type":"text","text":"` + strings.Repeat("word ", 50) + `"}]}`)
	}
	sb.WriteString(`]}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(sb.String()))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "context length") {
		t.Fatalf("expected context length error, got %s", rec.Body.String())
	}
}

func TestHandleMessages_StreamingSuccess(t *testing.T) {
	g := newTestGateway()
	g.backend = &fakeBackend{events: []transcoder.ProducerEvent{
		{Kind: transcoder.EventTextDelta, Text: "hi there"},
		{Kind: transcoder.EventFinish, FinishReason: "end_turn", OutputTokens: 3},
	}}

	body := `{"model":"test-model","stream":true,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	g.handleMessages(rec, req)

	out := rec.Body.String()
	for _, want := range []string{"event: message_start", "event: content_block_delta", "event: message_stop"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in stream output: %q", want, out)
		}
	}
}
