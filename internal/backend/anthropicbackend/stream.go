package anthropicbackend

import (
	"context"
	"strings"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// maxToolBuffers bounds memory in case a misbehaving upstream sends
// unbounded ContentBlockStart events without matching Stop events.
const maxToolBuffers = 100

// Stream sends a streaming completion request and emits normalized
// producer events as the upstream SSE events decode.
func (c *Client) Stream(ctx context.Context, req *anthropic.Request, emit func(transcoder.ProducerEvent) error) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return backend.ErrUnavailable
	}

	start := time.Now()
	params := convertRequest(c.cfg.Model, c.cfg.MaxTokens, req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	state := &streamState{toolBuffers: make(map[int64]*toolBuffer)}

	for stream.Next() {
		if ctx.Err() != nil {
			c.recordFailure(time.Since(start))
			return ctx.Err()
		}
		if err := processEvent(state, stream.Current(), emit); err != nil {
			c.recordFailure(time.Since(start))
			return err
		}
	}
	if err := stream.Err(); err != nil {
		c.recordFailure(time.Since(start))
		return mapError(err)
	}

	c.recordSuccess(time.Since(start))
	return nil
}

type streamState struct {
	inputTokens int64
	toolBuffers map[int64]*toolBuffer
}

type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

func processEvent(state *streamState, event sdkanthropic.MessageStreamEventUnion, emit func(transcoder.ProducerEvent) error) error {
	switch ev := event.AsAny().(type) {
	case sdkanthropic.MessageStartEvent:
		state.inputTokens = ev.Message.Usage.InputTokens

	case sdkanthropic.ContentBlockStartEvent:
		return handleBlockStart(state, ev, emit)

	case sdkanthropic.ContentBlockDeltaEvent:
		return handleBlockDelta(state, ev, emit)

	case sdkanthropic.ContentBlockStopEvent:
		return handleBlockStop(state, ev, emit)

	case sdkanthropic.MessageDeltaEvent:
		return handleMessageDelta(state, ev, emit)
	}
	return nil
}

func handleBlockStart(state *streamState, ev sdkanthropic.ContentBlockStartEvent, emit func(transcoder.ProducerEvent) error) error {
	if ev.ContentBlock.Type != "tool_use" {
		return nil
	}
	if len(state.toolBuffers) >= maxToolBuffers {
		return nil
	}
	state.toolBuffers[ev.Index] = &toolBuffer{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
	return emit(transcoder.ProducerEvent{
		Kind: transcoder.EventToolInputStart, ToolID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name, ToolIndex: int(ev.Index),
	})
}

func handleBlockDelta(state *streamState, ev sdkanthropic.ContentBlockDeltaEvent, emit func(transcoder.ProducerEvent) error) error {
	switch delta := ev.Delta.AsAny().(type) {
	case sdkanthropic.TextDelta:
		return emit(transcoder.ProducerEvent{Kind: transcoder.EventTextDelta, Text: delta.Text})
	case sdkanthropic.InputJSONDelta:
		buf, ok := state.toolBuffers[ev.Index]
		if !ok {
			return nil
		}
		buf.args.WriteString(delta.PartialJSON)
		return emit(transcoder.ProducerEvent{Kind: transcoder.EventToolInputDelta, ToolID: buf.id, Delta: delta.PartialJSON})
	}
	return nil
}

func handleBlockStop(state *streamState, ev sdkanthropic.ContentBlockStopEvent, emit func(transcoder.ProducerEvent) error) error {
	buf, ok := state.toolBuffers[ev.Index]
	if !ok {
		return nil
	}
	delete(state.toolBuffers, ev.Index)
	return emit(transcoder.ProducerEvent{Kind: transcoder.EventToolInputEnd, ToolID: buf.id})
}

func handleMessageDelta(state *streamState, ev sdkanthropic.MessageDeltaEvent, emit func(transcoder.ProducerEvent) error) error {
	return emit(transcoder.ProducerEvent{
		Kind:         transcoder.EventFinish,
		FinishReason: convertStopReason(ev.Delta.StopReason),
		InputTokens:  int(state.inputTokens),
		OutputTokens: int(ev.Usage.OutputTokens),
	})
}
