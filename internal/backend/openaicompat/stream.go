package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Stream issues a streaming chat-completions call and emits normalized
// producer events as they're decoded off the SSE body.
func (c *Client) Stream(ctx context.Context, req *anthropic.Request, emit func(transcoder.ProducerEvent) error) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return backend.ErrUnavailable
	}

	start := time.Now()
	oaiReq := buildRequest(c.cfg.Model, c.cfg.MaxTokens, req, true)

	resp, err := c.doRequest(ctx, oaiReq)
	if err != nil {
		c.recordFailure(time.Since(start))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := handleErrorResponse(resp)
		c.recordFailure(time.Since(start))
		return err
	}

	err = scanSSE(ctx, bufio.NewScanner(resp.Body), emit)
	if err != nil {
		c.recordFailure(time.Since(start))
		return err
	}
	c.recordSuccess(time.Since(start))
	return nil
}

// toolState tracks the per-index OpenAI tool-call stream so it can be
// translated into the id-keyed start/delta/end events internal/toolstream
// expects; OpenAI dialects identify a tool call by array index and only
// supply the id on the first delta for that index.
type toolState struct {
	id      string
	started bool
}

func scanSSE(ctx context.Context, scanner *bufio.Scanner, emit func(transcoder.ProducerEvent) error) error {
	tools := make(map[int]*toolState)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		var data string
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		default:
			continue
		}

		if data == "[DONE]" {
			return closeOpenTools(tools, emit)
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("parse SSE chunk: %w", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := emit(transcoder.ProducerEvent{Kind: transcoder.EventTextDelta, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			if err := handleToolDelta(tools, tc, emit); err != nil {
				return err
			}
		}

		if choice.FinishReason != nil {
			if err := closeOpenTools(tools, emit); err != nil {
				return err
			}
			ev := transcoder.ProducerEvent{Kind: transcoder.EventFinish, FinishReason: mapFinishReason(*choice.FinishReason)}
			if chunk.Usage != nil {
				ev.InputTokens = chunk.Usage.PromptTokens
				ev.OutputTokens = chunk.Usage.CompletionTokens
			}
			return emit(ev)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: stream read error: %v", backend.ErrUnavailable, err)
	}
	return closeOpenTools(tools, emit)
}

func handleToolDelta(tools map[int]*toolState, tc oaiStreamTool, emit func(transcoder.ProducerEvent) error) error {
	st, ok := tools[tc.Index]
	if !ok {
		id := tc.ID
		if id == "" {
			id = "tool_" + strconv.Itoa(tc.Index)
		}
		st = &toolState{id: id}
		tools[tc.Index] = st
		if err := emit(transcoder.ProducerEvent{
			Kind: transcoder.EventToolInputStart, ToolID: id, ToolName: tc.Function.Name, ToolIndex: tc.Index,
		}); err != nil {
			return err
		}
		st.started = true
	}
	if tc.Function.Arguments != "" {
		if err := emit(transcoder.ProducerEvent{Kind: transcoder.EventToolInputDelta, ToolID: st.id, Delta: tc.Function.Arguments}); err != nil {
			return err
		}
	}
	return nil
}

func closeOpenTools(tools map[int]*toolState, emit func(transcoder.ProducerEvent) error) error {
	for i := 0; i < len(tools); i++ {
		st, ok := tools[i]
		if !ok || !st.started {
			continue
		}
		if err := emit(transcoder.ProducerEvent{Kind: transcoder.EventToolInputEnd, ToolID: st.id}); err != nil {
			return err
		}
		st.started = false
	}
	return nil
}
