package openaicompat

import (
	"encoding/json"
	"strings"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

func buildRequest(model string, maxTokens int, req *anthropic.Request, stream bool) oaiRequest {
	messages := convertMessages(req)

	out := oaiRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   firstNonZero(req.MaxTokens, maxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if stream {
		out.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]oaiTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = oaiTool{
				Type: "function",
				Function: oaiToolDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}
	return out
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func convertMessages(req *anthropic.Request) []oaiMessage {
	var out []oaiMessage

	if sys := req.SystemBlocks(); len(sys) > 0 {
		var text strings.Builder
		for _, b := range sys {
			if b.Type == anthropic.BlockText {
				text.WriteString(b.Text)
			}
		}
		out = append(out, oaiMessage{Role: "system", Content: text.String()})
	}

	for _, m := range req.Messages {
		out = append(out, convertOneMessage(m)...)
	}
	return out
}

func convertOneMessage(m anthropic.Message) []oaiMessage {
	var (
		textParts []oaiContentPart
		toolCalls []oaiToolCall
		toolMsgs  []oaiMessage
		plainText strings.Builder
		hasParts  bool
	)

	for _, b := range m.Content {
		switch b.Type {
		case anthropic.BlockText:
			plainText.WriteString(b.Text)
			textParts = append(textParts, oaiContentPart{Type: "text", Text: b.Text})
		case anthropic.BlockImage:
			hasParts = true
			if b.Source != nil {
				textParts = append(textParts, oaiContentPart{
					Type:     "image_url",
					ImageURL: &oaiImageURL{URL: b.Source.URL, Detail: "auto"},
				})
			}
		case anthropic.BlockToolUse:
			toolCalls = append(toolCalls, oaiToolCall{
				ID:   b.ID,
				Type: "function",
				Function: oaiToolFunction{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case anthropic.BlockToolResult:
			toolMsgs = append(toolMsgs, oaiMessage{
				Role:       "tool",
				Content:    rawString(b.Content),
				ToolCallID: b.ToolUseID,
			})
		}
	}

	role := string(m.Role)
	var primary *oaiMessage
	if plainText.Len() > 0 || len(toolCalls) > 0 {
		msg := oaiMessage{Role: role, ToolCalls: toolCalls}
		if hasParts {
			msg.Content = textParts
		} else {
			msg.Content = plainText.String()
		}
		primary = &msg
	}

	var out []oaiMessage
	if primary != nil {
		out = append(out, *primary)
	}
	out = append(out, toolMsgs...)
	return out
}

func rawString(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}

func parseResponse(resp oaiResponse) backend.Response {
	out := backend.Response{
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.FinishReason = mapFinishReason(choice.FinishReason)

	if choice.Message.Content != "" {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type: anthropic.BlockText,
			Text: choice.Message.Content,
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "content_filter"
	default:
		return reason
	}
}
