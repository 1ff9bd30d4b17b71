package anthropicbackend

import (
	"encoding/json"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

func convertRequest(model string, maxTokens int, req *anthropic.Request) sdkanthropic.MessageNewParams {
	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(firstNonZero(req.MaxTokens, maxTokens)),
	}

	if sys := req.SystemBlocks(); len(sys) > 0 {
		params.System = convertSystem(sys)
	}
	if req.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdkanthropic.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func convertSystem(blocks []anthropic.ContentBlock) []sdkanthropic.TextBlockParam {
	out := make([]sdkanthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != anthropic.BlockText {
			continue
		}
		tb := sdkanthropic.TextBlockParam{Text: b.Text}
		if b.Cache.IsEphemeral() {
			tb.CacheControl = sdkanthropic.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		out = append(out, tb)
	}
	return out
}

func convertMessages(msgs []anthropic.Message) []sdkanthropic.MessageParam {
	out := make([]sdkanthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdkanthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			if block, ok := convertContentBlock(b); ok {
				blocks = append(blocks, block)
			}
		}

		role := sdkanthropic.MessageParamRoleUser
		if m.Role == anthropic.RoleAssistant {
			role = sdkanthropic.MessageParamRoleAssistant
		}
		out = append(out, sdkanthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func convertContentBlock(b anthropic.ContentBlock) (sdkanthropic.ContentBlockParamUnion, bool) {
	switch b.Type {
	case anthropic.BlockText:
		return sdkanthropic.NewTextBlock(b.Text), true
	case anthropic.BlockToolUse:
		input := any(json.RawMessage(b.Input))
		if len(b.Input) == 0 {
			input = json.RawMessage("{}")
		}
		return sdkanthropic.NewToolUseBlock(b.ID, input, b.Name), true
	case anthropic.BlockToolResult:
		return sdkanthropic.NewToolResultBlock(b.ToolUseID, rawString(b.Content), false), true
	case anthropic.BlockImage:
		return convertImageBlock(b), true
	default:
		return sdkanthropic.ContentBlockParamUnion{}, false
	}
}

func convertImageBlock(b anthropic.ContentBlock) sdkanthropic.ContentBlockParamUnion {
	if b.Source == nil {
		return sdkanthropic.NewTextBlock("")
	}
	if b.Source.Type == "base64" {
		return sdkanthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data)
	}
	return sdkanthropic.NewImageBlock(sdkanthropic.URLImageSourceParam{URL: b.Source.URL, Type: "url"})
}

func convertTools(tools []anthropic.ToolDefinition) []sdkanthropic.ToolUnionParam {
	out := make([]sdkanthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		tool := &sdkanthropic.ToolParam{Name: t.Name}
		if t.Description != "" {
			tool.Description = sdkanthropic.String(t.Description)
		}
		if len(t.InputSchema) > 0 {
			tool.InputSchema = convertInputSchema(t.InputSchema)
		}
		out[i] = sdkanthropic.ToolUnionParam{OfTool: tool}
	}
	return out
}

func convertInputSchema(raw json.RawMessage) sdkanthropic.ToolInputSchemaParam {
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return sdkanthropic.ToolInputSchemaParam{}
	}

	param := sdkanthropic.ToolInputSchemaParam{}
	if props, ok := full["properties"]; ok {
		param.Properties = props
		delete(full, "properties")
	}
	if req, ok := full["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			param.Required = strs
		}
		delete(full, "required")
	}
	delete(full, "type")

	if len(full) > 0 {
		param.ExtraFields = full
	}
	return param
}

func rawString(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}

func convertResponse(msg *sdkanthropic.Message) backend.Response {
	out := backend.Response{
		FinishReason: convertStopReason(msg.StopReason),
		Usage: anthropic.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdkanthropic.TextBlock:
			out.Content = append(out.Content, anthropic.ContentBlock{Type: anthropic.BlockText, Text: v.Text})
		case sdkanthropic.ToolUseBlock:
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:  anthropic.BlockToolUse,
				ID:    v.ID,
				Name:  v.Name,
				Input: json.RawMessage(v.Input),
			})
		}
	}
	return out
}

func convertStopReason(reason sdkanthropic.StopReason) string {
	switch reason {
	case sdkanthropic.StopReasonEndTurn, sdkanthropic.StopReasonStopSequence:
		return "end_turn"
	case sdkanthropic.StopReasonMaxTokens:
		return "max_tokens"
	case sdkanthropic.StopReasonToolUse:
		return "tool_use"
	case sdkanthropic.StopReasonRefusal:
		return "content_filter"
	default:
		return "end_turn"
	}
}
