package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/tideline"
)

// BuildBody converts tideline messages into an OpenAI-format request.
// System messages stay in the messages array; multi-part messages become
// content blocks.
func BuildBody(messages []tideline.ChatMessage, tools []tideline.ToolDefinition, model string) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			tcs := make([]ToolCallRequest, 0, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					Index: i,
					ID:    tc.ID,
					Type:  "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msg := Message{Role: "assistant", ToolCalls: tcs}
			if m.Content != "" {
				msg.Content = m.Content
			}
			msgs = append(msgs, msg)

		case m.Role == "tool":
			msgs = append(msgs, Message{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID})

		case len(m.Parts) > 0:
			var blocks []ContentBlock
			if m.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: m.Content})
			}
			for _, p := range m.Parts {
				switch p.Type {
				case tideline.PartText:
					blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
				case tideline.PartImageURL:
					blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: p.ImageURL}})
				}
			}
			msgs = append(msgs, Message{Role: m.Role, Content: blocks, Name: m.Name})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content, Name: m.Name})
		}
	}

	req := ChatRequest{Model: model, Messages: msgs}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	return req
}

// BuildToolDefs converts tool definitions to the OpenAI tool format.
func BuildToolDefs(tools []tideline.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
