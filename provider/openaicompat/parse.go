package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/tideline"
)

// ParseResponse converts choices[0] of a response into a tideline response.
func ParseResponse(resp ChatResponse) tideline.ChatResponse {
	var out tideline.ChatResponse
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		out.Reasoning = msg.reasoning()
		out.ToolCalls = ParseToolCalls(msg.ToolCalls)
	}
	if resp.Usage != nil {
		out.Usage = tideline.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// ParseToolCalls converts tool call requests. Arguments that are not valid
// JSON become an empty object.
func ParseToolCalls(tcs []ToolCallRequest) []tideline.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]tideline.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, tideline.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: validArgs(tc.Function.Arguments),
		})
	}
	return out
}

func validArgs(s string) json.RawMessage {
	args := json.RawMessage(s)
	if !json.Valid(args) {
		return json.RawMessage(`{}`)
	}
	return args
}
