package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/tideline"
)

func TestBuildBody(t *testing.T) {
	msgs := []tideline.ChatMessage{
		tideline.SystemMessage("be brief"),
		tideline.UserParts(tideline.TextPart("what is this?"), tideline.ImagePart("data:image/png;base64,AAA")),
		{Role: "assistant", ToolCalls: []tideline.ToolCall{{ID: "c1", Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)}}},
		tideline.ToolResultMessage("c1", "found"),
	}
	tools := []tideline.ToolDefinition{{Name: "lookup", Description: "Look up"}}

	body := BuildBody(msgs, tools, "gpt-4o")

	if body.Model != "gpt-4o" || len(body.Messages) != 4 {
		t.Fatalf("body = %+v", body)
	}
	if body.Messages[0].Role != "system" || body.Messages[0].Content != "be brief" {
		t.Errorf("system = %+v", body.Messages[0])
	}
	blocks, ok := body.Messages[1].Content.([]ContentBlock)
	if !ok || len(blocks) != 2 || blocks[1].Type != "image_url" || blocks[1].ImageURL.URL != "data:image/png;base64,AAA" {
		t.Errorf("multimodal content = %+v", body.Messages[1].Content)
	}
	call := body.Messages[2]
	if len(call.ToolCalls) != 1 || call.ToolCalls[0].Function.Arguments != `{"q":"x"}` || call.Content != nil {
		t.Errorf("tool call message = %+v", call)
	}
	if body.Messages[3].ToolCallID != "c1" {
		t.Errorf("tool result = %+v", body.Messages[3])
	}
	if len(body.Tools) != 1 || string(body.Tools[0].Function.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("tools = %+v", body.Tools)
	}
}
