package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/nevindra/tideline"
)

// StreamSSE reads an SSE stream from body, sends content and reasoning
// deltas to ch and returns the accumulated response. Assembled tool calls
// are sent as one final delta. ch is closed before StreamSSE returns.
//
// Lines that cannot be decoded and error objects are passed to diag, if
// non-nil, so the caller can report what the server actually said.
//
// Expected format:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- tideline.StreamDelta, diag func(string)) (tideline.ChatResponse, error) {
	defer close(ch)
	if diag == nil {
		diag = func(string) {}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	send := func(d tideline.StreamDelta) error {
		select {
		case ch <- d:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}

	var (
		content, reasoning strings.Builder
		usage              tideline.Usage
	)
	// Tool calls arrive incrementally: each chunk carries an index and an
	// argument fragment.
	type partialToolCall struct {
		id   string
		name string
		args strings.Builder
	}
	var calls []*partialToolCall

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			diag(line)
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			diag(data)
			continue
		}
		if chunk.Error != nil {
			diag(data)
			return tideline.ChatResponse{}, &tideline.ErrLLM{Provider: "openai", Message: chunk.Error.Message}
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		delta := chunk.Choices[0].Delta

		out := tideline.StreamDelta{Content: delta.Content, Reasoning: delta.reasoning()}
		if out.Content != "" || out.Reasoning != "" {
			content.WriteString(out.Content)
			reasoning.WriteString(out.Reasoning)
			if err := send(out); err != nil {
				return tideline.ChatResponse{}, err
			}
		}

		for _, tc := range delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, &partialToolCall{})
			}
			c := calls[tc.Index]
			if tc.ID != "" {
				c.id = tc.ID
			}
			if tc.Function.Name != "" {
				c.name = tc.Function.Name
			}
			c.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return tideline.ChatResponse{}, err
	}

	var toolCalls []tideline.ToolCall
	for _, c := range calls {
		if c.name == "" {
			continue
		}
		toolCalls = append(toolCalls, tideline.ToolCall{ID: c.id, Name: c.name, Args: validArgs(c.args.String())})
	}
	if len(toolCalls) > 0 {
		if err := send(tideline.StreamDelta{ToolCalls: toolCalls}); err != nil {
			return tideline.ChatResponse{}, err
		}
	}

	return tideline.ChatResponse{
		Content:   content.String(),
		Reasoning: reasoning.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
