package tideline

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ImageTokenCost is the flat estimate charged per image content part.
const ImageTokenCost = 512

// Encoder counts tokens in text. tokenizer/tiktoken provides a byte-pair
// encoder; HeuristicEncoder is the dependency-free fallback.
type Encoder interface {
	Count(text string) int
}

// HeuristicEncoder estimates one token per four runes, rounded up.
type HeuristicEncoder struct{}

func (HeuristicEncoder) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateTokens estimates the prompt size of messages plus tool
// definitions. Each message is rendered as "role: <role>\n<text>"; image
// parts cost ImageTokenCost each instead of being encoded.
func EstimateTokens(messages []ChatMessage, tools []ToolDefinition, enc Encoder) int {
	if enc == nil {
		enc = HeuristicEncoder{}
	}
	var b strings.Builder
	images := 0
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("role: ")
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(m.Text())
		for _, p := range m.Parts {
			if p.Type == PartImageURL {
				images++
			}
		}
		for _, tc := range m.ToolCalls {
			b.WriteByte('\n')
			b.WriteString(tc.Name)
			b.Write(tc.Args)
		}
	}
	if len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			b.WriteString("\ntools: ")
			b.Write(data)
		}
	}
	return enc.Count(b.String()) + images*ImageTokenCost
}
