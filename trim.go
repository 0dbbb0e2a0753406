package tideline

// Trim removes the earliest non-system message until the estimated size of
// messages plus tools fits within limit. System messages are never removed.
// It reports whether anything was removed, and fails with a
// *ContextExhaustedError once only system messages remain and the budget is
// still exceeded. The input slice is not modified.
func Trim(messages []ChatMessage, tools []ToolDefinition, limit int, enc Encoder) ([]ChatMessage, bool, error) {
	out := make([]ChatMessage, len(messages))
	copy(out, messages)
	trimmed := false
	for {
		est := EstimateTokens(out, tools, enc)
		if est <= limit {
			return out, trimmed, nil
		}
		idx := firstNonSystem(out)
		if idx < 0 {
			return nil, trimmed, &ContextExhaustedError{Estimated: est, Limit: limit}
		}
		out = append(out[:idx], out[idx+1:]...)
		trimmed = true
	}
}

func firstNonSystem(messages []ChatMessage) int {
	for i, m := range messages {
		if m.Role != "system" {
			return i
		}
	}
	return -1
}
