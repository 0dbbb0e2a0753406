package tideline

import (
	"regexp"
	"strings"
)

// Closed blocks are removed first so an unterminated opener only swallows
// the tail of the text.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?is)<think>.*`),
	regexp.MustCompile(`(?is)<thinking>.*`),
	regexp.MustCompile(`(?is)<reasoning>.*`),
}

// StripReasoning removes inline reasoning blocks that some models emit in
// their content and trims the result.
func StripReasoning(s string) string {
	if s == "" {
		return s
	}
	for _, re := range reasoningPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
