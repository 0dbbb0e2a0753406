package tideline

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

const (
	titleTask = "Generate a concise, 3-5 word only title summarizing the chat history, enclosed within the <title> tag. Write in the user's primary language. Do not include any prefix, label, or markdown."
	iconTask  = "Generate a single emoji icon that best represents this conversation. Only respond with one emoji character."

	maxTitleLength = 32
)

var (
	titleTagPattern = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	iconTagPattern  = regexp.MustCompile(`(?is)<icon>(.*?)</icon>`)
)

type conversationSummaryRequest struct {
	XMLName              xml.Name `xml:"conversation"`
	Task                 string   `xml:"task"`
	LastUserMessage      string   `xml:"last_user_message"`
	LastAssistantMessage string   `xml:"last_assistant_message"`
	OutputFormat         struct {
		Title string `xml:"title,omitempty"`
		Icon  string `xml:"icon,omitempty"`
	} `xml:"output_format"`
}

// GenerateTitle asks p for a short conversation title. It returns "" when
// the model produced nothing usable.
func GenerateTitle(ctx context.Context, p Provider, lastUser, lastAssistant string) (string, error) {
	req := conversationSummaryRequest{Task: titleTask, LastUserMessage: lastUser, LastAssistantMessage: lastAssistant}
	req.OutputFormat.Title = "your_title_here"
	content, err := summarize(ctx, p, req, 128)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := extractTag(content, "title", titleTagPattern)
	if title == "" {
		title = content
	}
	return truncateGraphemes(title, maxTitleLength), nil
}

// GenerateIcon asks p for a single emoji representing the conversation.
// It returns "" when the answer holds no emoji.
func GenerateIcon(ctx context.Context, p Provider, lastUser, lastAssistant string) (string, error) {
	req := conversationSummaryRequest{Task: iconTask, LastUserMessage: lastUser, LastAssistantMessage: lastAssistant}
	req.OutputFormat.Icon = "💬"
	content, err := summarize(ctx, p, req, 256)
	if err != nil {
		return "", fmt.Errorf("generate icon: %w", err)
	}
	icon := extractTag(content, "icon", iconTagPattern)
	if icon == "" {
		icon = content
	}
	return validateIcon(icon), nil
}

func summarize(ctx context.Context, p Provider, req conversationSummaryRequest, maxTokens int) (string, error) {
	body, err := xml.MarshalIndent(req, "", "    ")
	if err != nil {
		return "", err
	}
	resp, err := p.Chat(ctx, ChatRequest{
		Messages:  []ChatMessage{SystemMessage(req.Task), UserMessage(string(body))},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return StripReasoning(resp.Content), nil
}

// extractTag decodes <name> from s as XML, falling back to a pattern
// search for models that wrap the tag in prose.
func extractTag(s, name string, fallback *regexp.Regexp) string {
	var strict struct {
		Title string `xml:"title"`
		Icon  string `xml:"icon"`
	}
	if err := xml.Unmarshal([]byte(s), &strict); err == nil {
		v := strict.Title
		if name == "icon" {
			v = strict.Icon
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if m := fallback.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func truncateGraphemes(s string, n int) string {
	s = strings.TrimSpace(s)
	if uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String()
}

// validateIcon returns icon when it is a single grapheme, otherwise the
// first emoji grapheme it contains.
func validateIcon(icon string) string {
	icon = strings.TrimSpace(icon)
	if icon == "" {
		return ""
	}
	if uniseg.GraphemeClusterCount(icon) == 1 {
		return icon
	}
	g := uniseg.NewGraphemes(icon)
	for g.Next() {
		if isEmoji(g.Runes()) {
			return g.Str()
		}
	}
	return ""
}

func isEmoji(cluster []rune) bool {
	if len(cluster) == 0 {
		return false
	}
	r := cluster[0]
	if !unicode.Is(unicode.So, r) && !(r >= 0x1F1E6 && r <= 0x1F1FF) {
		return false
	}
	return r > 0x238C || len(cluster) > 1
}
