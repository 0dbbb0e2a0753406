package tideline

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	toolGuidancePrompt    = "The system provides several tools for your convenience. Please use them wisely and according to the user's query. Avoid requesting information that is already provided or easily inferred."
	proactiveMemoryPrompt = "A proactive memory summary has been provided above according to the user's setting. Treat it as reliable context and keep it updated through memory tools when necessary."
	runtimeInfoDateLayout = "Monday, January 2, 2006 at 3:04:05 PM MST"
)

// PromptOptions selects the system messages AssemblePrompt emits.
type PromptOptions struct {
	// IncludeRuntimeInfo adds the model name, date and locale block.
	IncludeRuntimeInfo bool
	ModelName          string
	Now                time.Time
	Locale             language.Tag

	// MemoryContext is the proactive memory summary; empty skips it.
	MemoryContext string

	// Browsing adds the web search mode notice for Sensitivity.
	Browsing    bool
	Sensitivity SearchSensitivity

	// ToolsEnabled adds the tool usage guidance. MemoryToolsPrompt extends
	// it when memory tools are registered.
	ToolsEnabled      bool
	MemoryToolsPrompt string
}

// BasePrompt combines the configured system prompt with the user's
// additional instructions.
func BasePrompt(base, additional string) string {
	base = strings.TrimSpace(base)
	if extra := strings.TrimSpace(additional); extra != "" {
		if base == "" {
			return extra
		}
		return base + "\n" + extra
	}
	return base
}

// AssemblePrompt returns the turn's system messages in fixed order
// (runtime info, proactive memory, web search mode, tool guidance) followed
// by user.
func AssemblePrompt(user ChatMessage, opts PromptOptions) []ChatMessage {
	var out []ChatMessage
	if opts.IncludeRuntimeInfo {
		out = append(out, SystemMessage(runtimeInfo(opts)))
	}
	memoryProvided := opts.MemoryContext != ""
	if memoryProvided {
		out = append(out, SystemMessage(opts.MemoryContext))
	}
	if opts.Browsing {
		out = append(out, SystemMessage("Web Search Mode: "+opts.Sensitivity.Title()+"\n"+opts.Sensitivity.BriefDescription()))
	}
	if opts.ToolsEnabled {
		guidance := toolGuidancePrompt
		if opts.MemoryToolsPrompt != "" {
			guidance += "\n\n" + opts.MemoryToolsPrompt
		}
		if memoryProvided {
			guidance += "\n\n" + proactiveMemoryPrompt
		}
		out = append(out, SystemMessage(guidance))
	}
	return append(out, user)
}

func runtimeInfo(opts PromptOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return fmt.Sprintf(`System is providing you up to date information about current query:

Model/Your Name: %s
Current Date: %s
Current User Locale: %s

Please use up-to-date information and ensure compliance with the previously provided guidelines.`,
		opts.ModelName, now.Format(runtimeInfoDateLayout), localeName(opts.Locale))
}

// localeName renders a tag as "en-US (American English)".
func localeName(tag language.Tag) string {
	if tag == language.Und {
		return "und"
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return tag.String() + " (" + name + ")"
	}
	return tag.String()
}

// MoveSystemMessagesToFront collapses every system message into a single
// leading one. Bodies are joined with newlines; the first non-empty Name is
// kept. Lists without system messages are returned unchanged.
func MoveSystemMessagesToFront(messages []ChatMessage) []ChatMessage {
	var (
		content strings.Builder
		name    string
		found   bool
	)
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		found = true
		content.WriteByte('\n')
		content.WriteString(m.Text())
		if name == "" {
			name = m.Name
		}
	}
	if !found {
		return messages
	}
	out := make([]ChatMessage, 0, len(messages))
	out = append(out, ChatMessage{Role: "system", Content: strings.TrimSpace(content.String()), Name: name})
	for _, m := range messages {
		if m.Role != "system" {
			out = append(out, m)
		}
	}
	return out
}
