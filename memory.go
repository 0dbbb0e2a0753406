package tideline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MemoryFilter selects which stored memories are offered proactively.
type MemoryFilter string

const (
	MemoryOff      MemoryFilter = "none"
	MemoryInterval MemoryFilter = "interval"
	MemoryCount    MemoryFilter = "count"
	MemoryAll      MemoryFilter = "all"
)

// MemoryScope is the user's proactive memory setting.
type MemoryScope struct {
	Filter   MemoryFilter
	Interval time.Duration // MemoryInterval: only memories newer than now-Interval
	Count    int           // MemoryCount: only the Count most recent memories
}

// Description is the human-readable scope line of the proactive summary.
func (s MemoryScope) Description() string {
	switch s.Filter {
	case MemoryInterval:
		return fmt.Sprintf("memories from the last %s", humanDuration(s.Interval))
	case MemoryCount:
		return fmt.Sprintf("the %d most recent memories", s.Count)
	case MemoryAll:
		return "all memories"
	}
	return "disabled"
}

// MemoryEntry is a single remembered fact.
type MemoryEntry struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	CreatedAt      int64  `json:"created_at"` // unix milliseconds
}

// MemoryProvider supplies the proactive memory summary injected into the
// system prompt. An empty string means there is nothing to inject.
type MemoryProvider interface {
	FormattedProactiveContext(ctx context.Context, scope MemoryScope) (string, error)
}

// FormatProactiveContext renders entries (most recent first) as the
// proactive memory block. Returns "" when entries is empty.
func FormatProactiveContext(scope MemoryScope, entries []MemoryEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var body strings.Builder
	for i, e := range entries {
		if i > 0 {
			body.WriteByte('\n')
		}
		ts := time.UnixMilli(e.CreatedAt).Format("Jan 2, 2006 at 3:04 PM")
		fmt.Fprintf(&body, "%d. [%s] %s", i+1, ts, e.Content)
	}
	return strings.Join([]string{
		"Proactive Memory Context",
		"Scope: " + scope.Description(),
		"This summary is provided automatically according to the user's proactive memory setting, even when memory tools are disabled.",
		"",
		body.String(),
	}, "\n")
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		n := int(d / (24 * time.Hour))
		if n == 1 {
			return "day"
		}
		return fmt.Sprintf("%d days", n)
	case d >= time.Hour && d%time.Hour == 0:
		n := int(d / time.Hour)
		if n == 1 {
			return "hour"
		}
		return fmt.Sprintf("%d hours", n)
	}
	return d.String()
}
