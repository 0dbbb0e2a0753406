// Package memory exposes a memory backend to the chat model as tools.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/tideline"
)

// Store is the memory backend the tools operate on. memory/sqlite
// implements it.
type Store interface {
	Add(ctx context.Context, content, conversationID string) (tideline.MemoryEntry, error)
	Search(ctx context.Context, query string, limit int) ([]tideline.MemoryEntry, error)
	List(ctx context.Context, limit int) ([]tideline.MemoryEntry, error)
	Update(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

const (
	defaultRecallLimit = 20
	maxRecallLimit     = 100
)

const prompt = `Memory tools are available. Use store_memory when the user shares a lasting fact, preference or instruction worth keeping across conversations; store one concise fact per call. Use recall_memory before answering questions that may depend on what the user told you earlier. Use update_memory when a remembered fact changes and delete_memory when the user asks you to forget something. Never store secrets such as passwords or keys.`

// Tool manages remembered facts.
type Tool struct {
	store          Store
	conversationID string
}

// Option configures the memory tools.
type Option func(*Tool)

// WithConversationID tags stored facts with the conversation they came from.
func WithConversationID(id string) Option {
	return func(t *Tool) { t.conversationID = id }
}

// New creates the memory tools over store.
func New(store Store, opts ...Option) *Tool {
	t := &Tool{store: store}
	for _, o := range opts {
		o(t)
	}
	return t
}

var (
	_ tideline.CapableTool       = (*Tool)(nil)
	_ tideline.MemoryToolsPrompt = (*Tool)(nil)
)

func (t *Tool) Capabilities() tideline.ToolCapability { return tideline.CapMemory }

func (t *Tool) MemoryPrompt() string { return prompt }

func (t *Tool) Definitions() []tideline.ToolDefinition {
	return []tideline.ToolDefinition{
		{
			Name:        "store_memory",
			Description: "Remember a fact about the user for future conversations.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"content":{"type":"string","description":"The fact to remember, as one concise sentence"}
			},"required":["content"]}`),
		},
		{
			Name:        "recall_memory",
			Description: "Search remembered facts. An empty query returns the most recent ones.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"Keywords to look for"},
				"limit":{"type":"integer","description":"Maximum number of facts (1-100, default 20)"}
			}}`),
		},
		{
			Name:        "list_memories",
			Description: "List remembered facts, most recent first, with their IDs.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"limit":{"type":"integer","description":"Maximum number of facts (1-100, default 20)"}
			}}`),
		},
		{
			Name:        "update_memory",
			Description: "Replace the content of a remembered fact.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"id":{"type":"string","description":"ID of the fact, as shown by list_memories or recall_memory"},
				"content":{"type":"string","description":"The new content"}
			},"required":["id","content"]}`),
		},
		{
			Name:        "delete_memory",
			Description: "Forget a remembered fact.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"id":{"type":"string","description":"ID of the fact to forget"}
			},"required":["id"]}`),
		},
	}
}

type params struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (tideline.ToolResult, error) {
	var p params
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return tideline.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}

	var result string
	var err error
	switch name {
	case "store_memory":
		result, err = t.handleStore(ctx, p)
	case "recall_memory":
		result, err = t.handleRecall(ctx, p)
	case "list_memories":
		result, err = t.handleList(ctx, p)
	case "update_memory":
		result, err = t.handleUpdate(ctx, p)
	case "delete_memory":
		result, err = t.handleDelete(ctx, p)
	default:
		return tideline.ToolResult{Error: "unknown memory tool: " + name}, nil
	}
	if err != nil {
		return tideline.ToolResult{Error: err.Error()}, nil
	}
	return tideline.ToolResult{Content: result}, nil
}

func (t *Tool) handleStore(ctx context.Context, p params) (string, error) {
	e, err := t.store.Add(ctx, p.Content, t.conversationID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered (id %s): %s", e.ID, e.Content), nil
}

func (t *Tool) handleRecall(ctx context.Context, p params) (string, error) {
	entries, err := t.store.Search(ctx, p.Query, clampLimit(p.Limit))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No matching memories.", nil
	}
	return formatEntries(entries), nil
}

func (t *Tool) handleList(ctx context.Context, p params) (string, error) {
	entries, err := t.store.List(ctx, clampLimit(p.Limit))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No memories stored.", nil
	}
	return formatEntries(entries), nil
}

func (t *Tool) handleUpdate(ctx context.Context, p params) (string, error) {
	if p.ID == "" {
		return "", errors.New("id is required")
	}
	if err := t.store.Update(ctx, p.ID, p.Content); err != nil {
		if errors.Is(err, tideline.ErrNotFound) {
			return "", fmt.Errorf("no memory with id %s", p.ID)
		}
		return "", err
	}
	return "Memory updated.", nil
}

func (t *Tool) handleDelete(ctx context.Context, p params) (string, error) {
	if p.ID == "" {
		return "", errors.New("id is required")
	}
	if err := t.store.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, tideline.ErrNotFound) {
			return "", fmt.Errorf("no memory with id %s", p.ID)
		}
		return "", err
	}
	return "Memory deleted.", nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultRecallLimit
	case n > maxRecallLimit:
		return maxRecallLimit
	}
	return n
}

func formatEntries(entries []tideline.MemoryEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		ts := time.UnixMilli(e.CreatedAt).Format("2006-01-02")
		fmt.Fprintf(&b, "- [%s] (%s) %s", e.ID, ts, e.Content)
	}
	return b.String()
}
