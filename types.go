package tideline

import (
	"encoding/json"
	"strings"
	"time"
)

// --- Domain types (persisted by a Store) ---

// Role identifies who authored a persisted Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleWebSearch Role = "webSearch"
)

type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"` // single emoji
	// Per-conversation model overrides. Empty means "use the session defaults".
	ModelChat            string `json:"model_chat,omitempty"`
	ModelAuxiliary       string `json:"model_auxiliary,omitempty"`
	ModelVisualAuxiliary string `json:"model_visual_auxiliary,omitempty"`
	ShouldAutoRename     bool   `json:"should_auto_rename"`
	CreatedAt            int64  `json:"created_at"`
}

type Message struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversation_id"`
	Role             Role            `json:"role"`
	Document         string          `json:"document"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ThinkingDuration time.Duration   `json:"thinking_duration"`
	IsThinkingFold   bool            `json:"is_thinking_fold"`
	WebSearchStatus  WebSearchStatus `json:"web_search_status"`
	CreatedAt        int64           `json:"created_at"` // unix milliseconds
}

// SearchResult is the title/url pair of a gathered web document.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// WebSearchStatus reports the progress of a web search. It is persisted with
// its owning webSearch Message.
//
// ProcessProgress is in [0, 1] while gathering, 0 once finished and -1 when
// the search failed.
type WebSearchStatus struct {
	Queries               []string       `json:"queries,omitempty"`
	CurrentQuery          int            `json:"current_query"`
	CurrentQueryBeginDate time.Time      `json:"current_query_begin_date"`
	NumberOfQueries       int            `json:"number_of_queries"`
	CurrentSource         int            `json:"current_source"`
	NumberOfSource        int            `json:"number_of_source"`
	NumberOfWebsites      int            `json:"number_of_websites"`
	NumberOfResults       int            `json:"number_of_results"`
	SearchResults         []SearchResult `json:"search_results,omitempty"`
	ProcessProgress       float64        `json:"process_progress"`
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentText  AttachmentType = "text"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment is a file the user sent with a message. TextRepresentation is
// what the model sees; images without one are described before inference.
type Attachment struct {
	ID                  string         `json:"id"`
	MessageID           string         `json:"message_id"`
	Type                AttachmentType `json:"type"`
	Name                string         `json:"name"`
	PreviewImage        []byte         `json:"-"`
	ImageRepresentation []byte         `json:"-"`
	TextRepresentation  string         `json:"text_representation"`
	StorageSuffix       string         `json:"storage_suffix"`
	// RawData holds the original bytes of a text document (e.g. a PDF)
	// whose TextRepresentation has not been extracted yet.
	RawData []byte `json:"-"`
}

// Models is the per-session model selection, resolved once per turn.
type Models struct {
	Chat            string
	Auxiliary       string
	VisualAuxiliary string
}

// --- LLM protocol types ---

// ChatMessage is the wire-level request message. It is built per turn and
// never persisted.
type ChatMessage struct {
	Role       string        `json:"role"` // "system", "developer", "user", "assistant", "tool"
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Text returns the textual body of the message, joining text parts with newlines.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	if m.Content != "" {
		texts = append(texts, m.Content)
	}
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamDelta is an incremental piece of a streamed completion. Deltas are
// appended in order; the provider decides chunk boundaries.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// InferenceMessage is a cumulative snapshot of the assistant output,
// forwarded to the turn sink while streaming.
type InferenceMessage struct {
	ReasoningContent string     `json:"reasoning_content"`
	Content          string     `json:"content"`
	ToolCallRequests []ToolCall `json:"tool_call_requests,omitempty"`
}

// --- Turn input ---

type TurnOptions struct {
	// Browsing enables web search augmentation.
	Browsing bool
	// Tools enables tool calling. With Browsing also set, web search is
	// offered as a tool instead of running before inference.
	Tools bool
	// Ephemeral skips persisting the user message.
	Ephemeral bool
}

type TurnInput struct {
	Text        string
	Attachments []Attachment
	Options     TurnOptions
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

// UserParts builds a multi-part user message.
func UserParts(parts ...ContentPart) ChatMessage {
	return ChatMessage{Role: "user", Parts: parts}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: url}
}
