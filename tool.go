package tideline

import (
	"context"
	"encoding/json"
)

// Tool defines a capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolCapability flags behavior the session must know about a tool.
type ToolCapability uint8

const (
	// CapMemory marks memory tools. Their presence extends the tool guidance
	// with the memory tools block.
	CapMemory ToolCapability = 1 << iota
	// CapDefersRound marks tools whose invocation ends the tool loop: the
	// session does not request another completion after executing them.
	CapDefersRound
)

// CapableTool is implemented by tools that declare capability flags.
type CapableTool interface {
	Tool
	Capabilities() ToolCapability
}

// MemoryToolsPrompt is implemented by memory tools that contribute extra
// guidance to the tool usage system message.
type MemoryToolsPrompt interface {
	MemoryPrompt() string
}

// ToolRegistry holds registered tools in registration order and dispatches
// execution by function name.
type ToolRegistry struct {
	tools []Tool
}

func NewToolRegistry(tools ...Tool) *ToolRegistry {
	return &ToolRegistry{tools: tools}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	if r == nil {
		return nil
	}
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Capabilities returns the flags of the tool owning function name.
func (r *ToolRegistry) Capabilities(name string) ToolCapability {
	if t := r.find(name); t != nil {
		return capabilitiesOf(t)
	}
	return 0
}

// HasCapability reports whether any registered tool carries c.
func (r *ToolRegistry) HasCapability(c ToolCapability) bool {
	if r == nil {
		return false
	}
	for _, t := range r.tools {
		if capabilitiesOf(t)&c != 0 {
			return true
		}
	}
	return false
}

// MemoryPrompt joins the guidance of registered memory tools.
func (r *ToolRegistry) MemoryPrompt() string {
	if r == nil {
		return ""
	}
	var out string
	for _, t := range r.tools {
		if p, ok := t.(MemoryToolsPrompt); ok && capabilitiesOf(t)&CapMemory != 0 {
			if s := p.MemoryPrompt(); s != "" {
				if out != "" {
					out += "\n"
				}
				out += s
			}
		}
	}
	return out
}

// Execute dispatches a tool call by name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if t := r.find(name); t != nil {
		return t.Execute(ctx, name, args)
	}
	return ToolResult{Error: "unknown tool: " + name}, nil
}

func (r *ToolRegistry) find(name string) Tool {
	if r == nil {
		return nil
	}
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t
			}
		}
	}
	return nil
}

func capabilitiesOf(t Tool) ToolCapability {
	if c, ok := t.(CapableTool); ok {
		return c.Capabilities()
	}
	return 0
}
