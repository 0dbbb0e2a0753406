package tideline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream sends deltas into ch as they arrive, then returns the
	// accumulated response. Implementations must close ch before returning.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamDelta) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "openrouter").
	Name() string
}

// DiagnosticsReporter is implemented by providers that keep the raw text of
// the last failed exchange (server error bodies, malformed chunks). The
// session surfaces it when a stream produced nothing usable.
type DiagnosticsReporter interface {
	Diagnostics() string
}

// Capability is a bit set of model features.
type Capability uint8

const (
	CapVisual Capability = 1 << iota
	CapTools
)

func (c Capability) Has(f Capability) bool { return c&f == f }

// DefaultContextLength is used for models registered without one.
const DefaultContextLength = 8192

// Model binds an identifier to the provider serving it.
type Model struct {
	ID            string
	Name          string // display name, used in the runtime info block
	Provider      Provider
	ContextLength int
	Capabilities  Capability
	Temperature   *float64
}

// ModelRegistry is a concurrency-safe set of models keyed by ID.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewModelRegistry(models ...Model) *ModelRegistry {
	r := &ModelRegistry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a model.
func (r *ModelRegistry) Register(m Model) {
	if m.ContextLength <= 0 {
		m.ContextLength = DefaultContextLength
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	r.mu.Lock()
	r.models[m.ID] = m
	r.mu.Unlock()
}

func (r *ModelRegistry) Lookup(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// IDs returns the registered identifiers in lexical order.
func (r *ModelRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ModelDefaults are the application-wide model choices.
type ModelDefaults struct {
	Chat            string
	Auxiliary       string
	VisualAuxiliary string
	// AuxiliaryUsesChatModel makes the auxiliary model follow the chat model.
	AuxiliaryUsesChatModel bool
	// SkipVisualIfPossible skips image description when the chat model can
	// see images itself.
	SkipVisualIfPossible bool
}

// ResolveModels computes the models for the next turn. A conversation
// override wins, then the current selection, then the defaults.
func ResolveModels(current Models, conv Conversation, d ModelDefaults) Models {
	out := current
	switch {
	case conv.ModelChat != "":
		out.Chat = conv.ModelChat
	case out.Chat == "":
		out.Chat = d.Chat
	}
	switch {
	case conv.ModelAuxiliary != "":
		out.Auxiliary = conv.ModelAuxiliary
	case d.AuxiliaryUsesChatModel && out.Chat != "":
		out.Auxiliary = out.Chat
	case out.Auxiliary == "":
		out.Auxiliary = d.Auxiliary
	}
	switch {
	case conv.ModelVisualAuxiliary != "":
		out.VisualAuxiliary = conv.ModelVisualAuxiliary
	case out.VisualAuxiliary == "":
		out.VisualAuxiliary = d.VisualAuxiliary
	}
	return out
}

// nopLogger discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
