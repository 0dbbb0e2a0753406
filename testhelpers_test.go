package tideline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// --- Providers ---

// scriptedProvider replays canned Chat responses and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	err       error
	requests  []ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	if len(p.responses) == 0 {
		return ChatResponse{}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamDelta) (ChatResponse, error) {
	defer close(ch)
	resp, err := p.Chat(ctx, req)
	if err == nil && resp.Content != "" {
		ch <- StreamDelta{Content: resp.Content}
	}
	return resp, err
}

// streamRound is one scripted streaming completion.
type streamRound struct {
	deltas []StreamDelta
	resp   ChatResponse
	err    error
	// hold blocks after the deltas until the request context is done.
	hold bool
}

// streamProvider replays scripted streaming rounds in order.
type streamProvider struct {
	mu       sync.Mutex
	rounds   []streamRound
	requests []ChatRequest
	// holding receives a value when a hold round starts blocking.
	holding chan struct{}
	diag    string
}

func (p *streamProvider) Name() string { return "stream" }

func (p *streamProvider) Diagnostics() string { return p.diag }

func (p *streamProvider) next(req ChatRequest) (streamRound, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.rounds) == 0 {
		return streamRound{}, false
	}
	r := p.rounds[0]
	p.rounds = p.rounds[1:]
	return r, true
}

func (p *streamProvider) recorded() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

func (p *streamProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	r, ok := p.next(req)
	if !ok {
		return ChatResponse{}, errors.New("no scripted round")
	}
	if r.resp.Content == "" {
		for _, d := range r.deltas {
			r.resp.Content += d.Content
		}
	}
	return r.resp, r.err
}

func (p *streamProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamDelta) (ChatResponse, error) {
	defer close(ch)
	r, ok := p.next(req)
	if !ok {
		return ChatResponse{}, errors.New("no scripted round")
	}
	for _, d := range r.deltas {
		select {
		case ch <- d:
		case <-ctx.Done():
			return ChatResponse{}, context.Cause(ctx)
		}
	}
	if r.hold {
		if p.holding != nil {
			select {
			case p.holding <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return ChatResponse{}, context.Cause(ctx)
	}
	return r.resp, r.err
}

// --- Store ---

// memStore is an in-memory Store.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      []Message
	attachments   map[string][]Attachment
	puts          int
}

func newMemStore(convs ...Conversation) *memStore {
	s := &memStore{
		conversations: make(map[string]Conversation),
		attachments:   make(map[string][]Attachment),
	}
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
	return s
}

func (s *memStore) CreateConversation(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *memStore) UpdateConversation(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) PutMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return nil
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = slices.DeleteFunc(s.messages, func(m Message) bool { return m.ID == id })
	delete(s.attachments, id)
	return nil
}

func (s *memStore) PutAttachments(_ context.Context, messageID string, atts []Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[messageID] = slices.Clone(atts)
	return nil
}

func (s *memStore) ListAttachments(_ context.Context, messageID string) ([]Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attachments[messageID]), nil
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) stored() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// --- Search ---

// fakeEngine serves canned documents per query.
type fakeEngine struct {
	docs map[string][]WebDocument
	errs map[string]error
	// block makes Run wait until the search is cancelled.
	block   bool
	started chan struct{}

	mu      sync.Mutex
	runs    []int
	cancels int
}

func (e *fakeEngine) NewSearch(query string) Search {
	return &fakeSearch{engine: e, query: query, cancelled: make(chan struct{})}
}

func (e *fakeEngine) limits() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.runs)
}

func (e *fakeEngine) cancelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels
}

type fakeSearch struct {
	engine    *fakeEngine
	query     string
	once      sync.Once
	cancelled chan struct{}
}

func (s *fakeSearch) Run(_ context.Context, limit int, onProgress func(SearchProgress)) ([]WebDocument, error) {
	e := s.engine
	e.mu.Lock()
	e.runs = append(e.runs, limit)
	e.mu.Unlock()

	if e.started != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
	}
	onProgress(SearchProgress{EnginesCompleted: 1, EnginesTotal: 2, Fraction: 0.5})
	if e.block {
		<-s.cancelled
		return nil, errors.New("search cancelled")
	}
	if err := e.errs[s.query]; err != nil {
		return nil, err
	}
	docs := e.docs[s.query]
	onProgress(SearchProgress{EnginesCompleted: 2, EnginesTotal: 2, WebsitesFetched: len(docs), Fraction: 1})
	return docs, nil
}

func (s *fakeSearch) Cancel() {
	s.once.Do(func() {
		s.engine.mu.Lock()
		s.engine.cancels++
		s.engine.mu.Unlock()
		close(s.cancelled)
	})
}

// --- Tools ---

type mockTool struct{}

func (m mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (m mockTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "hello from " + name}, nil
}

type errTool struct{}

func (e errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}

func (e errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

type panicTool struct{}

func (panicTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "explode", Description: "Panics"}}
}

func (panicTool) Execute(context.Context, string, json.RawMessage) (ToolResult, error) {
	panic("kaboom")
}
