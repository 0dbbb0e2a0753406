package tideline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
)

// EmptyMessagePlaceholder replaces the document of a message that has
// reasoning but no content, and of messages edited to be empty.
const EmptyMessagePlaceholder = "Empty message."

// DefaultMaxToolRounds bounds the tool loop of a turn.
const DefaultMaxToolRounds = 8

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger        *slog.Logger
	tracer        Tracer
	defaults      ModelDefaults
	tools         *ToolRegistry
	memory        MemoryProvider
	memoryScope   MemoryScope
	engine        SearchEngine
	gatherOpts    []GatherOption
	sensitivity   SearchSensitivity
	basePrompt    string
	additional    string
	runtimeInfo   bool
	locale        language.Tag
	appName       string
	encoder       Encoder
	text          TextRecognizer
	code          CodeRecognizer
	documents     DocumentExtractor
	maxToolRounds int
	pacing        time.Duration
	collapse      bool
	now           func() time.Time
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// WithTracer enables the turn, turn.preprocess, turn.web_search and
// turn.inference spans.
func WithTracer(t Tracer) SessionOption {
	return func(c *sessionConfig) { c.tracer = t }
}

func WithModelDefaults(d ModelDefaults) SessionOption {
	return func(c *sessionConfig) { c.defaults = d }
}

func WithTools(r *ToolRegistry) SessionOption {
	return func(c *sessionConfig) { c.tools = r }
}

// WithMemory injects proactive memory context selected by scope into every
// turn.
func WithMemory(p MemoryProvider, scope MemoryScope) SessionOption {
	return func(c *sessionConfig) {
		c.memory = p
		c.memoryScope = scope
	}
}

// WithSearchEngine enables web search for turns with browsing set.
func WithSearchEngine(e SearchEngine, opts ...GatherOption) SessionOption {
	return func(c *sessionConfig) {
		c.engine = e
		c.gatherOpts = opts
	}
}

func WithSensitivity(s SearchSensitivity) SessionOption {
	return func(c *sessionConfig) { c.sensitivity = s }
}

// WithSystemPrompt sets the base prompt and the user's additional
// instructions, persisted as the first message of a new conversation.
func WithSystemPrompt(base, additional string) SessionOption {
	return func(c *sessionConfig) {
		c.basePrompt = base
		c.additional = additional
	}
}

// WithRuntimeInfo adds the model name, date and locale block.
func WithRuntimeInfo(enabled bool) SessionOption {
	return func(c *sessionConfig) { c.runtimeInfo = enabled }
}

func WithLocale(tag language.Tag) SessionOption {
	return func(c *sessionConfig) { c.locale = tag }
}

// WithAppName names the application in query generation requests.
func WithAppName(name string) SessionOption {
	return func(c *sessionConfig) { c.appName = name }
}

// WithEncoder sets the token encoder used for trimming. Defaults to
// HeuristicEncoder.
func WithEncoder(e Encoder) SessionOption {
	return func(c *sessionConfig) { c.encoder = e }
}

// WithRecognizers sets the OCR and QR collaborators of image description.
// Either may be nil.
func WithRecognizers(text TextRecognizer, code CodeRecognizer) SessionOption {
	return func(c *sessionConfig) {
		c.text = text
		c.code = code
	}
}

// WithDocumentExtractor extracts text attachments that carry raw document
// bytes, e.g. PDFs.
func WithDocumentExtractor(e DocumentExtractor) SessionOption {
	return func(c *sessionConfig) { c.documents = e }
}

func WithMaxToolRounds(n int) SessionOption {
	return func(c *sessionConfig) { c.maxToolRounds = n }
}

// WithPacing sets the delay between revealed stream slices. Zero disables
// pacing.
func WithPacing(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.pacing = d }
}

// WithCollapseReasoning sets IsThinkingFold once reasoning completes.
func WithCollapseReasoning(enabled bool) SessionOption {
	return func(c *sessionConfig) { c.collapse = enabled }
}

// WithClock overrides time.Now for prompts.
func WithClock(now func() time.Time) SessionOption {
	return func(c *sessionConfig) { c.now = now }
}

// Session owns the messages of one conversation and drives its turns.
// At most one turn runs at a time. Readers get snapshots through Messages
// and Subscribe.
type Session struct {
	store     Store
	registry  *ModelRegistry
	cfg       sessionConfig
	logger    *slog.Logger
	gatherer  *Gatherer
	citations *citationIndex

	// opMu serializes Submit and the message operations that cancel the
	// running turn first.
	opMu sync.Mutex

	mu          sync.Mutex
	conv        Conversation
	messages    []Message
	attachments map[string][]Attachment
	models      Models
	thinking    map[string]time.Time
	dirty       map[string]bool
	turn        *Turn
	subs        map[int]chan []Message
	nextSub     int
}

// NewSession loads conversationID from store and resolves its models.
func NewSession(ctx context.Context, store Store, registry *ModelRegistry, conversationID string, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		logger:        nopLogger,
		sensitivity:   SensitivityBalanced,
		locale:        language.AmericanEnglish,
		encoder:       HeuristicEncoder{},
		maxToolRounds: DefaultMaxToolRounds,
		pacing:        DefaultPacing,
		now:           time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	conv, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	s := &Session{
		store:       store,
		registry:    registry,
		cfg:         cfg,
		logger:      cfg.logger.With("conversation_id", conversationID),
		citations:   newCitationIndex(),
		conv:        conv,
		attachments: make(map[string][]Attachment),
		thinking:    make(map[string]time.Time),
		dirty:       make(map[string]bool),
		subs:        make(map[int]chan []Message),
	}
	if cfg.engine != nil {
		gopts := append([]GatherOption{WithGatherLogger(s.logger)}, cfg.gatherOpts...)
		s.gatherer = NewGatherer(cfg.engine, gopts...)
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	s.UpdateModels()
	return s, nil
}

// ID returns the conversation ID.
func (s *Session) ID() string { return s.conv.ID }

// Conversation returns a copy of the conversation record.
func (s *Session) Conversation() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Models returns the models selected for the next turn.
func (s *Session) Models() Models {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models
}

// UpdateModels re-resolves the session models from the conversation
// overrides, the current selection and the defaults.
func (s *Session) UpdateModels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = ResolveModels(s.models, s.conv, s.cfg.defaults)
}

// Messages returns a snapshot of the conversation's messages.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Attachments returns a copy of the attachments of a message.
func (s *Session) Attachments(messageID string) []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attachments[messageID])
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow readers only see the latest snapshot. Call the returned function to
// unsubscribe.
func (s *Session) Subscribe() (<-chan []Message, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []Message, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Refresh cancels the running turn and reloads messages and attachments
// from the store.
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()
	return s.reload(ctx)
}

func (s *Session) reload(ctx context.Context) error {
	msgs, err := s.store.ListMessages(ctx, s.conv.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	atts := make(map[string][]Attachment)
	for i := range msgs {
		m := &msgs[i]
		list, err := s.store.ListAttachments(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("list attachments of %s: %w", m.ID, err)
		}
		if len(list) > 0 {
			atts[m.ID] = list
		}
		if m.ReasoningContent != "" && strings.TrimSpace(m.Document) == "" {
			m.Document = EmptyMessagePlaceholder
			if err := s.store.PutMessage(ctx, *m); err != nil {
				return fmt.Errorf("update message %s: %w", m.ID, err)
			}
		}
	}
	s.mu.Lock()
	s.messages = msgs
	s.attachments = atts
	s.thinking = make(map[string]time.Time)
	s.dirty = make(map[string]bool)
	s.mu.Unlock()
	s.citations.reset()
	s.notify()
	return nil
}

// DeleteMessage cancels the running turn, then deletes the message and the
// web search messages adjacent to it.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()
	return s.deleteMessages(ctx, s.supplementOf(id))
}

// DeleteFrom cancels the running turn, then deletes the message and every
// message after it.
func (s *Session) DeleteFrom(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()
	return s.deleteFrom(ctx, id)
}

func (s *Session) deleteFrom(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	var ids []string
	if i >= 0 {
		for _, m := range s.messages[i:] {
			ids = append(ids, m.ID)
		}
	}
	s.mu.Unlock()
	return s.deleteMessages(ctx, ids)
}

// supplementOf returns id plus the contiguous webSearch messages on either
// side of it.
func (s *Session) supplementOf(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	ids := []string{id}
	for j := i - 1; j >= 0 && s.messages[j].Role == RoleWebSearch; j-- {
		ids = append(ids, s.messages[j].ID)
	}
	for j := i + 1; j < len(s.messages) && s.messages[j].Role == RoleWebSearch; j++ {
		ids = append(ids, s.messages[j].ID)
	}
	return ids
}

func (s *Session) deleteMessages(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.store.DeleteMessage(ctx, id); err != nil {
			return fmt.Errorf("delete message %s: %w", id, err)
		}
	}
	s.mu.Lock()
	s.messages = slices.DeleteFunc(s.messages, func(m Message) bool { return slices.Contains(ids, m.ID) })
	for _, id := range ids {
		delete(s.attachments, id)
		delete(s.thinking, id)
		delete(s.dirty, id)
	}
	s.mu.Unlock()
	if len(ids) > 0 {
		s.logger.Debug("messages deleted", "count", len(ids))
	}
	s.notify()
	return nil
}

// EditMessage cancels the running turn and replaces the document of a
// message. Empty text becomes EmptyMessagePlaceholder.
func (s *Session) EditMessage(ctx context.Context, id, text string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()

	if strings.TrimSpace(text) == "" {
		text = EmptyMessagePlaceholder
	}
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", id)
	}
	s.messages[i].Document = text
	msg := s.messages[i]
	s.mu.Unlock()

	if err := s.store.PutMessage(ctx, msg); err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	s.notify()
	return nil
}

// Retry finds the nearest user message at or before id, deletes it and
// everything after it, and submits its text and attachments again.
func (s *Session) Retry(ctx context.Context, id string, opts TurnOptions, sink func(InferenceMessage)) (*Turn, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()

	s.mu.Lock()
	user, ok := s.nearestUserMessage(id)
	atts := slices.Clone(s.attachments[user.ID])
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no user message at or before %s", id)
	}
	if err := s.deleteFrom(ctx, user.ID); err != nil {
		return nil, err
	}
	for i := range atts {
		atts[i].ID = ""
		atts[i].MessageID = ""
	}
	// Web documents gathered for the old turn are gathered again.
	atts = slices.DeleteFunc(atts, isWebDocument)
	return s.submit(ctx, TurnInput{Text: user.Document, Attachments: atts, Options: opts}, sink), nil
}

// nearestUserMessage must be called with s.mu held.
func (s *Session) nearestUserMessage(id string) (Message, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	for j := i; j >= 0; j-- {
		if s.messages[j].Role == RoleUser {
			return s.messages[j], true
		}
	}
	return Message{}, false
}

// --- message state ---

// indexOf must be called with s.mu held.
func (s *Session) indexOf(id string) int {
	return slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
}

// appendMessage adds a message to the in-memory list and marks it dirty.
func (s *Session) appendMessage(role Role, document string) Message {
	m := Message{
		ID:             NewID(),
		ConversationID: s.conv.ID,
		Role:           role,
		Document:       document,
		CreatedAt:      NowMilli(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.dirty[m.ID] = true
	s.mu.Unlock()
	s.notify()
	return m
}

// updateMessage applies fn to the message with id and marks it dirty.
func (s *Session) updateMessage(id string, fn func(*Message)) {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		fn(&s.messages[i])
		s.dirty[id] = true
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i], true
	}
	return Message{}, false
}

// flush persists dirty messages. It runs detached from ctx cancellation so
// partial output survives an aborted turn.
func (s *Session) flush(ctx context.Context) error {
	s.mu.Lock()
	var pending []Message
	for _, m := range s.messages {
		if s.dirty[m.ID] {
			pending = append(pending, m)
		}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, m := range pending {
		if err := s.store.PutMessage(ctx, m); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	return nil
}

// setAttachments replaces the attachments of a message in memory and, when
// persist is set, in the store.
func (s *Session) setAttachments(ctx context.Context, messageID string, atts []Attachment, persist bool) error {
	for i := range atts {
		if atts[i].ID == "" {
			atts[i].ID = NewID()
		}
		atts[i].MessageID = messageID
	}
	s.mu.Lock()
	s.attachments[messageID] = slices.Clone(atts)
	s.mu.Unlock()
	if !persist {
		return nil
	}
	if err := s.store.PutAttachments(context.WithoutCancel(ctx), messageID, atts); err != nil {
		return fmt.Errorf("save attachments of %s: %w", messageID, err)
	}
	return nil
}

// startThinking records when reasoning began for a message. Repeated calls
// keep the first timestamp.
func (s *Session) startThinking(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.thinking[id]; !ok {
		s.thinking[id] = time.Now()
	}
}

// stopThinking adds the elapsed reasoning time to the message.
func (s *Session) stopThinking(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopThinkingLocked(id)
}

func (s *Session) stopThinkingLocked(id string) {
	start, ok := s.thinking[id]
	if !ok {
		return
	}
	delete(s.thinking, id)
	if i := s.indexOf(id); i >= 0 {
		s.messages[i].ThinkingDuration += time.Since(start)
		if s.cfg.collapse {
			s.messages[i].IsThinkingFold = true
		}
		s.dirty[id] = true
	}
}

func (s *Session) stopThinkingForAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.thinking {
		s.stopThinkingLocked(id)
	}
}

// notify sends a snapshot to every subscriber, replacing any snapshot the
// subscriber has not read yet.
func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	snap := slices.Clone(s.messages)
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
