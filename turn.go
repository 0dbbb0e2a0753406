package tideline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Turn is a running conversation turn.
type Turn struct {
	done   chan struct{}
	cancel context.CancelCauseFunc
	err    error
}

// Done is closed when the turn has finished and its partial output has
// been persisted.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes. A cancelled turn returns
// ErrUserCancelled.
func (t *Turn) Wait() error {
	<-t.done
	return t.err
}

// Cancel requests cooperative cancellation. It does not wait.
func (t *Turn) Cancel() { t.cancel(ErrUserCancelled) }

// Submit cancels the running turn, waits for it to drain, then starts a new
// turn for in. sink, if non-nil, receives the cumulative assistant output
// while it streams; it is called from the turn's goroutine.
func (s *Session) Submit(ctx context.Context, in TurnInput, sink func(InferenceMessage)) *Turn {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()
	return s.submit(ctx, in, sink)
}

func (s *Session) submit(ctx context.Context, in TurnInput, sink func(InferenceMessage)) *Turn {
	s.UpdateModels()
	ctx, cancel := context.WithCancelCause(ctx)
	t := &Turn{done: make(chan struct{}), cancel: cancel}
	s.mu.Lock()
	s.turn = t
	s.mu.Unlock()
	go s.run(ctx, t, in, sink)
	return t
}

// Cancel requests cancellation of the running turn, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	t := s.turn
	s.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// CancelAndWait cancels the running turn and returns once it has drained.
func (s *Session) CancelAndWait() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait()
}

func (s *Session) cancelAndWait() {
	s.mu.Lock()
	t := s.turn
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.Cancel()
	<-t.done
}

func (s *Session) run(ctx context.Context, t *Turn, in TurnInput, sink func(InferenceMessage)) {
	ctx, span := startSpan(ctx, s.cfg.tracer, "turn",
		StringAttr("conversation_id", s.conv.ID),
		BoolAttr("browsing", in.Options.Browsing),
		BoolAttr("tools", in.Options.Tools),
		IntAttr("attachments", len(in.Attachments)))
	start := time.Now()
	s.logger.Info("turn started", "browsing", in.Options.Browsing, "tools", in.Options.Tools, "attachments", len(in.Attachments))

	err := s.execute(ctx, in, sink)
	s.stopThinkingForAll()
	if ferr := s.flush(ctx); ferr != nil && err == nil {
		err = ferr
	}
	if ctx.Err() != nil && err != nil {
		err = context.Cause(ctx)
	}

	switch {
	case err == nil:
		s.logger.Info("turn completed", "duration", time.Since(start))
	case errors.Is(err, ErrUserCancelled):
		s.logger.Info("turn cancelled", "duration", time.Since(start))
		span.Event("cancelled")
	default:
		s.logger.Error("turn failed", "error", err, "duration", time.Since(start))
		span.Error(err)
	}
	span.End()

	s.mu.Lock()
	if s.turn == t {
		s.turn = nil
	}
	s.mu.Unlock()
	t.err = err
	t.cancel(nil)
	close(t.done)
}

// execute is the turn pipeline: user message, attachment preprocessing,
// web search, inference with the tool loop, then the title.
func (s *Session) execute(ctx context.Context, in TurnInput, sink func(InferenceMessage)) error {
	models := s.Models()
	chat, ok := s.registry.Lookup(models.Chat)
	if !ok {
		return fmt.Errorf("chat model %q is not registered", models.Chat)
	}
	toolsEnabled := in.Options.Tools && chat.Capabilities.Has(CapTools)

	if err := s.prepareSystemPrompt(ctx); err != nil {
		return err
	}
	prior := s.Messages()

	persist := !in.Options.Ephemeral
	var userID string
	if persist {
		userID = s.appendMessage(RoleUser, in.Text).ID
		if err := s.flush(ctx); err != nil {
			return err
		}
	}

	atts := slices.Clone(in.Attachments)
	if err := s.preprocess(ctx, atts, chat, models); err != nil {
		return err
	}

	gathered := false
	if in.Options.Browsing && !toolsEnabled {
		if s.gatherer == nil {
			s.logger.Warn("browsing requested without a search engine")
		} else {
			docs, err := s.searchBeforeInference(ctx, in.Text, atts, prior)
			if err != nil {
				return err
			}
			atts = append(atts, s.webAttachments(docs)...)
			gathered = len(docs) > 0
		}
	}
	if userID != "" && len(atts) > 0 {
		if err := s.setAttachments(ctx, userID, atts, true); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	visual := chat.Capabilities.Has(CapVisual)
	user := renderUserMessage(in.Text, atts, visual)
	if err := s.infer(ctx, chat, s.historyMessages(prior, visual), user, in.Options, toolsEnabled, gathered, sink); err != nil {
		return err
	}
	s.autoRename(ctx, models)
	return nil
}

// prepareSystemPrompt persists the base prompt as the first message of an
// empty conversation.
func (s *Session) prepareSystemPrompt(ctx context.Context) error {
	prompt := BasePrompt(s.cfg.basePrompt, s.cfg.additional)
	s.mu.Lock()
	empty := len(s.messages) == 0
	s.mu.Unlock()
	if !empty || prompt == "" {
		return nil
	}
	s.appendMessage(RoleSystem, prompt)
	return s.flush(ctx)
}

// preprocess extracts document text and describes images without text.
// atts is updated in place.
func (s *Session) preprocess(ctx context.Context, atts []Attachment, chat Model, models Models) error {
	if len(atts) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, s.cfg.tracer, "turn.preprocess", IntAttr("attachments", len(atts)))
	defer span.End()

	if s.cfg.documents != nil {
		for i := range atts {
			if !needsExtraction(atts[i]) {
				continue
			}
			text, err := s.cfg.documents.Extract(atts[i].RawData)
			if err != nil {
				s.logger.Warn("document extraction failed", "attachment", atts[i].Name, "error", err)
				continue
			}
			atts[i].TextRepresentation = text
		}
	}

	var pending []int
	for i, a := range atts {
		if needsDescription(a) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if chat.Capabilities.Has(CapVisual) && s.cfg.defaults.SkipVisualIfPossible {
		s.logger.Info("skipping image description", "images", len(pending), "model", chat.ID)
		return nil
	}

	var visual Provider
	if m, ok := s.registry.Lookup(models.VisualAuxiliary); ok && m.Capabilities.Has(CapVisual) {
		visual = m.Provider
	}
	describer := NewImageDescriber(visual,
		WithTextRecognizer(s.cfg.text),
		WithCodeRecognizer(s.cfg.code),
		WithDescriberLogger(s.logger))

	for n, i := range pending {
		s.logger.Info("describing image", "index", n+1, "total", len(pending))
		data := atts[i].ImageRepresentation
		if len(data) == 0 {
			data = atts[i].PreviewImage
		}
		var msgID string
		text, err := describer.Describe(ctx, data, func(out string) {
			if msgID == "" {
				msgID = s.appendMessage(RoleAssistant, "").ID
				s.startThinking(msgID)
			}
			s.updateMessage(msgID, func(m *Message) { m.ReasoningContent = out })
		})
		if msgID != "" {
			s.stopThinking(msgID)
			s.updateMessage(msgID, func(m *Message) { m.Document = ImageRecognizedPlaceholder })
		}
		if err != nil {
			return err
		}
		atts[i].TextRepresentation = text
	}
	span.SetAttr(IntAttr("images_described", len(pending)))
	return s.flush(ctx)
}

// historyMessages replays persisted messages as request messages. webSearch
// rows are not sent.
func (s *Session) historyMessages(prior []Message, visual bool) []ChatMessage {
	var out []ChatMessage
	for _, m := range prior {
		switch m.Role {
		case RoleSystem:
			out = append(out, SystemMessage(m.Document))
		case RoleUser:
			out = append(out, renderUserMessage(m.Document, s.Attachments(m.ID), visual))
		case RoleAssistant:
			out = append(out, AssistantMessage(m.Document))
		}
	}
	return out
}

// renderUserMessage appends attachment text to the user's text. Images
// become image parts when the chat model is visual.
func renderUserMessage(text string, atts []Attachment, visual bool) ChatMessage {
	body := []string{text}
	var images []ContentPart
	for _, a := range atts {
		if a.Type == AttachmentImage && visual {
			if url, ok := imageDataURL(a); ok {
				images = append(images, ImagePart(url))
				continue
			}
		}
		if t := strings.TrimSpace(a.TextRepresentation); t != "" {
			body = append(body, fmt.Sprintf("[Attachment: %s]\n%s", a.Name, t))
		}
	}
	content := strings.Join(body, "\n\n")
	if len(images) == 0 {
		return UserMessage(content)
	}
	return UserParts(append([]ContentPart{TextPart(content)}, images...)...)
}

func imageDataURL(a Attachment) (string, bool) {
	data := a.ImageRepresentation
	if len(data) == 0 {
		data = a.PreviewImage
	}
	if len(data) == 0 {
		return "", false
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", false
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), true
}

// memoryContext returns the proactive memory block, or "" when memory is
// off or unavailable.
func (s *Session) memoryContext(ctx context.Context) string {
	scope := s.cfg.memoryScope
	if s.cfg.memory == nil || scope.Filter == "" || scope.Filter == MemoryOff {
		return ""
	}
	text, err := s.cfg.memory.FormattedProactiveContext(ctx, scope)
	if err != nil {
		s.logger.Warn("proactive memory unavailable", "error", err)
		return ""
	}
	return text
}

// autoRename titles the conversation after a successful turn when
// ShouldAutoRename is set. Failures are logged.
func (s *Session) autoRename(ctx context.Context, models Models) {
	conv := s.Conversation()
	if !conv.ShouldAutoRename {
		return
	}
	aux, ok := s.registry.Lookup(models.Auxiliary)
	if !ok {
		s.logger.Debug("auto rename skipped: no auxiliary model", "model", models.Auxiliary)
		return
	}
	lastUser, lastAssistant := s.lastExchange()
	if lastUser == "" || lastAssistant == "" {
		return
	}

	title, err := GenerateTitle(ctx, aux.Provider, lastUser, lastAssistant)
	if err != nil || title == "" {
		s.logger.Warn("title generation failed", "error", err)
		return
	}
	conv.Title = title
	conv.ShouldAutoRename = false
	if conv.Icon == "" {
		icon, err := GenerateIcon(ctx, aux.Provider, lastUser, lastAssistant)
		if err != nil {
			s.logger.Warn("icon generation failed", "error", err)
		} else {
			conv.Icon = icon
		}
	}
	if err := s.store.UpdateConversation(context.WithoutCancel(ctx), conv); err != nil {
		s.logger.Warn("saving conversation title failed", "error", err)
		return
	}
	s.mu.Lock()
	s.conv.Title = conv.Title
	s.conv.Icon = conv.Icon
	s.conv.ShouldAutoRename = false
	s.mu.Unlock()
	s.logger.Info("conversation renamed", "title", conv.Title)
}

// Rename sets the conversation title and turns auto rename off.
func (s *Session) Rename(ctx context.Context, title string) error {
	conv := s.Conversation()
	conv.Title = title
	conv.ShouldAutoRename = false
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	s.mu.Lock()
	s.conv.Title = title
	s.conv.ShouldAutoRename = false
	s.mu.Unlock()
	return nil
}

// lastExchange returns the documents of the last user and assistant
// messages.
func (s *Session) lastExchange() (user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0 && (user == "" || assistant == ""); i-- {
		m := s.messages[i]
		switch {
		case m.Role == RoleUser && user == "":
			user = m.Document
		case m.Role == RoleAssistant && assistant == "":
			assistant = m.Document
		}
	}
	return user, assistant
}
