package tideline

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// roundResult is the output of one streamed completion.
type roundResult struct {
	messageID string
	content   string
	reasoning string
	toolCalls []ToolCall
}

func (r roundResult) empty() bool {
	return r.content == "" && r.reasoning == "" && len(r.toolCalls) == 0
}

// infer runs the inference rounds of a turn. Each round is trimmed to the
// chat model's context length and streamed into its own assistant message.
// Tool calls are executed and fed back until the model stops calling
// tools, a tool defers the round, or the round limit is reached; the last
// round is then sent without tools.
func (s *Session) infer(ctx context.Context, chat Model, history []ChatMessage, user ChatMessage, opts TurnOptions, toolsEnabled, gathered bool, sink func(InferenceMessage)) error {
	ctx, span := startSpan(ctx, s.cfg.tracer, "turn.inference", StringAttr("model", chat.ID))
	defer span.End()

	var tools []ToolDefinition
	webTool := false
	if toolsEnabled {
		tools = s.cfg.tools.AllDefinitions()
		if opts.Browsing && s.gatherer != nil {
			tools = append(tools, webSearchToolDefinition())
			webTool = true
		}
		toolsEnabled = len(tools) > 0
	}

	prompt := PromptOptions{
		IncludeRuntimeInfo: s.cfg.runtimeInfo,
		ModelName:          chat.Name,
		Now:                s.cfg.now(),
		Locale:             s.cfg.locale,
		MemoryContext:      s.memoryContext(ctx),
		Browsing:           opts.Browsing,
		Sensitivity:        s.cfg.sensitivity,
		ToolsEnabled:       toolsEnabled,
		MemoryToolsPrompt:  s.cfg.tools.MemoryPrompt(),
	}
	base := MoveSystemMessagesToFront(slices.Concat(history, AssemblePrompt(user, prompt)))

	var exchange []ChatMessage
	for round := 0; ; round++ {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		withTools := toolsEnabled && round < s.cfg.maxToolRounds
		req := ChatRequest{Messages: slices.Concat(base, exchange), Temperature: chat.Temperature}
		if withTools {
			req.Tools = tools
		}
		msgs, trimmed, err := Trim(req.Messages, req.Tools, chat.ContextLength, s.cfg.encoder)
		if err != nil {
			span.Error(err)
			return err
		}
		if trimmed {
			s.logger.Debug("request trimmed",
				"removed", len(req.Messages)-len(msgs),
				"estimated_tokens", EstimateTokens(msgs, req.Tools, s.cfg.encoder),
				"limit", chat.ContextLength)
		}
		req.Messages = msgs

		res, err := s.streamRound(ctx, chat, req, sink)
		s.finishRound(res, gathered)
		if err != nil {
			return err
		}
		span.Event("round", IntAttr("round", round), IntAttr("tool_calls", len(res.toolCalls)))
		if !withTools || len(res.toolCalls) == 0 {
			return nil
		}

		exchange = append(exchange, ChatMessage{Role: "assistant", Content: res.content, ToolCalls: res.toolCalls})
		deferred := false
		for _, tc := range res.toolCalls {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			s.logger.Info("tool call", "tool", tc.Name, "round", round)
			content, found := s.executeTool(ctx, tc, webTool)
			gathered = gathered || found
			exchange = append(exchange, ToolResultMessage(tc.ID, content))
			if s.cfg.tools.Capabilities(tc.Name)&CapDefersRound != 0 {
				deferred = true
			}
		}
		if deferred {
			return nil
		}
	}
}

// streamRound streams one completion into a lazily created assistant
// message. Reasoning starts the thinking clock; the first content stops it.
func (s *Session) streamRound(ctx context.Context, model Model, req ChatRequest, sink func(InferenceMessage)) (roundResult, error) {
	ch := make(chan StreamDelta, 64)
	type outcome struct {
		resp ChatResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := model.Provider.ChatStream(ctx, req, ch)
		done <- outcome{resp, err}
	}()

	var (
		res                roundResult
		content, reasoning strings.Builder
		revealErr          error
		pace               = pacer{interval: s.cfg.pacing}
	)
	ensure := func() {
		if res.messageID == "" {
			res.messageID = s.appendMessage(RoleAssistant, "").ID
		}
	}
	emit := func() {
		if sink != nil {
			sink(InferenceMessage{
				ReasoningContent: reasoning.String(),
				Content:          content.String(),
				ToolCallRequests: slices.Clone(res.toolCalls),
			})
		}
	}

	for delta := range ch {
		if revealErr != nil {
			continue
		}
		if delta.Reasoning != "" {
			ensure()
			s.startThinking(res.messageID)
			revealErr = pace.reveal(ctx, delta.Reasoning, func(chunk string) {
				reasoning.WriteString(chunk)
				text := reasoning.String()
				s.updateMessage(res.messageID, func(m *Message) { m.ReasoningContent = text })
				emit()
			})
		}
		if delta.Content != "" && revealErr == nil {
			ensure()
			s.stopThinking(res.messageID)
			revealErr = pace.reveal(ctx, delta.Content, func(chunk string) {
				content.WriteString(chunk)
				text := content.String()
				s.updateMessage(res.messageID, func(m *Message) { m.Document = text })
				emit()
			})
		}
		if len(delta.ToolCalls) > 0 {
			res.toolCalls = append(res.toolCalls, delta.ToolCalls...)
			emit()
		}
	}
	out := <-done

	res.content = content.String()
	res.reasoning = reasoning.String()
	if revealErr != nil || ctx.Err() != nil {
		return res, context.Cause(ctx)
	}

	if res.content == "" && out.resp.Content != "" {
		ensure()
		res.content = out.resp.Content
	}
	if res.reasoning == "" && out.resp.Reasoning != "" {
		ensure()
		res.reasoning = out.resp.Reasoning
	}
	if len(out.resp.ToolCalls) > 0 {
		res.toolCalls = out.resp.ToolCalls
	}
	if res.messageID != "" {
		content, reasoning := res.content, res.reasoning
		s.updateMessage(res.messageID, func(m *Message) {
			m.Document = content
			m.ReasoningContent = reasoning
		})
	}

	if res.empty() {
		return res, &InferenceError{Model: model.ID, Diagnostics: diagnostics(model.Provider), Err: out.err}
	}
	if out.err != nil {
		s.logger.Warn("stream ended with error after partial output", "model", model.ID, "error", out.err)
	}
	return res, nil
}

// finishRound stops the thinking clock of the round's message, fills an
// empty document and rewrites citations when web documents were gathered.
func (s *Session) finishRound(res roundResult, gathered bool) {
	if res.messageID == "" {
		return
	}
	s.stopThinking(res.messageID)
	var links map[int]string
	if gathered {
		links = s.citations.snapshot()
	}
	s.updateMessage(res.messageID, func(m *Message) {
		if len(links) > 0 && m.Document != "" {
			rewritten := RewriteCitations(m.Document, links)
			if rewritten != m.Document {
				s.logger.Debug("citations rewritten", "message_id", m.ID)
				m.Document = rewritten
			}
		}
		if strings.TrimSpace(m.Document) == "" {
			m.Document = EmptyMessagePlaceholder
		}
	})
}

// executeTool runs a tool call and returns the content sent back to the
// model. found reports that the built-in web search gathered documents.
func (s *Session) executeTool(ctx context.Context, tc ToolCall, webTool bool) (content string, found bool) {
	defer func() {
		if p := recover(); p != nil {
			content = fmt.Sprintf("error: tool %q panic: %v", tc.Name, p)
			found = false
		}
	}()
	if webTool && tc.Name == webSearchToolName {
		out, found, err := s.webSearchTool(ctx, tc.Args)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return out, found
	}
	res, err := s.cfg.tools.Execute(ctx, tc.Name, tc.Args)
	switch {
	case err != nil:
		return "error: " + err.Error(), false
	case res.Error != "":
		return "error: " + res.Error, false
	}
	return res.Content, false
}

func diagnostics(p Provider) string {
	if d, ok := p.(DiagnosticsReporter); ok {
		return d.Diagnostics()
	}
	return ""
}
