package tideline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	webSearchToolName        = "web_search"
	noToolResultsMessage     = "No web search results were found for this query."
	webSearchToolSchema      = `{"type":"object","properties":{"query":{"type":"string","description":"The search query to look for on the web. Should be clear and specific to get the best results."}},"required":["query"],"additionalProperties":false}`
	webSearchToolDescription = "Searches the web for current information based on the provided query. This tool can help find up-to-date information, news, facts, or any other content available on the internet."
)

func webSearchToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        webSearchToolName,
		Description: webSearchToolDescription,
		Parameters:  json.RawMessage(webSearchToolSchema),
	}
}

// searchBeforeInference plans queries with the auxiliary model and gathers
// their documents. A plan that needs no search, or yields no usable
// queries, leaves an assistant notice and returns no documents.
func (s *Session) searchBeforeInference(ctx context.Context, text string, atts []Attachment, prior []Message) ([]WebDocument, error) {
	ctx, span := startSpan(ctx, s.cfg.tracer, "turn.web_search")
	defer span.End()

	plan := s.planQueries(ctx, text, atts, prior)
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	span.SetAttr(IntAttr("queries", len(plan.Queries)))
	switch {
	case plan.NotRequired():
		s.logger.Info("web search not required")
		s.appendMessage(RoleAssistant, noSearchNeededMessage)
		return nil, s.flush(ctx)
	case len(plan.Queries) == 0:
		s.logger.Info("no usable web search queries")
		s.appendMessage(RoleAssistant, noQueriesMessage)
		return nil, s.flush(ctx)
	}

	docs, err := s.gatherWithStatus(ctx, plan.Queries)
	if err != nil {
		span.Error(err)
		return nil, err
	}
	span.SetAttr(IntAttr("results", len(docs)))
	return docs, nil
}

// planQueries asks the auxiliary model for a query plan. Failures other
// than cancellation yield an empty plan.
func (s *Session) planQueries(ctx context.Context, text string, atts []Attachment, prior []Message) QueryPlan {
	models := s.Models()
	aux, ok := s.registry.Lookup(models.Auxiliary)
	if !ok {
		s.logger.Warn("query generation skipped: no auxiliary model", "model", models.Auxiliary)
		return QueryPlan{}
	}
	req := QueryRequest{
		UserInput:        text,
		Attachments:      attachmentTexts(atts),
		PreviousMessages: previousMessages(prior),
		Sensitivity:      s.cfg.sensitivity,
		AdditionalPrompt: s.cfg.additional,
		AppName:          s.cfg.appName,
		Now:              s.cfg.now(),
		Locale:           s.cfg.locale,
	}
	plan, err := GenerateQueries(ctx, aux.Provider, req)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("query generation failed", "model", aux.ID, "error", err)
		}
		return QueryPlan{}
	}
	for _, q := range plan.Queries {
		s.logger.Debug("web search query", "query", q)
	}
	return plan
}

// gatherWithStatus runs queries while a webSearch message tracks their
// progress. The status ends at progress 0, or -1 with ErrNoSearchResults
// when nothing was gathered.
func (s *Session) gatherWithStatus(ctx context.Context, queries []string) ([]WebDocument, error) {
	msg := s.appendMessage(RoleWebSearch, strings.Join(queries, "\n"))
	s.updateMessage(msg.ID, func(m *Message) {
		m.WebSearchStatus.Queries = queries
		m.WebSearchStatus.NumberOfQueries = len(queries)
	})
	if err := s.flush(ctx); err != nil {
		return nil, err
	}

	phases := make(chan WebSearchPhase, 8)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ph := range phases {
			s.updateMessage(msg.ID, func(m *Message) { applyPhase(&m.WebSearchStatus, ph) })
		}
	}()
	docs, err := s.gatherer.Gather(ctx, queries, phases)
	<-consumed
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, SearchResult{Title: d.Title, URL: d.URL})
	}
	s.updateMessage(msg.ID, func(m *Message) {
		st := &m.WebSearchStatus
		st.SearchResults = results
		st.NumberOfResults = len(docs)
		st.ProcessProgress = 0
		if len(docs) == 0 {
			st.ProcessProgress = -1
		}
	})
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoSearchResults
	}
	s.logger.Info("web search finished", "queries", len(queries), "results", len(docs))
	return docs, nil
}

func applyPhase(st *WebSearchStatus, ph WebSearchPhase) {
	st.CurrentQuery = ph.Query
	st.CurrentQueryBeginDate = ph.QueryBeginDate
	st.NumberOfQueries = ph.NumberOfQueries
	st.CurrentSource = ph.CurrentSource
	st.NumberOfSource = ph.NumberOfSource
	st.NumberOfWebsites = ph.NumberOfWebsites
	st.NumberOfResults = ph.NumberOfResults
	st.ProcessProgress = ph.Progress
}

// webSuffixPrefix marks the storage suffix of attachments built from
// gathered web documents.
const webSuffixPrefix = "web-"

func isWebDocument(a Attachment) bool {
	return a.Type == AttachmentText && strings.HasPrefix(a.StorageSuffix, webSuffixPrefix)
}

// webAttachments wraps documents in their web archive envelopes, numbered
// by the session's citation index.
func (s *Session) webAttachments(docs []WebDocument) []Attachment {
	out := make([]Attachment, 0, len(docs))
	for _, d := range docs {
		out = append(out, Attachment{
			Type:               AttachmentText,
			Name:               d.Title,
			TextRepresentation: FormatWebArchive(d, s.citations.index(d.URL)),
			StorageSuffix:      webSuffixPrefix + NewID(),
		})
	}
	return out
}

// webSearchTool runs the built-in web_search tool. found reports whether
// documents were gathered.
func (s *Session) webSearchTool(ctx context.Context, args json.RawMessage) (out string, found bool, err error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", false, fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", false, errors.New("query is required")
	}
	docs, err := s.gatherWithStatus(ctx, []string{query})
	switch {
	case errors.Is(err, ErrNoSearchResults):
		return noToolResultsMessage, false, nil
	case err != nil:
		return "", false, err
	}
	envelopes := make([]string, 0, len(docs))
	for _, d := range docs {
		envelopes = append(envelopes, FormatWebArchive(d, s.citations.index(d.URL)))
	}
	return strings.Join(envelopes, "\n"), true, nil
}

// attachmentTexts renders attachments with text for the query generator.
func attachmentTexts(atts []Attachment) []string {
	var out []string
	for _, a := range atts {
		if a.TextRepresentation == "" {
			continue
		}
		out = append(out, fmt.Sprintf("Document: %s\nContent: %s", a.Name, a.TextRepresentation))
	}
	return out
}

// previousMessages renders the last few user and assistant messages for
// the query generator.
func previousMessages(prior []Message) []string {
	var out []string
	for _, m := range prior {
		if m.Document == "" {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, "[User]: "+m.Document)
		case RoleAssistant:
			out = append(out, "[Assistant]: "+m.Document)
		}
	}
	if len(out) > previousMessagesInQuery {
		out = out[len(out)-previousMessagesInQuery:]
	}
	return out
}
