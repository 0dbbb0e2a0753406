package tideline

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxSearchQueries caps the number of generated queries per turn.
	MaxSearchQueries = 3
	minQueryLength   = 2
	maxQueryLength   = 25

	// DefaultResultBudget is the total number of documents gathered per
	// turn, split across queries.
	DefaultResultBudget = 10

	queryMaxTokens = 256

	noSearchNeededMessage   = "I have determined that no web search is needed for this query."
	noQueriesMessage        = "I was unable to generate appropriate search queries for this request."
	webArchiveNoteFormat    = "This document is provided by system or tool call, please cite the id with [^%d] format if used."
	previousMessagesInQuery = 5
)

// WebDocument is a fetched page returned by a Search.
type WebDocument struct {
	Title string
	URL   string
	Text  string
}

// SearchProgress is reported by a Search while it runs.
type SearchProgress struct {
	EnginesCompleted int
	EnginesTotal     int
	WebsitesFetched  int
	Fraction         float64 // overall completion in [0, 1]
}

// SearchEngine starts searches. tools/search provides a Brave-backed engine.
type SearchEngine interface {
	NewSearch(query string) Search
}

// Search is a single query run against the web. Run blocks until at most
// limit documents are gathered. onProgress may be called from any
// goroutine. Cancel aborts in-flight network work and makes Run return.
type Search interface {
	Run(ctx context.Context, limit int, onProgress func(SearchProgress)) ([]WebDocument, error)
	Cancel()
}

// WebSearchPhase is a progress snapshot emitted while gathering.
type WebSearchPhase struct {
	Query            int
	QueryBeginDate   time.Time
	NumberOfQueries  int
	CurrentSource    int
	NumberOfSource   int
	NumberOfWebsites int
	NumberOfResults  int
	Progress         float64
}

// --- Query generation ---

// QueryPlan is the query generator's decision. Required is nil when the
// model gave no explicit signal.
type QueryPlan struct {
	Queries  []string
	Required *bool
}

// NotRequired reports an explicit "no search needed" decision.
func (p QueryPlan) NotRequired() bool {
	return p.Required != nil && !*p.Required
}

// QueryRequest is the input of the query generator.
type QueryRequest struct {
	UserInput        string
	Attachments      []string // "Document: <name>\nContent: <text>"
	PreviousMessages []string // "[User]: ..." / "[Assistant]: ..."
	Sensitivity      SearchSensitivity
	AdditionalPrompt string
	AppName          string
	Now              time.Time
	Locale           language.Tag
}

type indexedText struct {
	ID      int    `xml:"id,attr"`
	Content string `xml:",chardata"`
}

type documentList struct {
	Documents []indexedText `xml:"document"`
}

type messageList struct {
	Messages []indexedText `xml:"message"`
}

// Empty sections stay nil so their elements are not rendered.
type webSearchRequest struct {
	XMLName           xml.Name      `xml:"web_search_request"`
	Task              string        `xml:"task"`
	UserInput         string        `xml:"user_input"`
	AttachedDocuments *documentList `xml:"attached_documents,omitempty"`
	PreviousMessages  *messageList  `xml:"previous_messages,omitempty"`
}

// BuildQueryMessages renders the system and user messages sent to the
// auxiliary model to plan a web search.
func BuildQueryMessages(req QueryRequest) ([]ChatMessage, error) {
	task := req.Sensitivity.PromptTemplate()
	body := webSearchRequest{Task: task, UserInput: req.UserInput}
	if len(req.Attachments) > 0 {
		body.AttachedDocuments = &documentList{}
		for i, d := range req.Attachments {
			body.AttachedDocuments.Documents = append(body.AttachedDocuments.Documents, indexedText{ID: i, Content: d})
		}
	}
	if len(req.PreviousMessages) > 0 {
		body.PreviousMessages = &messageList{}
		for i, m := range req.PreviousMessages {
			body.PreviousMessages.Messages = append(body.PreviousMessages.Messages, indexedText{ID: i, Content: m})
		}
	}
	data, err := xml.MarshalIndent(body, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode web search request: %w", err)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	appName := req.AppName
	if appName == "" {
		appName = "unknown AI app"
	}
	system := fmt.Sprintf(`%s

Current date and time: %s
Current locale: %s
Application name: %s

Additional User Request: %s

Important: Consider all provided context including conversation history and attached documents when determining if web search is needed and what queries to generate.`,
		task, now.Format(runtimeInfoDateLayout), req.Locale.String(), appName, req.AdditionalPrompt)

	return []ChatMessage{SystemMessage(system), UserMessage(string(data))}, nil
}

// GenerateQueries asks p to plan a web search for req. Provider failures
// are returned; the caller decides whether to downgrade them.
func GenerateQueries(ctx context.Context, p Provider, req QueryRequest) (QueryPlan, error) {
	msgs, err := BuildQueryMessages(req)
	if err != nil {
		return QueryPlan{}, err
	}
	resp, err := p.Chat(ctx, ChatRequest{Messages: msgs, MaxTokens: queryMaxTokens})
	if err != nil {
		return QueryPlan{}, fmt.Errorf("generate search queries: %w", err)
	}
	return ParseQueryResponse(resp.Content), nil
}

var (
	searchRequiredPattern = regexp.MustCompile(`(?is)<search_required>(.*?)</search_required>`)
	queriesPattern        = regexp.MustCompile(`(?is)<queries>(.*?)</queries>`)
	queryPattern          = regexp.MustCompile(`(?is)<query>(.*?)</query>`)
)

type webSearchResponse struct {
	SearchRequired *string `xml:"search_required"`
	Queries        *struct {
		Query []string `xml:"query"`
	} `xml:"queries"`
}

// ParseQueryResponse extracts a QueryPlan from model output. It tries a
// strict XML decode, then tag patterns, and finally treats each line of the
// answer as a query. The result is validated with ValidateQueries.
func ParseQueryResponse(content string) QueryPlan {
	content = StripReasoning(content)
	plan, ok := decodeQueryResponse(content)
	if !ok {
		plan, ok = matchQueryResponse(content)
	}
	if !ok || (len(plan.Queries) == 0 && !plan.NotRequired()) {
		plan.Queries = splitQueryLines(content)
	}
	plan.Queries = ValidateQueries(plan.Queries)
	if len(plan.Queries) > 0 && plan.NotRequired() {
		plan.Required = boolPtr(true)
	}
	return plan
}

func decodeQueryResponse(s string) (QueryPlan, bool) {
	if !strings.HasPrefix(s, "<") {
		return QueryPlan{}, false
	}
	var resp webSearchResponse
	if err := xml.Unmarshal([]byte(s), &resp); err != nil {
		return QueryPlan{}, false
	}
	if resp.SearchRequired == nil && resp.Queries == nil {
		return QueryPlan{}, false
	}
	var plan QueryPlan
	if resp.SearchRequired != nil {
		plan.Required = boolPtr(parseRequired(*resp.SearchRequired))
	}
	if resp.Queries != nil {
		plan.Queries = trimNonEmpty(resp.Queries.Query)
	}
	return plan, true
}

func matchQueryResponse(s string) (QueryPlan, bool) {
	var plan QueryPlan
	if m := searchRequiredPattern.FindStringSubmatch(s); m != nil {
		plan.Required = boolPtr(parseRequired(m[1]))
	}
	m := queriesPattern.FindStringSubmatch(s)
	if m == nil {
		return plan, plan.Required != nil
	}
	var qs []string
	for _, q := range queryPattern.FindAllStringSubmatch(m[1], -1) {
		qs = append(qs, q[1])
	}
	plan.Queries = trimNonEmpty(qs)
	return plan, true
}

// splitQueryLines treats each non-markup line of s as a query.
func splitQueryLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseRequired(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0":
		return false
	}
	return true
}

// ValidateQueries keeps queries of 2 to 25 characters (after NFC
// normalization) and caps the list at MaxSearchQueries.
func ValidateQueries(queries []string) []string {
	var out []string
	for _, q := range queries {
		q = norm.NFC.String(strings.TrimSpace(q))
		n := utf8.RuneCountInString(q)
		if n < minQueryLength || n > maxQueryLength {
			continue
		}
		out = append(out, q)
		if len(out) == MaxSearchQueries {
			break
		}
	}
	return out
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

// --- Content gathering ---

// GatherOption configures a Gatherer.
type GatherOption func(*Gatherer)

// WithResultBudget sets the total number of documents requested across all
// queries (default DefaultResultBudget).
func WithResultBudget(n int) GatherOption {
	return func(g *Gatherer) { g.budget = n }
}

// WithShuffleSource sets the random source used to shuffle results.
func WithShuffleSource(r *rand.Rand) GatherOption {
	return func(g *Gatherer) { g.rand = r }
}

// WithGatherLogger sets the logger for gathering events.
func WithGatherLogger(l *slog.Logger) GatherOption {
	return func(g *Gatherer) { g.logger = l }
}

// Gatherer runs queries sequentially against a SearchEngine.
type Gatherer struct {
	engine SearchEngine
	budget int
	rand   *rand.Rand
	logger *slog.Logger
}

func NewGatherer(engine SearchEngine, opts ...GatherOption) *Gatherer {
	g := &Gatherer{engine: engine, budget: DefaultResultBudget}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	if g.rand == nil {
		g.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g
}

// PerQueryLimit is max(3, budget/numberOfQueries).
func (g *Gatherer) PerQueryLimit(numberOfQueries int) int {
	if numberOfQueries <= 0 {
		return 3
	}
	return max(3, g.budget/numberOfQueries)
}

// Gather runs each query in order and returns the shuffled union of their
// documents. Progress phases are sent on phases, which is closed before
// Gather returns; a nil channel disables reporting. Cancelling ctx cancels
// the running Search and returns the context's cause.
func (g *Gatherer) Gather(ctx context.Context, queries []string, phases chan<- WebSearchPhase) ([]WebDocument, error) {
	if phases != nil {
		defer close(phases)
	}
	if len(queries) == 0 {
		return nil, nil
	}
	limit := g.PerQueryLimit(len(queries))
	g.logger.Info("gathering web content", "queries", len(queries), "per_query_limit", limit)

	var (
		mu      sync.Mutex
		phase   = WebSearchPhase{NumberOfQueries: len(queries)}
		results []WebDocument
	)
	emit := func() {
		if phases == nil {
			return
		}
		select {
		case phases <- phase:
		case <-ctx.Done():
		}
	}

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		mu.Lock()
		phase.Query = i
		phase.QueryBeginDate = time.Now()
		phase.CurrentSource = 0
		phase.NumberOfSource = 0
		phase.NumberOfWebsites = 0
		phase.Progress = 0.1
		emit()
		mu.Unlock()

		search := g.engine.NewSearch(q)
		stop := context.AfterFunc(ctx, search.Cancel)
		docs, err := search.Run(ctx, limit, func(p SearchProgress) {
			mu.Lock()
			defer mu.Unlock()
			phase.Progress = max(0.1, p.Fraction)
			phase.CurrentSource = p.EnginesCompleted
			phase.NumberOfSource = p.EnginesTotal
			phase.NumberOfWebsites = p.WebsitesFetched
			emit()
		})
		stop()
		if ctx.Err() != nil {
			g.logger.Info("web search cancelled", "query", q)
			return nil, context.Cause(ctx)
		}
		if err != nil {
			g.logger.Warn("web search query failed", "query", q, "error", err)
			continue
		}
		g.logger.Debug("web search query finished", "query", q, "documents", len(docs))
		results = append(results, docs...)
	}

	g.rand.Shuffle(len(results), func(i, j int) { results[i], results[j] = results[j], results[i] })

	mu.Lock()
	phase.NumberOfResults = len(results)
	phase.QueryBeginDate = time.Time{}
	emit()
	mu.Unlock()
	return results, nil
}

// FormatWebArchive wraps a gathered document in the envelope the model
// sees, carrying its citation index.
func FormatWebArchive(doc WebDocument, index int) string {
	return fmt.Sprintf("<web_document id=\"%d\">\n<title>%s</title>\n<note>%s</note>\n<content>\n%s\n</content>\n</web_document>",
		index, doc.Title, fmt.Sprintf(webArchiveNoteFormat, index), doc.Text)
}

// citationIndex assigns session-scoped citation numbers to URLs, starting
// at 1. The same URL always maps to the same number.
type citationIndex struct {
	mu    sync.Mutex
	byURL map[string]int
	links map[int]string
}

func newCitationIndex() *citationIndex {
	return &citationIndex{byURL: make(map[string]int), links: make(map[int]string)}
}

func (c *citationIndex) index(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.byURL[url]; ok {
		return n
	}
	n := len(c.links) + 1
	c.byURL[url] = n
	c.links[n] = url
	return n
}

// snapshot returns a copy of the index -> URL map.
func (c *citationIndex) snapshot() map[int]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]string, len(c.links))
	for k, v := range c.links {
		out[k] = v
	}
	return out
}

func (c *citationIndex) reset() {
	c.mu.Lock()
	c.byURL = make(map[string]int)
	c.links = make(map[int]string)
	c.mu.Unlock()
}
