// Package http fetches web pages and extracts their readable text. The
// Fetcher is shared by the http_fetch tool and tools/search.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/ingest"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultMaxBytes  = 1 << 20
	defaultMaxChars  = 8000
	defaultUserAgent = "Mozilla/5.0 (compatible; Tideline/1.0)"
)

// Page is the readable content of a fetched URL.
type Page struct {
	Title string
	URL   string
	Text  string
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithClient sets the HTTP client. The default has a 15-second timeout.
func WithClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxBytes limits how much of a response body is read (default 1 MB).
func WithMaxBytes(n int64) FetchOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// Fetcher downloads pages and extracts readable text with go-readability,
// falling back to plain tag stripping.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxBytes,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads rawURL and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Page{}, fmt.Errorf("invalid URL %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{}, &tideline.ErrHTTP{Status: resp.StatusCode, Body: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, rawURL)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read error: %w", err)
	}

	page := Page{URL: rawURL}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		page.Text = strings.TrimSpace(string(body))
		return page, nil
	}

	doc := string(body)
	page.Title = pageTitle(doc)
	article, err := readability.FromReader(strings.NewReader(doc), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		page.Text = strings.TrimSpace(article.TextContent)
	} else {
		page.Text = ingest.StripHTML(doc)
	}
	return page, nil
}

// pageTitle returns the text of the first <title> element.
func pageTitle(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "title" {
				if z.Next() == html.TextToken {
					return strings.Join(strings.Fields(string(z.Text())), " ")
				}
				return ""
			}
		}
	}
}

// Tool is the http_fetch tool: it returns the readable text of a URL,
// truncated to a character budget.
type Tool struct {
	fetcher  *Fetcher
	maxChars int
}

// New creates the http_fetch tool. A nil fetcher uses NewFetcher().
func New(fetcher *Fetcher) *Tool {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &Tool{fetcher: fetcher, maxChars: defaultMaxChars}
}

func (t *Tool) Definitions() []tideline.ToolDefinition {
	return []tideline.ToolDefinition{{
		Name:        "http_fetch",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (tideline.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tideline.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	page, err := t.fetcher.Fetch(ctx, params.URL)
	if err != nil {
		return tideline.ToolResult{Error: err.Error()}, nil
	}
	text := page.Text
	if utf8.RuneCountInString(text) > t.maxChars {
		text = string([]rune(text)[:t.maxChars]) + "\n... (truncated)"
	}
	if page.Title != "" {
		text = page.Title + "\n\n" + text
	}
	return tideline.ToolResult{Content: text}, nil
}
