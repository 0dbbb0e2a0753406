// Package search implements tideline.SearchEngine with the Brave Search
// API. Each result page is fetched concurrently and reduced to readable
// text with tools/http.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/ingest"
	httptool "github.com/nevindra/tideline/tools/http"
)

const (
	defaultEndpoint    = "https://api.search.brave.com/res/v1/web/search"
	defaultConcurrency = 4
	defaultPageTimeout = 8 * time.Second
	maxPageChars       = 8000
	maxResultCount     = 20
)

// ErrCancelled is returned by Run after Cancel.
var ErrCancelled = errors.New("search cancelled")

// Option configures an Engine.
type Option func(*Engine)

// WithEndpoint overrides the Brave API URL.
func WithEndpoint(u string) Option {
	return func(e *Engine) { e.endpoint = u }
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithFetcher sets the page fetcher.
func WithFetcher(f *httptool.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithConcurrency bounds parallel page fetches (default 4).
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithPageTimeout bounds a single page fetch (default 8s).
func WithPageTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pageTimeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine starts Brave searches.
type Engine struct {
	apiKey      string
	endpoint    string
	client      *http.Client
	fetcher     *httptool.Fetcher
	concurrency int
	pageTimeout time.Duration
	logger      *slog.Logger
}

var _ tideline.SearchEngine = (*Engine)(nil)

// New creates an Engine authenticated with a Brave subscription token.
func New(apiKey string, opts ...Option) *Engine {
	e := &Engine{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		client:      &http.Client{Timeout: 10 * time.Second},
		concurrency: defaultConcurrency,
		pageTimeout: defaultPageTimeout,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	if e.fetcher == nil {
		e.fetcher = httptool.NewFetcher()
	}
	return e
}

func (e *Engine) NewSearch(query string) tideline.Search {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &search{engine: e, query: query, ctx: ctx, cancel: cancel}
}

// search is one query. Its ctx is cancelled by Cancel and bounds every
// request Run makes.
type search struct {
	engine *Engine
	query  string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (s *search) Cancel() { s.cancel(ErrCancelled) }

type result struct {
	Title       string
	URL         string
	Description string
}

func (s *search) Run(ctx context.Context, limit int, onProgress func(tideline.SearchProgress)) ([]tideline.WebDocument, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	if onProgress == nil {
		onProgress = func(tideline.SearchProgress) {}
	}
	if limit <= 0 {
		return nil, nil
	}
	onProgress(tideline.SearchProgress{EnginesTotal: 1, Fraction: 0.1})

	results, err := s.engine.query(ctx, s.query, min(limit*2, maxResultCount))
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, err
	}
	onProgress(tideline.SearchProgress{EnginesCompleted: 1, EnginesTotal: 1, Fraction: 0.3})
	s.engine.logger.Debug("brave results", "query", s.query, "results", len(results))

	docs := s.fetchAll(ctx, results, onProgress)
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	var out []tideline.WebDocument
	for _, d := range docs {
		if d.Text == "" {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fetchAll fetches every result page. A page that cannot be fetched keeps
// the result's description as its text.
func (s *search) fetchAll(ctx context.Context, results []result, onProgress func(tideline.SearchProgress)) []tideline.WebDocument {
	docs := make([]tideline.WebDocument, len(results))
	var (
		mu      sync.Mutex
		fetched int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.engine.concurrency))
	for i, r := range results {
		docs[i] = tideline.WebDocument{Title: r.Title, URL: r.URL, Text: r.Description}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.engine.pageTimeout)
			defer cancel()
			page, err := s.engine.fetcher.Fetch(pctx, r.URL)
			if err != nil {
				s.engine.logger.Debug("page fetch failed", "url", r.URL, "error", err)
			} else if page.Text != "" {
				docs[i].Text = truncate(page.Text, maxPageChars)
				if docs[i].Title == "" {
					docs[i].Title = page.Title
				}
			}
			mu.Lock()
			fetched++
			onProgress(tideline.SearchProgress{
				EnginesCompleted: 1,
				EnginesTotal:     1,
				WebsitesFetched:  fetched,
				Fraction:         0.3 + 0.7*float64(fetched)/float64(len(results)),
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return docs
}

func (e *Engine) query(ctx context.Context, q string, count int) ([]result, error) {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("brave endpoint: %w", err)
	}
	params := u.Query()
	params.Set("q", q)
	params.Set("count", strconv.Itoa(count))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &tideline.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("brave parse error: %w", err)
	}

	seen := make(map[string]bool)
	var out []result
	for _, r := range data.Web.Results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, result{Title: ingest.StripHTML(r.Title), URL: r.URL, Description: ingest.StripHTML(r.Description)})
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
