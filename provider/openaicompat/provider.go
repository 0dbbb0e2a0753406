package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/nevindra/tideline"
)

var nopLogger = slog.New(slog.DiscardHandler)

// Provider implements tideline.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	name        string
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
	diagLimit   int

	mu   sync.Mutex
	diag strings.Builder
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     model,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		name:      "openai",
		logger:    nopLogger,
		diagLimit: 4096,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

// Diagnostics returns the raw server output that could not be used during
// the last request: error bodies, error chunks and undecodable lines.
func (p *Provider) Diagnostics() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.diag.String())
}

func (p *Provider) resetDiagnostics() {
	p.mu.Lock()
	p.diag.Reset()
	p.mu.Unlock()
}

func (p *Provider) record(s string) {
	p.logger.Debug("unusable server output", "provider", p.name, "output", s)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.diag.Len()+len(s) > p.diagLimit {
		return
	}
	p.diag.WriteString(s)
	p.diag.WriteByte('\n')
}

func (p *Provider) body(req tideline.ChatRequest) ChatRequest {
	body := BuildBody(req.Messages, req.Tools, p.model)
	body.Temperature = p.temperature
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}
	body.MaxTokens = p.maxTokens
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	return body
}

// Chat sends a non-streaming request.
func (p *Provider) Chat(ctx context.Context, req tideline.ChatRequest) (tideline.ChatResponse, error) {
	p.resetDiagnostics()
	resp, err := p.sendHTTP(ctx, p.body(req))
	if err != nil {
		return tideline.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tideline.ChatResponse{}, p.httpErr(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return tideline.ChatResponse{}, &tideline.ErrLLM{Provider: p.name, Message: fmt.Sprintf("read response: %v", err)}
	}
	var chatResp ChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		p.record(string(raw))
		return tideline.ChatResponse{}, &tideline.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if chatResp.Error != nil {
		p.record(string(raw))
		return tideline.ChatResponse{}, &tideline.ErrLLM{Provider: p.name, Message: chatResp.Error.Message}
	}
	return ParseResponse(chatResp), nil
}

// ChatStream streams deltas into ch and returns the accumulated response.
// ch is closed on every path.
func (p *Provider) ChatStream(ctx context.Context, req tideline.ChatRequest, ch chan<- tideline.StreamDelta) (tideline.ChatResponse, error) {
	p.resetDiagnostics()
	body := p.body(req)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return tideline.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		close(ch)
		return tideline.ChatResponse{}, p.httpErr(resp)
	}
	return StreamSSE(ctx, resp.Body, ch, p.record)
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &tideline.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &tideline.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

// httpErr reads the body into an ErrHTTP for the retry wrapper and keeps it
// as diagnostics.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	p.record(string(body))
	return &tideline.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: tideline.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

var (
	_ tideline.Provider            = (*Provider)(nil)
	_ tideline.DiagnosticsReporter = (*Provider)(nil)
)
