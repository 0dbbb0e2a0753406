package openaicompat

import (
	"log/slog"
	"net/http"
)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName sets the name returned by Name (default "openai").
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the default sampling temperature. A request
// temperature overrides it.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens caps the output tokens of every request.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// WithLogger sets the logger for undecodable stream lines.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithDiagnosticsLimit bounds the bytes kept by Diagnostics (default 4096).
func WithDiagnosticsLimit(n int) ProviderOption {
	return func(p *Provider) { p.diagLimit = n }
}
