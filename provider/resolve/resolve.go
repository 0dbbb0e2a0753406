// Package resolve builds tideline models from provider-agnostic settings.
package resolve

import (
	"fmt"
	"time"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/provider/openaicompat"
)

// Config describes one model served by an OpenAI-compatible endpoint.
type Config struct {
	ID       string // registry identifier
	Name     string // display name
	Provider string // "openai", "openrouter", "gemini", "groq", "deepseek", "together", "mistral", "ollama" or "custom"
	APIKey   string
	Model    string // remote model name
	BaseURL  string // required for "custom"; auto-filled for known providers

	ContextLength int
	Visual        bool
	Tools         bool
	Temperature   *float64

	// Retries is the number of attempts on 429/503, 0 or 1 disables retrying.
	Retries int
	Timeout time.Duration

	// RequestsPerMinute and TokensPerMinute throttle the provider; 0 is unlimited.
	RequestsPerMinute int
	TokensPerMinute   int
}

// Wrapper decorates a provider, e.g. observer.WrapProvider.
type Wrapper func(tideline.Provider, Config) tideline.Provider

// Model creates the model described by cfg.
func Model(cfg Config, wrap ...Wrapper) (tideline.Model, error) {
	if cfg.ID == "" {
		return tideline.Model{}, fmt.Errorf("resolve: model id is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL == "" {
		return tideline.Model{}, fmt.Errorf("resolve: model %q: unknown provider %q without base_url", cfg.ID, cfg.Provider)
	}
	remote := cfg.Model
	if remote == "" {
		remote = cfg.ID
	}
	name := cfg.Provider
	if name == "" {
		name = "custom"
	}

	var p tideline.Provider = openaicompat.NewProvider(cfg.APIKey, remote, baseURL, openaicompat.WithName(name))
	if cfg.Retries > 1 || cfg.Timeout > 0 {
		opts := []tideline.RetryOption{}
		if cfg.Retries > 1 {
			opts = append(opts, tideline.RetryMaxAttempts(cfg.Retries))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, tideline.RetryTimeout(cfg.Timeout))
		}
		p = tideline.WithRetry(p, opts...)
	}
	if cfg.RequestsPerMinute > 0 || cfg.TokensPerMinute > 0 {
		p = tideline.WithRateLimit(p, tideline.RPM(cfg.RequestsPerMinute), tideline.TPM(cfg.TokensPerMinute))
	}
	for _, w := range wrap {
		p = w(p, cfg)
	}

	var caps tideline.Capability
	if cfg.Visual {
		caps |= tideline.CapVisual
	}
	if cfg.Tools {
		caps |= tideline.CapTools
	}
	return tideline.Model{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Provider:      p,
		ContextLength: cfg.ContextLength,
		Capabilities:  caps,
		Temperature:   cfg.Temperature,
	}, nil
}

// Registry creates a registry holding every configured model.
func Registry(cfgs []Config, wrap ...Wrapper) (*tideline.ModelRegistry, error) {
	reg := tideline.NewModelRegistry()
	for _, c := range cfgs {
		m, err := Model(c, wrap...)
		if err != nil {
			return nil, err
		}
		reg.Register(m)
	}
	return reg, nil
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/openai"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
