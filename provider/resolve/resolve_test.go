package resolve

import (
	"testing"

	"github.com/nevindra/tideline"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"openrouter", "https://openrouter.ai/api/v1"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"deepseek", "https://api.deepseek.com/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestModel(t *testing.T) {
	m, err := Model(Config{ID: "fast", Provider: "groq", Model: "llama-3.1-8b", Visual: true, Tools: true, ContextLength: 8000, Retries: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Provider == nil || m.Provider.Name() != "groq" {
		t.Errorf("provider = %v", m.Provider)
	}
	if !m.Capabilities.Has(tideline.CapVisual | tideline.CapTools) {
		t.Errorf("capabilities = %b", m.Capabilities)
	}
	if m.ContextLength != 8000 {
		t.Errorf("context length = %d", m.ContextLength)
	}
}

func TestModel_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing id", Config{Provider: "openai"}},
		{"unknown provider", Config{ID: "x", Provider: "acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Model(tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

type named struct{ tideline.Provider }

func (named) Name() string { return "wrapped" }

func TestRegistry_Wrapper(t *testing.T) {
	reg, err := Registry([]Config{
		{ID: "a", Provider: "custom", BaseURL: "http://localhost:8080/v1"},
		{ID: "b", Provider: "ollama"},
	}, func(p tideline.Provider, _ Config) tideline.Provider { return named{p} })
	if err != nil {
		t.Fatal(err)
	}
	if ids := reg.IDs(); len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	m, _ := reg.Lookup("a")
	if m.Provider.Name() != "wrapped" || m.Name != "a" {
		t.Errorf("model = %+v", m)
	}
}

func TestModel_RateLimited(t *testing.T) {
	m, err := Model(Config{ID: "slow", Provider: "openai", RequestsPerMinute: 30, TokensPerMinute: 50000})
	if err != nil {
		t.Fatal(err)
	}
	if m.Provider.Name() != "openai" {
		t.Errorf("rate-limited provider name = %q", m.Provider.Name())
	}
	if _, ok := m.Provider.(tideline.DiagnosticsReporter); !ok {
		t.Error("rate limiter should forward diagnostics")
	}
}
