package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/provider/resolve"
)

type Config struct {
	Models    []ModelConfig   `toml:"models"`
	Defaults  DefaultsConfig  `toml:"defaults"`
	Prompt    PromptConfig    `toml:"prompt"`
	Search    SearchConfig    `toml:"search"`
	Session   SessionConfig   `toml:"session"`
	Memory    MemoryConfig    `toml:"memory"`
	Recognize RecognizeConfig `toml:"recognize"`
	Database  DatabaseConfig  `toml:"database"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ModelConfig struct {
	ID            string   `toml:"id"`
	Name          string   `toml:"name"`
	Provider      string   `toml:"provider"`
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Model         string   `toml:"model"`
	ContextLength int      `toml:"context_length"`
	Visual        bool     `toml:"visual"`
	Tools         bool     `toml:"tools"`
	Temperature   *float64 `toml:"temperature"`
	Retries       int      `toml:"retries"`
	Timeout       Duration `toml:"timeout"`
	RPM           int      `toml:"requests_per_minute"`
	TPM           int      `toml:"tokens_per_minute"`
}

type DefaultsConfig struct {
	Chat                   string `toml:"chat"`
	Auxiliary              string `toml:"auxiliary"`
	VisualAuxiliary        string `toml:"visual_auxiliary"`
	AuxiliaryUsesChatModel bool   `toml:"auxiliary_uses_chat_model"`
	SkipVisualIfPossible   bool   `toml:"skip_visual_if_possible"`
}

type PromptConfig struct {
	Base        string `toml:"base"`
	Additional  string `toml:"additional"`
	RuntimeInfo bool   `toml:"runtime_info"`
	Locale      string `toml:"locale"`
	AppName     string `toml:"app_name"`
}

type SearchConfig struct {
	BraveAPIKey  string `toml:"brave_api_key"`
	ResultBudget int    `toml:"result_budget"`
	Sensitivity  string `toml:"sensitivity"`
}

type SessionConfig struct {
	MaxToolRounds     int      `toml:"max_tool_rounds"`
	PacingInterval    Duration `toml:"pacing_interval"`
	CollapseReasoning bool     `toml:"collapse_reasoning"`
	Encoding          string   `toml:"encoding"` // tiktoken encoding, "heuristic" disables BPE counting
}

type MemoryConfig struct {
	Scope    string   `toml:"scope"` // none, interval, count or all
	Count    int      `toml:"count"`
	Interval Duration `toml:"interval"`
}

type RecognizeConfig struct {
	QR        bool   `toml:"qr"`
	Tesseract string `toml:"tesseract"` // binary path, empty disables OCR
	Languages string `toml:"languages"`
}

type DatabaseConfig struct {
	Path        string `toml:"path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Duration is a time.Duration written as a Go duration string ("750ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Prompt:    PromptConfig{RuntimeInfo: true, Locale: "en", AppName: "Tideline"},
		Search:    SearchConfig{ResultBudget: tideline.DefaultResultBudget, Sensitivity: string(tideline.SensitivityBalanced)},
		Session:   SessionConfig{MaxToolRounds: tideline.DefaultMaxToolRounds, PacingInterval: Duration{tideline.DefaultPacing}, Encoding: "cl100k_base"},
		Memory:    MemoryConfig{Scope: string(tideline.MemoryCount), Count: 20, Interval: Duration{7 * 24 * time.Hour}},
		Recognize: RecognizeConfig{QR: true, Tesseract: "tesseract", Languages: "eng"},
		Database:  DatabaseConfig{Path: "tideline.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins) ->
// fallbacks. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "tideline.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Env overrides
	if v := os.Getenv("TIDELINE_API_KEY"); v != "" {
		for i := range cfg.Models {
			if cfg.Models[i].APIKey == "" {
				cfg.Models[i].APIKey = v
			}
		}
	}
	if v := os.Getenv("TIDELINE_CHAT_MODEL"); v != "" {
		cfg.Defaults.Chat = v
	}
	if v := os.Getenv("TIDELINE_BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("TIDELINE_SENSITIVITY"); v != "" {
		cfg.Search.Sensitivity = v
	}
	if v := os.Getenv("TIDELINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TIDELINE_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("TIDELINE_OBSERVER_ENABLED"); v != "" {
		cfg.Observer.Enabled, _ = strconv.ParseBool(v)
	}

	// Fallbacks
	if cfg.Defaults.Chat == "" && len(cfg.Models) > 0 {
		cfg.Defaults.Chat = cfg.Models[0].ID
	}
	if cfg.Defaults.Auxiliary == "" {
		cfg.Defaults.Auxiliary = cfg.Defaults.Chat
	}
	if cfg.Defaults.VisualAuxiliary == "" {
		cfg.Defaults.VisualAuxiliary = cfg.Defaults.Auxiliary
	}
	if cfg.Search.ResultBudget <= 0 {
		cfg.Search.ResultBudget = tideline.DefaultResultBudget
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot start a session.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		switch {
		case m.ID == "":
			errs = append(errs, fmt.Errorf("models[%d]: id is required", i))
		case seen[m.ID]:
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
		if m.ContextLength < 0 {
			errs = append(errs, fmt.Errorf("model %q: negative context_length", m.ID))
		}
	}
	for _, ref := range []string{c.Defaults.Chat, c.Defaults.Auxiliary, c.Defaults.VisualAuxiliary} {
		if ref != "" && len(c.Models) > 0 && !seen[ref] {
			errs = append(errs, fmt.Errorf("defaults: unknown model %q", ref))
		}
	}
	if _, err := c.Sensitivity(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MemoryScope(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Locale(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveModels converts the [[models]] tables for provider/resolve.
func (c Config) ResolveModels() []resolve.Config {
	out := make([]resolve.Config, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, resolve.Config{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      m.Provider,
			APIKey:        m.APIKey,
			Model:         m.Model,
			BaseURL:       m.BaseURL,
			ContextLength: m.ContextLength,
			Visual:        m.Visual,
			Tools:         m.Tools,
			Temperature:   m.Temperature,
			Retries:       m.Retries,
			Timeout:       m.Timeout.Duration,

			RequestsPerMinute: m.RPM,
			TokensPerMinute:   m.TPM,
		})
	}
	return out
}

func (c Config) ModelDefaults() tideline.ModelDefaults {
	return tideline.ModelDefaults{
		Chat:                   c.Defaults.Chat,
		Auxiliary:              c.Defaults.Auxiliary,
		VisualAuxiliary:        c.Defaults.VisualAuxiliary,
		AuxiliaryUsesChatModel: c.Defaults.AuxiliaryUsesChatModel,
		SkipVisualIfPossible:   c.Defaults.SkipVisualIfPossible,
	}
}

func (c Config) Sensitivity() (tideline.SearchSensitivity, error) {
	return tideline.ParseSearchSensitivity(c.Search.Sensitivity)
}

func (c Config) MemoryScope() (tideline.MemoryScope, error) {
	f := tideline.MemoryFilter(c.Memory.Scope)
	switch f {
	case "":
		f = tideline.MemoryOff
	case tideline.MemoryOff, tideline.MemoryInterval, tideline.MemoryCount, tideline.MemoryAll:
	default:
		return tideline.MemoryScope{}, fmt.Errorf("memory: unknown scope %q", c.Memory.Scope)
	}
	return tideline.MemoryScope{Filter: f, Interval: c.Memory.Interval.Duration, Count: c.Memory.Count}, nil
}

func (c Config) Locale() (language.Tag, error) {
	if c.Prompt.Locale == "" {
		return language.English, nil
	}
	tag, err := language.Parse(c.Prompt.Locale)
	if err != nil {
		return language.Und, fmt.Errorf("prompt: locale %q: %w", c.Prompt.Locale, err)
	}
	return tag, nil
}
