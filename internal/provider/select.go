package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider names accepted by Select.
const (
	NameMock   = "mock"
	NameOpenAI = "openai"
	NameGroq   = "groq"
)

var (
	defaultBaseURL = map[string]string{
		NameOpenAI: "https://api.openai.com/v1",
		NameGroq:   "https://api.groq.com/openai/v1",
	}
	defaultModel = map[string]string{
		NameOpenAI: "gpt-4-turbo-preview",
		NameGroq:   "llama-3.3-70b-versatile",
	}
)

// Settings gathers everything needed to pick and build a provider.
type Settings struct {
	Name      string
	ForceMock bool
	Model     string
	BaseURL   string
	OpenAIKey string
	GroqKey   string

	// Temperature defaults to 0.7 when zero.
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	Logger            *slog.Logger
}

// SettingsFromEnv reads LLM_PROVIDER, ADA_MODEL, ADA_MOCK_LLM and the API
// key variables through getenv.
func SettingsFromEnv(getenv func(string) string) Settings {
	mock := strings.ToLower(strings.TrimSpace(getenv("ADA_MOCK_LLM")))
	return Settings{
		Name:       getenv("LLM_PROVIDER"),
		ForceMock:  mock == "1" || mock == "true" || mock == "yes",
		Model:      getenv("ADA_MODEL"),
		OpenAIKey:  getenv("OPENAI_API_KEY"),
		GroqKey:    getenv("GROQ_API_KEY"),
		MaxRetries: 3,
	}
}

// Resolve picks the provider name: an explicit name wins, then Groq if its
// key is set, then OpenAI, then the mock.
func (s Settings) Resolve() string {
	if s.ForceMock {
		return NameMock
	}
	if n := strings.ToLower(strings.TrimSpace(s.Name)); n != "" {
		return n
	}
	switch {
	case s.GroqKey != "":
		return NameGroq
	case s.OpenAIKey != "":
		return NameOpenAI
	}
	return NameMock
}

// Select builds the provider chosen by Resolve. The mock plays DemoScript.
func Select(s Settings) (Provider, error) {
	name := s.Resolve()
	if name == NameMock {
		return NewMock(DemoScript()...), nil
	}

	var key string
	switch name {
	case NameOpenAI:
		key = s.OpenAIKey
	case NameGroq:
		key = s.GroqKey
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
	}

	cfg := ClientConfig{
		BaseURL:           s.BaseURL,
		APIKey:            key,
		Model:             s.Model,
		Temperature:       s.Temperature,
		MaxTokens:         s.MaxTokens,
		Timeout:           s.Timeout,
		RequestsPerMinute: s.RequestsPerMinute,
		MaxRetries:        s.MaxRetries,
		Logger:            s.Logger,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL[name]
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel[name]
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return NewClient(cfg)
}
