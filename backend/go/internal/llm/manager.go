package llm

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/settings"
	httpx "BizAdvisor/backend/go/pkg/http"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Factory builds a provider from the settings of one call.
type Factory func(cfg ProviderSettings, client *http.Client, log *logger.Logger) (Provider, error)

// Factories is the closed set of chat providers.
var Factories = map[ProviderName]Factory{
	ProviderClaude: func(cfg ProviderSettings, client *http.Client, log *logger.Logger) (Provider, error) {
		return NewClaude(cfg, client, log), nil
	},
	ProviderOpenAI: func(cfg ProviderSettings, client *http.Client, log *logger.Logger) (Provider, error) {
		return NewOpenAI(cfg, client, log), nil
	},
	ProviderOllama: func(cfg ProviderSettings, client *http.Client, log *logger.Logger) (Provider, error) {
		return NewOllama(cfg, client, log)
	},
}

// Manager resolves the chat provider a user prefers. Settings are read on
// every call, so a changed key or preference applies to the next turn.
type Manager struct {
	settings  settings.Provider
	client    *http.Client
	maxTokens int
	timeout   time.Duration
	logger    *logger.Logger
	factories map[ProviderName]Factory
}

// NewManager creates a Manager whose providers share one HTTP client with the chat timeout.
func NewManager(cfg config.LLMConfig, breaker config.CircuitBreakerConfig, sp settings.Provider, log *logger.Logger) *Manager {
	timeout := config.Duration(cfg.Timeout, 120*time.Second)
	return &Manager{
		settings:  sp,
		client:    httpx.NewClient(breaker, timeout),
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		logger:    log,
		factories: Factories,
	}
}

// Timeout is the chat timeout providers are built with.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Default returns the provider preferred by userID. An empty or unknown
// preference falls back to claude.
func (m *Manager) Default(ctx context.Context, userID uint) (Provider, error) {
	s, err := m.settings.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	name := ProviderName(strings.ToLower(strings.TrimSpace(s.AI.PreferredProvider)))
	if _, ok := m.factories[name]; !ok {
		name = ProviderClaude
	}
	return m.build(name, s.AI)
}

// Get returns a specific provider with userID's current credentials.
func (m *Manager) Get(ctx context.Context, userID uint, name ProviderName) (Provider, error) {
	s, err := m.settings.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return m.build(name, s.AI)
}

func (m *Manager) build(name ProviderName, ai settings.AI) (Provider, error) {
	factory, ok := m.factories[name]
	if !ok {
		return nil, &ConfigurationError{Provider: name, Reason: "unknown provider"}
	}
	return factory(ProviderConfigFor(name, ai, m.maxTokens), m.client, m.logger)
}

// ProviderConfigFor picks the credential, model and endpoint of name out of ai.
func ProviderConfigFor(name ProviderName, ai settings.AI, maxTokens int) ProviderSettings {
	cfg := ProviderSettings{MaxTokens: maxTokens}
	switch name {
	case ProviderClaude:
		cfg.APIKey, cfg.Model, cfg.BaseURL = ai.ClaudeAPIKey, ai.ClaudeModel, ai.ClaudeBaseURL
	case ProviderOpenAI:
		cfg.APIKey, cfg.Model, cfg.BaseURL = ai.OpenAIAPIKey, ai.OpenAIModel, ai.OpenAIBaseURL
	case ProviderOllama:
		cfg.Model, cfg.BaseURL = ai.OllamaModel, ai.OllamaBaseURL
	}
	return cfg
}

// APIKey returns userID's current credential for name. Ollama has none.
func (m *Manager) APIKey(ctx context.Context, userID uint, name ProviderName) (string, error) {
	if _, ok := m.factories[name]; !ok {
		return "", &ConfigurationError{Provider: name, Reason: "unknown provider"}
	}
	s, err := m.settings.Load(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	return ProviderConfigFor(name, s.AI, m.maxTokens).APIKey, nil
}
