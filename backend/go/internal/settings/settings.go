// Package settings resolves runtime, user-editable configuration: API
// credentials, the preferred chat provider and the business profile.
// Components receive a Provider at construction and call Load per operation,
// so a change made between two requests takes effect without a restart.
package settings

import (
	"BizAdvisor/backend/go/internal/config"
	"context"
	"strings"
)

// GlobalUser is the owner id of application-wide settings.
const GlobalUser uint = 0

// Setting keys as stored in the settings table.
const (
	KeyCompanyName  = "business.company_name"
	KeyIndustry     = "business.industry"
	KeyDescription  = "business.description"
	KeyTargetMarket = "business.target_market"
	KeyKeyServices  = "business.key_services"

	KeyPreferredProvider = "ai.preferred_provider"
	KeyClaudeAPIKey      = "ai.claude_api_key"
	KeyClaudeModel       = "ai.claude_model"
	KeyOpenAIAPIKey      = "ai.openai_api_key"
	KeyOpenAIModel       = "ai.openai_model"
	KeyOllamaBaseURL     = "ai.ollama_base_url"
	KeyOllamaModel       = "ai.ollama_model"
	KeyEmbeddingAPIKey   = "embedding.api_key"
)

var knownKeys = map[string]bool{
	KeyCompanyName: true, KeyIndustry: true, KeyDescription: true, KeyTargetMarket: true, KeyKeyServices: true,
	KeyPreferredProvider: true, KeyClaudeAPIKey: true, KeyClaudeModel: true, KeyOpenAIAPIKey: true,
	KeyOpenAIModel: true, KeyOllamaBaseURL: true, KeyOllamaModel: true, KeyEmbeddingAPIKey: true,
}

// KnownKey reports whether key is a setting Load understands.
func KnownKey(key string) bool { return knownKeys[key] }

// BusinessProfile describes the user's company.
type BusinessProfile struct {
	CompanyName  string
	Industry     string
	Description  string
	TargetMarket string
	KeyServices  string
}

// Field is one labelled profile value.
type Field struct {
	Key   string
	Label string
	Value string
}

// Fields returns the non-empty profile fields in display order.
func (p BusinessProfile) Fields() []Field {
	all := []Field{
		{Key: "company_name", Label: "Company", Value: p.CompanyName},
		{Key: "industry", Label: "Industry", Value: p.Industry},
		{Key: "description", Label: "Description", Value: p.Description},
		{Key: "target_market", Label: "Target market", Value: p.TargetMarket},
		{Key: "key_services", Label: "Key services", Value: p.KeyServices},
	}
	out := all[:0]
	for _, f := range all {
		f.Value = strings.TrimSpace(f.Value)
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// AI holds chat and embedding credentials and the provider preference.
type AI struct {
	PreferredProvider string
	ClaudeAPIKey      string
	ClaudeModel       string
	ClaudeBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	OllamaBaseURL     string
	OllamaModel       string
	EmbeddingAPIKey   string
}

// Settings is the resolved view for one user.
type Settings struct {
	Profile BusinessProfile
	AI      AI
}

// Provider loads the current settings for a user. userID GlobalUser yields
// application-wide values only.
type Provider interface {
	Load(ctx context.Context, userID uint) (*Settings, error)
}

// Defaults builds the baseline Settings from the YAML configuration.
func Defaults(cfg *config.AppConfig) Settings {
	return Settings{
		AI: AI{
			PreferredProvider: cfg.LLM.DefaultProvider,
			ClaudeAPIKey:      cfg.LLM.Claude.APIKey,
			ClaudeModel:       cfg.LLM.Claude.Model,
			ClaudeBaseURL:     cfg.LLM.Claude.BaseURL,
			OpenAIAPIKey:      cfg.LLM.OpenAI.APIKey,
			OpenAIModel:       cfg.LLM.OpenAI.Model,
			OpenAIBaseURL:     cfg.LLM.OpenAI.BaseURL,
			OllamaBaseURL:     cfg.LLM.Ollama.BaseURL,
			OllamaModel:       cfg.LLM.Ollama.Model,
			EmbeddingAPIKey:   cfg.Embedding.APIKey,
		},
	}
}

// apply overlays one stored key/value onto s. Unknown keys are ignored.
func (s *Settings) apply(key, value string) {
	switch key {
	case KeyCompanyName:
		s.Profile.CompanyName = value
	case KeyIndustry:
		s.Profile.Industry = value
	case KeyDescription:
		s.Profile.Description = value
	case KeyTargetMarket:
		s.Profile.TargetMarket = value
	case KeyKeyServices:
		s.Profile.KeyServices = value
	case KeyPreferredProvider:
		s.AI.PreferredProvider = value
	case KeyClaudeAPIKey:
		s.AI.ClaudeAPIKey = value
	case KeyClaudeModel:
		s.AI.ClaudeModel = value
	case KeyOpenAIAPIKey:
		s.AI.OpenAIAPIKey = value
	case KeyOpenAIModel:
		s.AI.OpenAIModel = value
	case KeyOllamaBaseURL:
		s.AI.OllamaBaseURL = value
	case KeyOllamaModel:
		s.AI.OllamaModel = value
	case KeyEmbeddingAPIKey:
		s.AI.EmbeddingAPIKey = value
	}
}

// Static is a Provider returning fixed settings. Useful for tests and CLIs.
type Static struct {
	Settings Settings
}

// Load returns a copy of the fixed settings.
func (s *Static) Load(ctx context.Context, userID uint) (*Settings, error) {
	copied := s.Settings
	return &copied, nil
}
