package embedding

import (
	"fmt"
	"net/http"
)

// BackendConfig 描述创建一个后端所需的参数。
type BackendConfig struct {
	Provider   ModelType
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	HTTPClient *http.Client
}

// NewBackend 根据指定的提供商创建并返回一个新的 Embedding 后端实例。
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Provider {
	case OpenAI:
		return NewOpenAIModel(cfg), nil
	case Google:
		return NewGoogleModel(cfg), nil
	case Ollama:
		return NewOllamaModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
