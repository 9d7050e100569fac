package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel 是一个用于 Ollama API 的 Embedding 模型客户端，无需密钥。
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel 创建一个新的 OllamaModel 客户端。baseURL 为空时使用 "http://localhost:11434"。
func NewOllamaModel(cfg BackendConfig) (*OllamaModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: cfg.Model}, nil
}

// EmbedBatch 为一批文本生成嵌入向量，Ollama 按输入顺序返回。
func (m *OllamaModel) EmbedBatch(ctx context.Context, texts []string) ([]Item, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch embeddings from ollama: %w", err)
	}

	items := make([]Item, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		items[i] = Item{Index: i, Vector: v}
	}
	return items, nil
}
