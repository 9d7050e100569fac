package embedding

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel 是 OpenAI 兼容的 Embedding 接口客户端。
// 请求形如 {model, input, dimensions}，响应 {data: [{index, embedding}]}。
type OpenAIModel struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIModel 创建一个新的 OpenAIModel 客户端。
func NewOpenAIModel(cfg BackendConfig) *OpenAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIModel{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// EmbedBatch 使用 OpenAI API 为一批文本生成嵌入向量，保留响应中的 index。
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([]Item, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(m.model),
		Dimensions:     m.dimensions,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	items := make([]Item, len(resp.Data))
	for i, d := range resp.Data {
		items[i] = Item{Index: d.Index, Vector: d.Embedding}
	}
	return items, nil
}
