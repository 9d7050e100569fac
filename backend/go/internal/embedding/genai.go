package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel 是一个用于 Google GenAI Embedding API 的客户端。
// 客户端在每次调用时创建，因为密钥可能在两次调用之间被修改。
type GoogleModel struct {
	apiKey    string
	modelName string
}

// NewGoogleModel 创建并返回一个新的 GoogleModel。
func NewGoogleModel(cfg BackendConfig) *GoogleModel {
	return &GoogleModel{apiKey: cfg.APIKey, modelName: cfg.Model}
}

// EmbedBatch 为一批文本生成嵌入向量，结果与输入顺序一致。
func (m *GoogleModel) EmbedBatch(ctx context.Context, texts []string) ([]Item, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	defer client.Close()

	model := client.EmbeddingModel(m.modelName)
	batch := model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to batch embed contents: %w", err)
	}

	items := make([]Item, 0, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		items = append(items, Item{Index: i, Vector: emb.Values})
	}
	return items, nil
}
