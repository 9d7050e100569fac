package embedding

import "context"

// Item 是后端返回的一条向量，Index 对应输入切片中的位置。
type Item struct {
	Index  int
	Vector []float32
}

// Backend 定义了所有 embedding 后端需要实现的接口。
// 返回结果的顺序可以与输入不同，由 Generator 按 Index 重新排序。
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([]Item, error)
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 兼容接口
	Google ModelType = "gemini" // Google GenAI
	Ollama ModelType = "ollama" // 本地 Ollama
)

// NeedsCredential 判断该厂商是否需要 API 密钥。
func (m ModelType) NeedsCredential() bool {
	return m != Ollama
}
