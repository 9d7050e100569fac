package embedding

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/settings"
	httpx "BizAdvisor/backend/go/pkg/http"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// CharsPerToken 是估算 token 数时使用的字符比例。
const CharsPerToken = 4

// maxLoggedBody 限制日志中记录的上游响应体长度。
const maxLoggedBody = 500

// Generator 把文本转换为固定维度的向量。
// 所有失败（未配置密钥、上游错误、维度不符）都只记录日志并返回 nil，不会向调用方返回错误。
type Generator struct {
	cfg        config.EmbeddingConfig
	settings   settings.Provider
	httpClient *http.Client
	newBackend func(BackendConfig) (Backend, error)
	log        *logger.Logger
}

// Option 用于定制 Generator。
type Option func(*Generator)

// WithBackendFactory 替换后端构造函数。
func WithBackendFactory(f func(BackendConfig) (Backend, error)) Option {
	return func(g *Generator) { g.newBackend = f }
}

// WithHTTPClient 指定访问后端使用的 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// NewGenerator 创建 Generator。密钥在每次调用时通过 settings 解析。
func NewGenerator(cfg config.EmbeddingConfig, sp settings.Provider, log *logger.Logger, opts ...Option) *Generator {
	g := &Generator{
		cfg:        cfg,
		settings:   sp,
		newBackend: NewBackend,
		log:        log,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: g.timeout()}
	}
	return g
}

// Dimensions 返回当前配置的向量维度。
func (g *Generator) Dimensions() int {
	return g.cfg.Dimensions
}

// Model 返回当前使用的模型标识。
func (g *Generator) Model() string {
	return g.cfg.Model
}

// MaxChars 返回单条输入在提交前允许的最大字符数。
func (g *Generator) MaxChars() int {
	return g.cfg.MaxTokens * CharsPerToken
}

// Embed 为单个文本生成向量，失败或文本为空时返回 nil。
func (g *Generator) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	vectors := g.EmbedBatch(ctx, []string{text})
	if len(vectors) != 1 {
		return nil
	}
	return vectors[0]
}

// EmbedBatch 为一批文本生成向量，返回值与输入等长且顺序一致。
// 空输入直接返回空切片且不发起请求；空白文本对应位置为 nil 且不会提交；
// 整批失败时返回 nil。
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return [][]float32{}
	}

	positions := make([]int, 0, len(texts))
	inputs := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		positions = append(positions, i)
		inputs = append(inputs, Truncate(text, g.MaxChars()))
	}
	out := make([][]float32, len(texts))
	if len(inputs) == 0 {
		return out
	}

	backend, ok := g.backend(ctx)
	if !ok {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	start := time.Now()
	items, err := backend.EmbedBatch(callCtx, inputs)
	if err != nil {
		g.logFailure(err, len(inputs))
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	if len(items) != len(inputs) {
		g.log.WithPayload(map[string]interface{}{"expected": len(inputs), "got": len(items)}).
			Error("embedding backend returned an unexpected number of vectors")
		return nil
	}
	for i, item := range items {
		if item.Index != i || len(item.Vector) != g.cfg.Dimensions {
			g.log.WithPayload(map[string]interface{}{
				"index":      item.Index,
				"dimensions": len(item.Vector),
				"expected":   g.cfg.Dimensions,
			}).Error("embedding backend returned a malformed vector")
			return nil
		}
		out[positions[i]] = item.Vector
	}

	g.log.WithPayload(map[string]interface{}{
		"count":      len(inputs),
		"model":      g.cfg.Model,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("embeddings generated")
	return out
}

// backend 解析当前密钥并构造后端。未配置密钥时记录日志并返回 false。
func (g *Generator) backend(ctx context.Context) (Backend, bool) {
	provider := ModelType(g.cfg.Provider)
	apiKey := g.cfg.APIKey
	if g.settings != nil {
		s, err := g.settings.Load(ctx, settings.GlobalUser)
		if err != nil {
			g.log.WithError(models.NewErrorInfo(err, "settings_error")).Warn("failed to load embedding settings, falling back to config")
		} else if s.AI.EmbeddingAPIKey != "" {
			apiKey = s.AI.EmbeddingAPIKey
		}
	}
	if provider.NeedsCredential() && apiKey == "" {
		g.log.WithError(models.ErrorInfo{Type: "configuration_error", Message: "embedding api key is not configured"}).
			Warn("skipping embedding generation")
		return nil, false
	}

	backend, err := g.newBackend(BackendConfig{
		Provider:   provider,
		Model:      g.cfg.Model,
		APIKey:     apiKey,
		BaseURL:    g.cfg.BaseURL,
		Dimensions: g.cfg.Dimensions,
		HTTPClient: g.httpClient,
	})
	if err != nil {
		g.log.WithError(models.NewErrorInfo(err, "configuration_error")).Error("failed to create embedding backend")
		return nil, false
	}
	return backend, true
}

func (g *Generator) logFailure(err error, count int) {
	info := models.NewErrorInfo(err, "upstream_error")
	var statusErr *httpx.StatusError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &statusErr):
		info.StatusCode = statusErr.StatusCode
		info.Body = truncateRunes(statusErr.Body, maxLoggedBody)
	case errors.As(err, &apiErr):
		info.StatusCode = apiErr.HTTPStatusCode
		info.Body = truncateRunes(apiErr.Message, maxLoggedBody)
	}
	g.log.WithError(info).WithPayload(map[string]interface{}{"count": count, "model": g.cfg.Model}).
		Error("embedding request failed")
}

func (g *Generator) timeout() time.Duration {
	return config.Duration(g.cfg.Timeout, 30*time.Second)
}

// Truncate 把文本截断到 maxChars 个字符（按 rune 计），maxChars <= 0 时不截断。
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	return truncateRunes(text, maxChars)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
