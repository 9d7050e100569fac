package llm

import (
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama talks to a local Ollama server. It needs no credential and is
// never offered tools.
type Ollama struct {
	cfg    ProviderSettings
	client *olla.Client
	logger *logger.Logger
}

// NewOllama creates an Ollama provider. An empty BaseURL means http://localhost:11434.
func NewOllama(cfg ProviderSettings, hc *http.Client, log *logger.Logger) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &ConfigurationError{Provider: ProviderOllama, Reason: fmt.Sprintf("invalid base URL: %v", err)}
	}
	if hc == nil {
		hc = &http.Client{Timeout: 120 * time.Second}
	}
	return &Ollama{
		cfg:    cfg,
		client: olla.NewClient(parsedURL, hc),
		logger: log.WithField("provider", string(ProviderOllama)),
	}, nil
}

func (o *Ollama) Name() ProviderName { return ProviderOllama }
func (o *Ollama) Model() string      { return o.cfg.Model }

// Chat implements Provider.
func (o *Ollama) Chat(ctx context.Context, req Request) (*Response, error) {
	return o.do(ctx, req, nil)
}

// ChatStream implements Provider.
func (o *Ollama) ChatStream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return o.do(ctx, req, onChunk)
}

func (o *Ollama) do(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	start := time.Now()
	stream := onChunk != nil

	chatReq := &olla.ChatRequest{
		Model:    o.cfg.Model,
		Messages: toOllamaMessages(req.System, req.Messages),
		Stream:   &stream,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxTokens
	}
	if maxTokens > 0 {
		chatReq.Options = map[string]interface{}{"num_predict": maxTokens}
	}

	var text strings.Builder
	var tokens *int
	model := o.cfg.Model
	err := o.client.Chat(ctx, chatReq, func(resp olla.ChatResponse) error {
		if resp.Message.Content != "" {
			text.WriteString(resp.Message.Content)
			if stream {
				onChunk(resp.Message.Content)
			}
		}
		if resp.Model != "" {
			model = resp.Model
		}
		if resp.Done {
			tokens = intPtr(resp.PromptEvalCount + resp.EvalCount)
		}
		return nil
	})
	if err != nil {
		err = upstream(ProviderOllama, err)
		logFailure(o.logger, err, start)
		return nil, err
	}
	o.logger.WithPayload(map[string]interface{}{"model": model, "latency_ms": time.Since(start).Milliseconds()}).
		Debug("chat completed")
	return &Response{Content: text.String(), Provider: ProviderOllama, Model: model, TokensUsed: tokens}, nil
}

// toOllamaMessages drops tool traffic, which Ollama is never asked to produce.
func toOllamaMessages(system string, history []Message) []olla.Message {
	out := make([]olla.Message, 0, len(history)+1)
	if system != "" {
		out = append(out, olla.Message{Role: "system", Content: system})
	}
	for _, m := range history {
		if m.Role == RoleTool || (m.Role == RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0) {
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		out = append(out, olla.Message{Role: role, Content: m.Content})
	}
	return out
}

var _ Provider = (*Ollama)(nil)
