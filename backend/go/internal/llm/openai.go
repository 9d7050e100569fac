package llm

import (
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI talks to the Chat Completions API, or any OpenAI-compatible endpoint.
type OpenAI struct {
	cfg    ProviderSettings
	client *openai.Client
	logger *logger.Logger
}

// NewOpenAI creates an OpenAI provider. client should carry the chat timeout.
func NewOpenAI(cfg ProviderSettings, client *http.Client, log *logger.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if client != nil {
		clientCfg.HTTPClient = client
	}
	return &OpenAI{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: log.WithField("provider", string(ProviderOpenAI)),
	}
}

func (o *OpenAI) Name() ProviderName { return ProviderOpenAI }
func (o *OpenAI) Model() string      { return o.cfg.Model }

// Chat implements Provider.
func (o *OpenAI) Chat(ctx context.Context, req Request) (*Response, error) {
	return o.do(ctx, req, nil)
}

// ChatStream implements Provider.
func (o *OpenAI) ChatStream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return o.do(ctx, req, onChunk)
}

func (o *OpenAI) do(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	if o.cfg.APIKey == "" {
		return nil, &ConfigurationError{Provider: ProviderOpenAI, Reason: "api key is missing"}
	}
	start := time.Now()
	content, tokens, model, err := newToolLoop(req).run(ctx, o.turn(req), onChunk)
	if err != nil {
		logFailure(o.logger, err, start)
		return nil, err
	}
	if model == "" {
		model = o.cfg.Model
	}
	o.logger.WithPayload(map[string]interface{}{"model": model, "latency_ms": time.Since(start).Milliseconds()}).
		Debug("chat completed")
	return &Response{Content: content, Provider: ProviderOpenAI, Model: model, TokensUsed: tokens}, nil
}

func (o *OpenAI) turn(req Request) turnFunc {
	tools := toOpenAITools(req.Tools)
	return func(ctx context.Context, history []Message, onChunk ChunkFunc) (*turn, error) {
		chatReq := openai.ChatCompletionRequest{
			Model:     o.cfg.Model,
			Messages:  toOpenAIMessages(req.System, history),
			Tools:     tools,
			MaxTokens: req.MaxTokens,
		}
		if chatReq.MaxTokens <= 0 {
			chatReq.MaxTokens = o.cfg.MaxTokens
		}
		if onChunk == nil {
			resp, err := o.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return nil, upstream(ProviderOpenAI, err)
			}
			return openAITurn(resp), nil
		}
		return o.stream(ctx, chatReq, onChunk)
	}
}

func openAITurn(resp openai.ChatCompletionResponse) *turn {
	t := &turn{Model: resp.Model, Tokens: intPtr(resp.Usage.TotalTokens)}
	if len(resp.Choices) == 0 {
		return t
	}
	msg := resp.Choices[0].Message
	t.Content = msg.Content
	for _, call := range msg.ToolCalls {
		t.ToolCalls = append(t.ToolCalls, ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments})
	}
	return t
}

type streamedCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (o *OpenAI) stream(ctx context.Context, chatReq openai.ChatCompletionRequest, onChunk ChunkFunc) (*turn, error) {
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := o.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, upstream(ProviderOpenAI, err)
	}
	defer stream.Close()

	t := &turn{}
	var text strings.Builder
	calls := map[int]*streamedCall{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, upstream(ProviderOpenAI, err)
		}
		if chunk.Model != "" {
			t.Model = chunk.Model
		}
		if chunk.Usage != nil {
			t.Tokens = intPtr(chunk.Usage.TotalTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			onChunk(delta.Content)
		}
		for i, tc := range delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			c, ok := calls[idx]
			if !ok {
				c = &streamedCall{index: idx}
				calls[idx] = c
			}
			if tc.ID != "" {
				c.id = tc.ID
			}
			if tc.Function.Name != "" {
				c.name = tc.Function.Name
			}
			c.args.WriteString(tc.Function.Arguments)
		}
	}

	ordered := make([]*streamedCall, 0, len(calls))
	for _, c := range calls {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })
	for _, c := range ordered {
		t.ToolCalls = append(t.ToolCalls, ToolCall{ID: c.id, Name: c.name, Arguments: c.args.String()})
	}
	t.Content = text.String()
	return t, nil
}

func toOpenAIMessages(system string, history []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		case RoleAssistant:
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       call.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
				})
			}
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		out = append(out, msg)
	}
	return out
}

var _ Provider = (*OpenAI)(nil)
