package llm

import (
	"BizAdvisor/backend/go/pkg/logger"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// ProviderSettings is what a Factory needs to build a provider for one call.
type ProviderSettings struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Claude talks to the Anthropic Messages API over plain HTTP.
type Claude struct {
	cfg    ProviderSettings
	client *http.Client
	logger *logger.Logger
}

// NewClaude creates a Claude provider. client should carry the chat timeout.
func NewClaude(cfg ProviderSettings, client *http.Client, log *logger.Logger) *Claude {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Claude{cfg: cfg, client: client, logger: log.WithField("provider", string(ProviderClaude))}
}

func (c *Claude) Name() ProviderName { return ProviderClaude }
func (c *Claude) Model() string      { return c.cfg.Model }

// Chat implements Provider.
func (c *Claude) Chat(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, req, nil)
}

// ChatStream implements Provider.
func (c *Claude) ChatStream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return c.do(ctx, req, onChunk)
}

func (c *Claude) do(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	if c.cfg.APIKey == "" {
		return nil, &ConfigurationError{Provider: ProviderClaude, Reason: "api key is missing"}
	}
	start := time.Now()
	content, tokens, model, err := newToolLoop(req).run(ctx, c.turn(req), onChunk)
	if err != nil {
		logFailure(c.logger, err, start)
		return nil, err
	}
	if model == "" {
		model = c.cfg.Model
	}
	c.logger.WithPayload(map[string]interface{}{"model": model, "latency_ms": time.Since(start).Milliseconds()}).
		Debug("chat completed")
	return &Response{Content: content, Provider: ProviderClaude, Model: model, TokensUsed: tokens}, nil
}

// --- wire format ---

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	Tools     []claudeTool    `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Model      string        `json:"model"`
	Content    []claudeBlock `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      claudeUsage   `json:"usage"`
}

type claudeEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *claudeResponse `json:"message"`
	ContentBlock *claudeBlock    `json:"content_block"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *claudeUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Claude) turn(req Request) turnFunc {
	tools := claudeTools(req.Tools)
	return func(ctx context.Context, history []Message, onChunk ChunkFunc) (*turn, error) {
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = c.cfg.MaxTokens
		}
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		body, err := json.Marshal(claudeRequest{
			Model:     c.cfg.Model,
			MaxTokens: maxTokens,
			System:    req.System,
			Messages:  claudeMessages(history),
			Tools:     tools,
			Stream:    onChunk != nil,
		})
		if err != nil {
			return nil, fmt.Errorf("claude: failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("claude: failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, upstream(ProviderClaude, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return nil, &UpstreamError{Provider: ProviderClaude, StatusCode: resp.StatusCode, Body: string(raw),
				Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}

		if onChunk != nil {
			return readClaudeStream(resp.Body, onChunk)
		}
		var out claudeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, upstream(ProviderClaude, fmt.Errorf("decode response: %w", err))
		}
		return claudeTurn(out), nil
	}
}

func claudeTurn(resp claudeResponse) *turn {
	t := &turn{Model: resp.Model, Tokens: intPtr(resp.Usage.InputTokens + resp.Usage.OutputTokens)}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			t.ToolCalls = append(t.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: string(block.Input)})
		}
	}
	t.Content = text.String()
	return t
}

type pendingToolUse struct {
	id, name string
	args     strings.Builder
}

// readClaudeStream consumes an SSE body, relaying text deltas to onChunk.
func readClaudeStream(body io.Reader, onChunk ChunkFunc) (*turn, error) {
	t := &turn{}
	var text strings.Builder
	var usage claudeUsage
	tools := map[int]*pendingToolUse{}
	var order []int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev claudeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				t.Model = ev.Message.Model
				usage = ev.Message.Usage
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				tools[ev.Index] = &pendingToolUse{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					text.WriteString(ev.Delta.Text)
					onChunk(ev.Delta.Text)
				}
			case "input_json_delta":
				if p, ok := tools[ev.Index]; ok {
					p.args.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return nil, &UpstreamError{Provider: ProviderClaude, Body: msg, Err: errors.New(msg)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, upstream(ProviderClaude, fmt.Errorf("read stream: %w", err))
	}

	for _, idx := range order {
		p := tools[idx]
		args := p.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		t.ToolCalls = append(t.ToolCalls, ToolCall{ID: p.id, Name: p.name, Arguments: args})
	}
	t.Content = text.String()
	t.Tokens = intPtr(usage.InputTokens + usage.OutputTokens)
	return t, nil
}

// claudeMessages converts history; consecutive tool results share one user turn.
func claudeMessages(history []Message) []claudeMessage {
	out := make([]claudeMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleTool:
			block := claudeBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if n := len(out); n > 0 && out[n-1].Role == RoleUser && isToolResults(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, claudeMessage{Role: RoleUser, Content: []claudeBlock{block}})
		case RoleAssistant:
			var blocks []claudeBlock
			if m.Content != "" {
				blocks = append(blocks, claudeBlock{Type: "text", Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				input := json.RawMessage(call.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, claudeBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, claudeMessage{Role: RoleAssistant, Content: blocks})
		default:
			out = append(out, claudeMessage{Role: RoleUser, Content: []claudeBlock{{Type: "text", Text: m.Content}}})
		}
	}
	return out
}

func isToolResults(m claudeMessage) bool {
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

func claudeTools(tools []Tool) []claudeTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]claudeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, claudeTool{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
			InputSchema: inputSchema(t.Definition),
		})
	}
	return out
}

var _ Provider = (*Claude)(nil)
