// Package llm is a uniform chat interface over the supported model providers.
package llm

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ProviderName identifies a chat backend.
type ProviderName string

const (
	ProviderClaude ProviderName = "claude"
	ProviderOpenAI ProviderName = "openai"
	ProviderOllama ProviderName = "ollama"
)

// Roles used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model's request to run a tool. Arguments is raw JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolHandler runs a tool and returns its textual result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs an MCP tool definition with its local handler.
type Tool struct {
	Definition mcp.Tool
	Handler    ToolHandler
}

// Request is a chat completion request. System is sent out of band.
type Request struct {
	Messages  []Message
	System    string
	Tools     []Tool
	MaxTokens int
}

// Response is the result of a completed chat call.
type Response struct {
	Content    string       `json:"content"`
	Provider   ProviderName `json:"provider"`
	Model      string       `json:"model"`
	TokensUsed *int         `json:"tokens_used"`
}

// ChunkFunc receives streamed text fragments in order.
type ChunkFunc func(chunk string)

// Provider is implemented by every chat backend.
type Provider interface {
	Name() ProviderName
	Model() string
	Chat(ctx context.Context, req Request) (*Response, error)
	// ChatStream calls onChunk for each text fragment and returns the full response.
	ChatStream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error)
}

func addTokens(total *int, n *int) *int {
	if n == nil {
		return total
	}
	if total == nil {
		v := *n
		return &v
	}
	v := *total + *n
	return &v
}

func intPtr(v int) *int { return &v }
