package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxToolIterations caps model round trips in one request.
const maxToolIterations = 10

type loopState int

const (
	stateAwaitingModel loopState = iota
	stateToolCallPending
	stateContinuing
	stateDone
)

func (s loopState) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateToolCallPending:
		return "tool_call_pending"
	case stateContinuing:
		return "continuing"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("loopState(%d)", int(s))
	}
}

// turn is the outcome of one model round trip.
type turn struct {
	Content   string
	ToolCalls []ToolCall
	Tokens    *int
	Model     string
}

// turnFunc performs one provider-specific round trip over history. When
// onChunk is non-nil the provider streams text through it.
type turnFunc func(ctx context.Context, history []Message, onChunk ChunkFunc) (*turn, error)

// toolLoop drives AwaitingModel → ToolCallPending → Continuing → Done.
// Tool traffic stays in history and never reaches the caller.
type toolLoop struct {
	state      loopState
	tools      map[string]Tool
	history    []Message
	content    strings.Builder
	tokens     *int
	model      string
	iterations int
	pending    []ToolCall
	max        int
}

func newToolLoop(req Request) *toolLoop {
	l := &toolLoop{
		state:   stateAwaitingModel,
		tools:   make(map[string]Tool, len(req.Tools)),
		history: append([]Message(nil), req.Messages...),
		max:     maxToolIterations,
	}
	for _, t := range req.Tools {
		l.tools[t.Definition.Name] = t
	}
	return l
}

// run steps the machine to Done and returns the accumulated text, tokens and model.
func (l *toolLoop) run(ctx context.Context, fn turnFunc, onChunk ChunkFunc) (string, *int, string, error) {
	for l.state != stateDone {
		if err := l.step(ctx, fn, onChunk); err != nil {
			return "", l.tokens, l.model, err
		}
	}
	return l.content.String(), l.tokens, l.model, nil
}

func (l *toolLoop) step(ctx context.Context, fn turnFunc, onChunk ChunkFunc) error {
	switch l.state {
	case stateAwaitingModel:
		if l.iterations >= l.max {
			return ErrToolLoopExceeded
		}
		l.iterations++
		t, err := fn(ctx, l.history, onChunk)
		if err != nil {
			return err
		}
		l.tokens = addTokens(l.tokens, t.Tokens)
		if t.Model != "" {
			l.model = t.Model
		}
		l.content.WriteString(t.Content)
		if len(t.ToolCalls) > 0 && len(l.tools) > 0 {
			l.history = append(l.history, Message{Role: RoleAssistant, Content: t.Content, ToolCalls: t.ToolCalls})
			l.pending = t.ToolCalls
			l.state = stateToolCallPending
			return nil
		}
		l.state = stateDone

	case stateToolCallPending:
		for _, call := range l.pending {
			l.history = append(l.history, Message{
				Role:       RoleTool,
				Content:    l.execute(ctx, call),
				ToolCallID: call.ID,
			})
		}
		l.pending = nil
		l.state = stateContinuing

	case stateContinuing:
		if err := ctx.Err(); err != nil {
			return err
		}
		l.state = stateAwaitingModel

	case stateDone:
	}
	return nil
}

// execute runs one tool call; failures become the tool result so the model can react.
func (l *toolLoop) execute(ctx context.Context, call ToolCall) string {
	tool, ok := l.tools[call.Name]
	if !ok || tool.Handler == nil {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	args := json.RawMessage(call.Arguments)
	if strings.TrimSpace(call.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	out, err := tool.Handler(ctx, args)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}
