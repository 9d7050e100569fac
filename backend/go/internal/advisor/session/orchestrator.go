// Package session runs advisory conversations: it persists messages, builds
// the prompt context, streams the model reply and relays it to the UI.
package session

import (
	"BizAdvisor/backend/go/internal/advisor/contextbuilder"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	historyLimit = 20
	titleRunes   = 50
)

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("message content is empty")

// ErrThreadDeleted is the TurnError cause when the thread is removed while its reply streams.
var ErrThreadDeleted = errors.New("thread was deleted during the turn")

// TurnError reports a failed turn. The apology message has been persisted.
type TurnError struct {
	ThreadID uint
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn on thread %d failed: %v", e.ThreadID, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Apology is the assistant content persisted when a turn fails.
func Apology(err error) string {
	return fmt.Sprintf("I'm sorry, I couldn't complete that request. Error: %v", err)
}

// Store persists threads, messages and snapshots.
type Store interface {
	CreateThread(ctx context.Context, userID uint, title string) (*models.AdvisoryThread, error)
	GetThread(ctx context.Context, userID, threadID uint) (*models.AdvisoryThread, error)
	ListThreads(ctx context.Context, userID uint) ([]models.AdvisoryThread, error)
	DeleteThread(ctx context.Context, userID, threadID uint) error
	SetTitle(ctx context.Context, threadID uint, title string) (bool, error)
	AppendMessage(ctx context.Context, msg *models.AdvisoryMessage) error
	Messages(ctx context.Context, threadID uint) ([]models.AdvisoryMessage, error)
	RecentMessages(ctx context.Context, threadID uint, n int) ([]models.AdvisoryMessage, error)
	SaveSnapshot(ctx context.Context, threadID, messageID uint, data []byte) error
}

// ProviderResolver returns the chat provider to use for a user.
type ProviderResolver interface {
	Default(ctx context.Context, userID uint) (llm.Provider, error)
}

// ToolSource supplies the tools offered to the model for a user.
type ToolSource interface {
	For(userID uint) []llm.Tool
}

// Options are optional orchestrator dependencies.
type Options struct {
	Publisher Publisher
	Tools     ToolSource
	// Timeout bounds one turn. Zero means 120s.
	Timeout time.Duration
}

// Orchestrator coordinates advisory turns. Thread operations never wait on a turn.
type Orchestrator struct {
	store     Store
	builders  *contextbuilder.Factory
	providers ProviderResolver
	publisher Publisher
	tools     ToolSource
	timeout   time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[uint]uint // owner -> thread shown in the UI
	turns  map[uint]*Turn
}

// New creates an Orchestrator.
func New(st Store, builders *contextbuilder.Factory, providers ProviderResolver, opts Options, log *logger.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Orchestrator{
		store:     st,
		builders:  builders,
		providers: providers,
		publisher: opts.Publisher,
		tools:     opts.Tools,
		timeout:   opts.Timeout,
		logger:    log,
		now:       time.Now,
		active:    make(map[uint]uint),
		turns:     make(map[uint]*Turn),
	}
}

// --- thread operations ---

// CreateThread creates a thread and makes it the owner's active one.
func (o *Orchestrator) CreateThread(ctx context.Context, userID uint, title string) (*models.AdvisoryThread, error) {
	thread, err := o.store.CreateThread(ctx, userID, strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}
	o.setActive(userID, thread.ID)
	return thread, nil
}

// SelectThread makes threadID the owner's active thread. Chunks of turns on
// other threads stop being relayed; those turns keep running.
func (o *Orchestrator) SelectThread(ctx context.Context, userID, threadID uint) error {
	if _, err := o.store.GetThread(ctx, userID, threadID); err != nil {
		return err
	}
	o.setActive(userID, threadID)
	return nil
}

// ActiveThread returns the owner's active thread, or 0.
func (o *Orchestrator) ActiveThread(userID uint) uint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[userID]
}

// DeleteThread removes a thread with its messages and snapshots.
func (o *Orchestrator) DeleteThread(ctx context.Context, userID, threadID uint) error {
	if err := o.store.DeleteThread(ctx, userID, threadID); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[userID] == threadID {
		delete(o.active, userID)
	}
	delete(o.turns, threadID)
	return nil
}

// ListThreads lists the owner's threads, most recently active first.
func (o *Orchestrator) ListThreads(ctx context.Context, userID uint) ([]models.AdvisoryThread, error) {
	return o.store.ListThreads(ctx, userID)
}

// Messages returns a thread's messages in order.
func (o *Orchestrator) Messages(ctx context.Context, userID, threadID uint) ([]models.AdvisoryMessage, error) {
	if _, err := o.store.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	return o.store.Messages(ctx, threadID)
}

// Status reports the latest turn of a thread. A thread without turns is idle.
func (o *Orchestrator) Status(threadID uint) Status {
	o.mu.Lock()
	t, ok := o.turns[threadID]
	o.mu.Unlock()
	if !ok {
		return Status{ThreadID: threadID, State: StateIdle}
	}
	return t.status()
}

// ThreadStatus is Status for a thread the owner must own.
func (o *Orchestrator) ThreadStatus(ctx context.Context, userID, threadID uint) (Status, error) {
	if _, err := o.store.GetThread(ctx, userID, threadID); err != nil {
		return Status{}, err
	}
	return o.Status(threadID), nil
}

func (o *Orchestrator) setActive(userID, threadID uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[userID] = threadID
}

func (o *Orchestrator) isActive(userID, threadID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[userID] == threadID
}

// --- turns ---

// SendMessage appends the user message and produces the assistant reply.
// On failure it returns the persisted apology together with a *TurnError.
// The turn ignores cancellation of ctx and is bounded by its own timeout.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, threadID uint, content string) (*models.AdvisoryMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	thread, err := o.store.GetThread(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	log := o.logger.WithField("trace_id", uuid.NewString()).
		WithPayload(map[string]interface{}{"user_id": userID, "thread_id": threadID})

	turn := newTurn(userID, threadID, o.now())
	if err := turn.transition(StateSending); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.turns[threadID] = turn
	o.active[userID] = threadID
	o.mu.Unlock()

	userMsg := &models.AdvisoryMessage{ThreadID: threadID, Role: models.RoleUser, Content: content}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		turn.transition(StateFailed)
		log.WithError(models.NewErrorInfo(err, "store_error")).Error("failed to save user message")
		return nil, fmt.Errorf("save user message: %w", err)
	}
	if thread.Title == "" {
		if _, err := o.store.SetTitle(ctx, threadID, Title(content)); err != nil {
			log.WithError(models.NewErrorInfo(err, "store_error")).Warn("failed to set thread title")
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, snapshot, err := o.stream(turnCtx, turn, userID, threadID, content)
	if err != nil {
		return o.fail(ctx, log, turn, err)
	}
	return o.complete(ctx, log, turn, resp, snapshot)
}

func (o *Orchestrator) stream(ctx context.Context, turn *Turn, userID, threadID uint, content string) (*llm.Response, *contextbuilder.Snapshot, error) {
	if err := turn.transition(StateStreaming); err != nil {
		return nil, nil, err
	}

	builder := o.builders.New()
	system, err := builder.BuildWithRAG(ctx, userID, content, vectorsearch.ExcludeThread(threadID))
	if err != nil {
		return nil, nil, fmt.Errorf("build context: %w", err)
	}
	history, err := o.store.RecentMessages(ctx, threadID, historyLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	provider, err := o.providers.Default(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	req := llm.Request{System: system, Messages: toLLMMessages(history)}
	if o.tools != nil {
		req.Tools = o.tools.For(userID)
	}
	resp, err := provider.ChatStream(ctx, req, func(chunk string) {
		turn.append(chunk)
		if o.publisher != nil && o.isActive(userID, threadID) {
			o.publisher.Publish(userID, Event{Type: EventChunk, ThreadID: threadID, Content: chunk})
		}
	})
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := builder.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return resp, &snapshot, nil
}

func (o *Orchestrator) complete(ctx context.Context, log *logger.Logger, turn *Turn, resp *llm.Response, snapshot *contextbuilder.Snapshot) (*models.AdvisoryMessage, error) {
	provider := string(resp.Provider)
	model := resp.Model
	msg := &models.AdvisoryMessage{
		ThreadID:   turn.ThreadID,
		Role:       models.RoleAssistant,
		Content:    resp.Content,
		Provider:   &provider,
		Model:      &model,
		TokensUsed: resp.TokensUsed,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return o.discard(log, turn)
		}
		return o.fail(ctx, log, turn, fmt.Errorf("save assistant message: %w", err))
	}

	data, err := snapshot.JSON()
	if err == nil {
		err = o.store.SaveSnapshot(ctx, turn.ThreadID, msg.ID, data)
	}
	if err != nil {
		log.WithError(models.NewErrorInfo(err, "store_error")).Warn("failed to save context snapshot")
	}

	turn.transition(StateCompleted)
	turn.clear()
	if o.publisher != nil {
		o.publisher.Publish(turn.UserID, Event{Type: EventDone, ThreadID: turn.ThreadID, MessageID: msg.ID})
	}
	log.WithPayload(map[string]interface{}{
		"thread_id": turn.ThreadID, "provider": provider, "model": model,
		"latency_ms": o.now().Sub(turn.StartedAt).Milliseconds(),
	}).Info("advisory turn completed")
	return msg, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, turn *Turn, cause error) (*models.AdvisoryMessage, error) {
	log.WithError(models.NewErrorInfo(cause, "turn_error")).Error("advisory turn failed")

	msg := &models.AdvisoryMessage{ThreadID: turn.ThreadID, Role: models.RoleAssistant, Content: Apology(cause)}
	if err := o.store.AppendMessage(ctx, msg); errors.Is(err, store.ErrNotFound) {
		return o.discard(log, turn)
	} else if err != nil {
		log.WithError(models.NewErrorInfo(err, "store_error")).Error("failed to save apology message")
		msg = nil
	}

	turn.transition(StateFailed)
	turn.clear()
	if o.publisher != nil {
		ev := Event{Type: EventError, ThreadID: turn.ThreadID, Error: cause.Error()}
		if msg != nil {
			ev.MessageID = msg.ID
		}
		o.publisher.Publish(turn.UserID, ev)
	}
	return msg, &TurnError{ThreadID: turn.ThreadID, Err: cause}
}

// discard ends a turn whose thread no longer exists. Nothing is persisted.
func (o *Orchestrator) discard(log *logger.Logger, turn *Turn) (*models.AdvisoryMessage, error) {
	log.WithField("thread_id", turn.ThreadID).Warn("thread deleted during turn, reply discarded")
	turn.transition(StateFailed)
	turn.clear()
	if o.publisher != nil {
		o.publisher.Publish(turn.UserID, Event{Type: EventError, ThreadID: turn.ThreadID, Error: ErrThreadDeleted.Error()})
	}
	return nil, &TurnError{ThreadID: turn.ThreadID, Err: ErrThreadDeleted}
}

// Title derives a thread title from the first user message.
func Title(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= titleRunes {
		return content
	}
	return string(runes[:titleRunes]) + "..."
}

func toLLMMessages(history []models.AdvisoryMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
