package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TurnState is the phase of one assistant turn.
type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s TurnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[TurnState][]TurnState{
	StateIdle:      {StateSending},
	StateSending:   {StateStreaming, StateFailed},
	StateStreaming: {StateCompleted, StateFailed},
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = errors.New("invalid turn transition")

// Turn tracks one message exchange on a thread.
type Turn struct {
	UserID    uint
	ThreadID  uint
	StartedAt time.Time

	mu     sync.Mutex
	state  TurnState
	buffer strings.Builder
}

func newTurn(userID, threadID uint, now time.Time) *Turn {
	return &Turn{UserID: userID, ThreadID: threadID, StartedAt: now}
}

// State returns the current state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) transition(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, allowed := range transitions[t.state] {
		if allowed == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
}

func (t *Turn) append(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer.WriteString(chunk)
}

func (t *Turn) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer.Reset()
}

// Status is a polling view of a thread's latest turn.
type Status struct {
	ThreadID uint      `json:"thread_id"`
	State    TurnState `json:"state"`
	Buffer   string    `json:"buffer"`
}

func (t *Turn) status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{ThreadID: t.ThreadID, State: t.state, Buffer: t.buffer.String()}
}
