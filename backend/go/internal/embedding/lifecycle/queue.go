package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Task asks for the embedding of one record to be (re)computed.
type Task struct {
	Kind      models.RecordKind `json:"kind"`
	ID        uint              `json:"id"`
	NotBefore time.Time         `json:"not_before"`
}

// Ref returns the record the task refers to.
func (t Task) Ref() models.RecordRef {
	return models.RecordRef{Kind: t.Kind, ID: t.ID}
}

// Key identifies the record of the task, e.g. "business_event:42".
func (t Task) Key() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Queue delivers tasks to a Handler at least once, no earlier than delay from now.
type Queue interface {
	Schedule(ctx context.Context, task Task, delay time.Duration) error
}

// Handler processes a delivered task. Returning an error asks for redelivery.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task Task) error { return f(ctx, task) }

// ErrQueueClosed is returned when scheduling on a closed LocalQueue.
var ErrQueueClosed = errors.New("queue is closed")

// LocalQueue runs tasks in-process with time.AfterFunc. A failed task is retried
// up to maxAttempts times with a linear backoff.
type LocalQueue struct {
	handler     Handler
	log         *logger.Logger
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
	wg     sync.WaitGroup
}

// NewLocalQueue creates an in-process queue. handler may be set later with SetHandler,
// which lets the Runner and the Tracker reference each other.
func NewLocalQueue(handler Handler, log *logger.Logger) *LocalQueue {
	return &LocalQueue{
		handler:     handler,
		log:         log,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		timeout:     time.Minute,
		timers:      make(map[*time.Timer]struct{}),
	}
}

// SetHandler sets the handler for tasks that have not fired yet.
func (q *LocalQueue) SetHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Schedule implements Queue.
func (q *LocalQueue) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if delay < 0 {
		delay = 0
	}
	task.NotBefore = time.Now().Add(delay)
	q.arm(task, delay, 1)
	return nil
}

// arm starts a timer for one attempt. Caller holds q.mu.
func (q *LocalQueue) arm(task Task, delay time.Duration, attempt int) {
	q.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		delete(q.timers, timer)
		handler := q.handler
		q.mu.Unlock()
		q.run(handler, task, attempt)
	})
	q.timers[timer] = struct{}{}
}

func (q *LocalQueue) run(handler Handler, task Task, attempt int) {
	if handler == nil {
		q.log.WithPayload(map[string]interface{}{"task": task.Key()}).Error("no embedding task handler registered")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := handler.Handle(ctx, task)
	if err == nil {
		return
	}
	entry := q.log.WithError(models.NewErrorInfo(err, "task_error")).
		WithPayload(map[string]interface{}{"task": task.Key(), "attempt": attempt})
	if attempt >= q.maxAttempts {
		entry.Error("embedding task failed, giving up")
		return
	}
	entry.Warn("embedding task failed, retrying")

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.arm(task, time.Duration(attempt)*q.backoff, attempt+1)
	}
}

// Wait blocks until every scheduled task (including retries) has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks and drops the ones that have not fired.
// Dropped records stay not-embedded and are picked up by a backfill.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for timer := range q.timers {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.timers, timer)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

var _ Queue = (*LocalQueue)(nil)
