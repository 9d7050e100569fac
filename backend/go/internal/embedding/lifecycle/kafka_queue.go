package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the queue needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaQueue publishes tasks to a topic. Delivery time travels in the message
// as not_before and is honoured by KafkaConsumer.
type KafkaQueue struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

func NewKafkaQueue(writer MessageWriter, topic string) *KafkaQueue {
	return &KafkaQueue{writer: writer, topic: topic, now: time.Now}
}

// Schedule implements Queue.
func (q *KafkaQueue) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	task.NotBefore = q.now().Add(delay).UTC()
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding task: %w", err)
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.topic,
		Key:   []byte(task.Key()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write embedding task to kafka: %w", err)
	}
	return nil
}

// KafkaConsumer reads tasks from the topic and hands them to a Handler once
// their not_before has passed.
type KafkaConsumer struct {
	reader      MessageReader
	handler     Handler
	logger      *logger.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewKafkaConsumer(reader MessageReader, handler Handler, log *logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:      reader,
		handler:     handler,
		logger:      log,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		now:         time.Now,
	}
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.WithError(models.NewErrorInfo(err, "kafka_error")).Error("failed to fetch message")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// cancelled while waiting; leave the offset uncommitted
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "kafka_error")).Error("failed to commit message")
		}
	}
}

// process returns a non-nil error only when ctx ended before the task ran.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Value, &task); err != nil || !task.Kind.Valid() {
		c.logger.WithPayload(map[string]interface{}{"offset": msg.Offset, "key": string(msg.Key)}).
			Error("failed to unmarshal embedding task, skipping")
		return nil
	}

	if wait := task.NotBefore.Sub(c.now()); wait > 0 {
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}

	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, task)
		if err == nil {
			return nil
		}
		entry := c.logger.WithError(models.NewErrorInfo(err, "task_error")).
			WithPayload(map[string]interface{}{"task": task.Key(), "attempt": attempt})
		if attempt >= c.maxAttempts {
			entry.Error("embedding task failed, giving up")
			return nil
		}
		entry.Warn("embedding task failed, retrying")
		if !sleep(ctx, time.Duration(attempt)*c.backoff) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ Queue = (*KafkaQueue)(nil)
