package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"strings"
	"time"
)

// Tracker turns record writes into deferred embedding tasks.
type Tracker struct {
	queue     Queue
	debouncer Debouncer
	delay     time.Duration
	delays    map[models.RecordKind]time.Duration
	log       *logger.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithDebouncer collapses repeated schedules of one record inside the delay window.
func WithDebouncer(d Debouncer) TrackerOption {
	return func(t *Tracker) { t.debouncer = d }
}

// WithKindDelay overrides the schedule delay for one record kind.
func WithKindDelay(kind models.RecordKind, delay time.Duration) TrackerOption {
	return func(t *Tracker) { t.delays[kind] = delay }
}

func NewTracker(queue Queue, delay time.Duration, log *logger.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		queue:  queue,
		delay:  delay,
		delays: make(map[models.RecordKind]time.Duration),
		log:    log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay returns the schedule delay used for kind.
func (t *Tracker) Delay(kind models.RecordKind) time.Duration {
	if d, ok := t.delays[kind]; ok {
		return d
	}
	return t.delay
}

// Created schedules the first embedding of a freshly persisted record.
// Records that opt out of auto-embedding or have nothing to embed are skipped.
func (t *Tracker) Created(ctx context.Context, rec Embeddable) (bool, error) {
	if !rec.AutoEmbed() || strings.TrimSpace(rec.Payload()) == "" {
		return false, nil
	}
	return t.schedule(ctx, rec.Ref(), true)
}

// Updated schedules a re-embedding when an embeddable column changed or the
// record moved in or out of auto-embedding. A payload that became blank, or a
// record that is no longer eligible, is still scheduled so the runner clears
// the stale vector.
func (t *Tracker) Updated(ctx context.Context, before, after Embeddable) (bool, error) {
	eligibilityChanged := before.AutoEmbed() != after.AutoEmbed()
	if !eligibilityChanged && (!after.AutoEmbed() || !Changed(before, after)) {
		return false, nil
	}
	return t.schedule(ctx, after.Ref(), true)
}

// Reembed schedules ref immediately, bypassing the change gate and the debounce.
func (t *Tracker) Reembed(ctx context.Context, ref models.RecordRef) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", ref.Kind)
	}
	return t.queue.Schedule(ctx, Task{Kind: ref.Kind, ID: ref.ID}, 0)
}

func (t *Tracker) schedule(ctx context.Context, ref models.RecordRef, debounce bool) (bool, error) {
	task := Task{Kind: ref.Kind, ID: ref.ID}
	delay := t.Delay(ref.Kind)
	if debounce && t.debouncer != nil {
		ok, err := t.debouncer.Acquire(ctx, task.Key(), delay)
		switch {
		case err != nil:
			t.log.WithError(models.NewErrorInfo(err, "debounce_error")).
				WithPayload(map[string]interface{}{"task": task.Key()}).
				Warn("debounce unavailable, scheduling anyway")
		case !ok:
			return false, nil
		}
	}
	if err := t.queue.Schedule(ctx, task, delay); err != nil {
		return false, fmt.Errorf("schedule %s: %w", task.Key(), err)
	}
	return true, nil
}

// Lister enumerates records of one kind that still lack an embedding.
type Lister interface {
	NotEmbeddedIDs(ctx context.Context, kind models.RecordKind, limit int) ([]uint, error)
}

// Backfill schedules up to limit not-embedded records of kind and returns how many were scheduled.
func (t *Tracker) Backfill(ctx context.Context, lister Lister, kind models.RecordKind, limit int) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown record kind %q", kind)
	}
	ids, err := lister.NotEmbeddedIDs(ctx, kind, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := t.queue.Schedule(ctx, Task{Kind: kind, ID: id}, 0); err != nil {
			return n, fmt.Errorf("schedule %s:%d: %w", kind, id, err)
		}
		n++
	}
	return n, nil
}

// Create persists rec with save, then schedules its embedding. A scheduling
// failure is logged and leaves the record for a later backfill.
func Create[T any](ctx context.Context, t *Tracker, c Capability[T], rec T, save func(context.Context, T) error) error {
	if err := save(ctx, rec); err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if _, err := t.Created(ctx, c.Bind(rec)); err != nil {
		t.log.WithError(models.NewErrorInfo(err, "schedule_error")).Warn("embedding not scheduled")
	}
	return nil
}

// Update persists after with save, then schedules a re-embedding if an embeddable column changed.
func Update[T any](ctx context.Context, t *Tracker, c Capability[T], before, after T, save func(context.Context, T) error) error {
	if err := save(ctx, after); err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if _, err := t.Updated(ctx, c.Bind(before), c.Bind(after)); err != nil {
		t.log.WithError(models.NewErrorInfo(err, "schedule_error")).Warn("embedding not scheduled")
	}
	return nil
}
