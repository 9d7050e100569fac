package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrRecordNotFound is returned by a RecordStore when the record was deleted
// before its task ran.
var ErrRecordNotFound = errors.New("record not found")

// RecordStore loads and updates the embedding columns of records.
type RecordStore interface {
	LoadSource(ctx context.Context, ref models.RecordRef) (*models.EmbeddingSource, error)
	AttachEmbedding(ctx context.Context, ref models.RecordRef, vec []float32) error
	ClearEmbedding(ctx context.Context, ref models.RecordRef) error
}

// Embedder computes one vector; nil means the embedding is unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Indexer mirrors stored embeddings into an external vector index.
type Indexer interface {
	Upsert(ctx context.Context, src *models.EmbeddingSource, vec []float32) error
	Delete(ctx context.Context, ref models.RecordRef) error
}

// Runner executes embedding tasks.
type Runner struct {
	store    RecordStore
	embedder Embedder
	indexer  Indexer
	logger   *logger.Logger
}

// NewRunner creates a Runner. indexer may be nil.
func NewRunner(store RecordStore, embedder Embedder, indexer Indexer, log *logger.Logger) *Runner {
	return &Runner{store: store, embedder: embedder, indexer: indexer, logger: log}
}

// Handle implements Handler. The payload is read when the task fires, so the
// latest content wins. A failed embedding leaves the record unchanged.
func (r *Runner) Handle(ctx context.Context, task Task) error {
	ref := task.Ref()
	log := r.logger.WithPayload(map[string]interface{}{"task": task.Key()})

	src, err := r.store.LoadSource(ctx, ref)
	if errors.Is(err, ErrRecordNotFound) {
		log.Debug("record deleted before embedding")
		r.unindex(ctx, ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", task.Key(), err)
	}

	if strings.TrimSpace(src.Payload) == "" {
		if err := r.store.ClearEmbedding(ctx, ref); err != nil {
			return fmt.Errorf("clear %s: %w", task.Key(), err)
		}
		r.unindex(ctx, ref)
		return nil
	}

	vec := r.embedder.Embed(ctx, src.Payload)
	if vec == nil {
		log.Warn("embedding unavailable, record left not embedded")
		return nil
	}
	if err := r.store.AttachEmbedding(ctx, ref, vec); err != nil {
		return fmt.Errorf("attach %s: %w", task.Key(), err)
	}
	if r.indexer != nil {
		if err := r.indexer.Upsert(ctx, src, vec); err != nil {
			log.WithError(models.NewErrorInfo(err, "index_error")).Warn("vector index upsert failed")
		}
	}
	log.Debug("record embedded")
	return nil
}

func (r *Runner) unindex(ctx context.Context, ref models.RecordRef) {
	if r.indexer == nil {
		return
	}
	if err := r.indexer.Delete(ctx, ref); err != nil {
		r.logger.WithError(models.NewErrorInfo(err, "index_error")).Warn("vector index delete failed")
	}
}

// Embedded restricts a query to records that carry an embedding.
func Embedded(db *gorm.DB) *gorm.DB {
	return db.Where("is_embedded = ?", true)
}

// NotEmbedded restricts a query to records still waiting for an embedding.
func NotEmbedded(db *gorm.DB) *gorm.DB {
	return db.Where("is_embedded = ?", false)
}

var _ Handler = (*Runner)(nil)
