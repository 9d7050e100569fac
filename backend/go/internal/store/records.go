package store

import (
	"BizAdvisor/backend/go/internal/embedding"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// --- Embedding columns ---

const defaultBackfillLimit = 500

// LoadSource 读取记录当前的可嵌入文本及其归属，记录不存在时返回 lifecycle.ErrRecordNotFound。
func (s *Store) LoadSource(ctx context.Context, ref models.RecordRef) (*models.EmbeddingSource, error) {
	db := s.DB.WithContext(ctx)
	src := &models.EmbeddingSource{Ref: ref}
	var err error

	switch ref.Kind {
	case models.KindAdvisoryMessage:
		var msg models.AdvisoryMessage
		if err = db.First(&msg, ref.ID).Error; err != nil {
			break
		}
		var thread models.AdvisoryThread
		if err = db.Select("id", "user_id").First(&thread, msg.ThreadID).Error; err != nil {
			break
		}
		src.OwnerID, src.ThreadID = thread.UserID, thread.ID
		src.Payload, src.RecordedAt = MessageCapability.Payload(&msg), msg.CreatedAt
	case models.KindNewsItem:
		var item models.NewsItem
		if err = db.First(&item, ref.ID).Error; err != nil {
			break
		}
		src.Payload, src.RecordedAt = NewsCapability.Payload(&item), item.CreatedAt
	case models.KindBusinessEvent:
		var ev models.BusinessEvent
		if err = db.First(&ev, ref.ID).Error; err != nil {
			break
		}
		src.OwnerID, src.RecordedAt = ev.UserID, ev.CreatedAt
		// 不再参与检索的事件返回空 payload，由 Runner 清除旧向量
		if EventCapability.Bind(&ev).AutoEmbed() {
			src.Payload = EventCapability.Payload(&ev)
		}
	case models.KindProactiveInsight:
		var in models.ProactiveInsight
		if err = db.First(&in, ref.ID).Error; err != nil {
			break
		}
		src.OwnerID = in.UserID
		src.Payload, src.RecordedAt = InsightCapability.Payload(&in), in.CreatedAt
	default:
		return nil, fmt.Errorf("unknown record kind %q", ref.Kind)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, lifecycle.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// AttachEmbedding 写入向量并置 is_embedded，维度不符时拒绝写入。
func (s *Store) AttachEmbedding(ctx context.Context, ref models.RecordRef, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding for %s:%d", ref.Kind, ref.ID)
	}
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("embedding for %s:%d has %d dimensions, want %d", ref.Kind, ref.ID, len(vec), s.dimensions)
	}
	literal := embedding.ToVectorString(vec)
	now := time.Now()
	return s.updateEmbedding(ctx, ref, map[string]interface{}{
		"embedding":   literal,
		"is_embedded": true,
		"embedded_at": now,
	})
}

// ClearEmbedding 清除向量，用于可嵌入文本变为空的记录。
func (s *Store) ClearEmbedding(ctx context.Context, ref models.RecordRef) error {
	return s.updateEmbedding(ctx, ref, map[string]interface{}{
		"embedding":   nil,
		"is_embedded": false,
		"embedded_at": nil,
	})
}

func (s *Store) updateEmbedding(ctx context.Context, ref models.RecordRef, columns map[string]interface{}) error {
	table, ok := TableFor(ref.Kind)
	if !ok {
		return fmt.Errorf("unknown record kind %q", ref.Kind)
	}
	res := s.DB.WithContext(ctx).Table(table).Where("id = ?", ref.ID).UpdateColumns(columns)
	if res.Error != nil {
		return fmt.Errorf("failed to update embedding of %s:%d: %w", ref.Kind, ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return lifecycle.ErrRecordNotFound
	}
	return nil
}

// NotEmbeddedIDs 按 ID 顺序列出尚未生成向量的记录。
func (s *Store) NotEmbeddedIDs(ctx context.Context, kind models.RecordKind, limit int) ([]uint, error) {
	table, ok := TableFor(kind)
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	var ids []uint
	err := s.DB.WithContext(ctx).Table(table).
		Scopes(lifecycle.NotEmbedded).
		Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

var (
	_ lifecycle.RecordStore = (*Store)(nil)
	_ lifecycle.Lister      = (*Store)(nil)
)
