package vectorsearch

import (
	"BizAdvisor/backend/go/internal/embedding"
	"BizAdvisor/backend/go/internal/models"
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SQLIndex scans embedded rows in the relational store and computes cosine
// distance in process. It is the default index and the hydrator for Milvus hits.
type SQLIndex struct {
	db *gorm.DB
}

func NewSQLIndex(db *gorm.DB) *SQLIndex {
	return &SQLIndex{db: db}
}

type candidateRow struct {
	ID           uint
	ThreadID     uint
	OwnerID      uint
	Role         string
	Title        string
	Content      string
	EventType    string
	Significance string
	InsightType  string
	Priority     string
	URL          string
	Source       string
	Embedding    *string
	CreatedAt    time.Time
}

func (r candidateRow) result(kind models.RecordKind) Result {
	return Result{
		Ref:          models.RecordRef{Kind: kind, ID: r.ID},
		Title:        r.Title,
		Content:      r.Content,
		Role:         models.MessageRole(r.Role),
		ThreadID:     r.ThreadID,
		EventType:    r.EventType,
		Significance: models.Significance(r.Significance),
		InsightType:  r.InsightType,
		Priority:     r.Priority,
		URL:          r.URL,
		Source:       r.Source,
		RecordedAt:   r.CreatedAt,
	}
}

// rows selects the display columns of kind under common aliases; prefix is
// the table alias used in where clauses.
func (x *SQLIndex) rows(ctx context.Context, kind models.RecordKind) (*gorm.DB, string, error) {
	db := x.db.WithContext(ctx)
	switch kind {
	case models.KindAdvisoryMessage:
		return db.Table("advisory_messages AS r").
			Select("r.id, r.thread_id, t.user_id AS owner_id, r.role, r.content, r.embedding, r.created_at").
			Joins("JOIN advisory_threads AS t ON t.id = r.thread_id"), "t.user_id", nil
	case models.KindNewsItem:
		return db.Table("news_items AS r").
			Select("r.id, r.title, r.snippet AS content, r.url, r.source, r.embedding, r.created_at"), "", nil
	case models.KindBusinessEvent:
		return db.Table("business_events AS r").
			Select("r.id, r.user_id AS owner_id, r.title, r.description AS content, r.event_type, r.significance, r.embedding, r.created_at"), "r.user_id", nil
	case models.KindProactiveInsight:
		return db.Table("proactive_insights AS r").
			Select("r.id, r.user_id AS owner_id, r.title, r.description AS content, r.insight_type, r.priority, r.embedding, r.created_at"), "r.user_id", nil
	default:
		return nil, "", fmt.Errorf("unknown record kind %q", kind)
	}
}

// Search implements Index.
func (x *SQLIndex) Search(ctx context.Context, vec []float32, f Filter) ([]Result, error) {
	q, ownerCol, err := x.rows(ctx, f.Kind)
	if err != nil {
		return nil, err
	}
	q = q.Where("r.is_embedded = ?", true)
	if !f.Global && ownerCol != "" {
		q = q.Where(ownerCol+" = ?", f.OwnerID)
	}
	if !f.Since.IsZero() {
		q = q.Where("r.created_at >= ?", f.Since)
	}
	if f.ExcludeThread != 0 && f.Kind == models.KindAdvisoryMessage {
		q = q.Where("r.thread_id <> ?", f.ExcludeThread)
	}

	var rows []candidateRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to scan %s embeddings: %w", f.Kind, err)
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		if row.Embedding == nil {
			continue
		}
		stored, err := embedding.ParseVectorString(*row.Embedding)
		if err != nil {
			continue
		}
		d := embedding.CosineDistance(vec, stored)
		if !(d < f.Threshold) {
			continue
		}
		r := row.result(f.Kind)
		r.Distance = d
		out = append(out, r)
	}
	return out, nil
}

// Describe loads display fields for ids of one kind, keyed by ID.
func (x *SQLIndex) Describe(ctx context.Context, kind models.RecordKind, ids []uint) (map[uint]Result, error) {
	out := make(map[uint]Result, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, _, err := x.rows(ctx, kind)
	if err != nil {
		return nil, err
	}
	var rows []candidateRow
	if err := q.Where("r.id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to describe %s records: %w", kind, err)
	}
	for _, row := range rows {
		out[row.ID] = row.result(kind)
	}
	return out, nil
}

var _ Index = (*SQLIndex)(nil)
