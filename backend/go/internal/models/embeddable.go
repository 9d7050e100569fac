package models

import "time"

// RecordKind 标识一种可被语义检索的记录类型。
type RecordKind string

const (
	KindAdvisoryMessage  RecordKind = "advisory_message"
	KindNewsItem         RecordKind = "news_item"
	KindBusinessEvent    RecordKind = "business_event"
	KindProactiveInsight RecordKind = "proactive_insight"
)

// Kinds 按固定顺序列出所有可嵌入的记录类型。
var Kinds = []RecordKind{KindAdvisoryMessage, KindNewsItem, KindBusinessEvent, KindProactiveInsight}

// Valid 判断是否为已知的记录类型。
func (k RecordKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// RecordRef 是对一条可嵌入记录的引用。
type RecordRef struct {
	Kind RecordKind `json:"kind"`
	ID   uint       `json:"id"`
}

// EmbeddingFields 是所有可嵌入记录共享的列。
// IsEmbedded 为 true 当且仅当 Embedding 非空且维度与配置一致，只能通过 store 的
// AttachEmbedding / ClearEmbedding 修改。
type EmbeddingFields struct {
	Embedding  *string    `gorm:"type:text" json:"-"`                          // 向量字面量，例如 "[0.1,0.2]"
	IsEmbedded bool       `gorm:"index;not null;default:false" json:"is_embedded"` // 是否已生成向量
	EmbeddedAt *time.Time `json:"embedded_at,omitempty"`                       // 最近一次生成向量的时间
}
