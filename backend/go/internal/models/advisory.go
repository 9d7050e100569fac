package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageRole 是顾问对话中消息的角色。
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// AdvisoryThread 代表一个顾问对话线程。
type AdvisoryThread struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserID          uint           `gorm:"index;not null" json:"user_id"`
	Title           string         `gorm:"size:255" json:"title"`
	ContextSnapshot datatypes.JSON `json:"context_snapshot,omitempty"` // 最近一次助手回复所使用的上下文快照
	LastMessageAt   *time.Time     `json:"last_message_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (AdvisoryThread) TableName() string {
	return "advisory_threads"
}

// AdvisoryMessage 是线程中的一条消息，只允许追加，唯一允许的修改是挂载向量。
type AdvisoryMessage struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ThreadID   uint        `gorm:"index;not null" json:"thread_id"`
	Role       MessageRole `gorm:"type:varchar(20);not null" json:"role"`
	Content    string      `gorm:"type:text;not null" json:"content"`
	Provider   *string     `gorm:"size:50" json:"provider"`
	Model      *string     `gorm:"size:100" json:"model"`
	TokensUsed *int        `json:"tokens_used"`
	EmbeddingFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AdvisoryMessage) TableName() string {
	return "advisory_messages"
}

// ContextSnapshotRecord 是上下文快照的追加式历史，每个助手回合一条，写入后不再修改。
type ContextSnapshotRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ThreadID  uint           `gorm:"index;not null" json:"thread_id"`
	MessageID uint           `gorm:"index;not null" json:"message_id"`
	Data      datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

func (ContextSnapshotRecord) TableName() string {
	return "context_snapshots"
}
