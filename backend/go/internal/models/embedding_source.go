package models

import "time"

// EmbeddingSource 是计算并索引一条记录向量所需的信息。
type EmbeddingSource struct {
	Ref        RecordRef
	OwnerID    uint   // 新闻为 0（全局）
	ThreadID   uint   // 仅消息有效
	Payload    string // 拼接后的可嵌入文本
	RecordedAt time.Time
}
