package store

import (
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
)

// 每种可嵌入记录的能力描述：可嵌入列及其取值。

var MessageCapability = lifecycle.Capability[*models.AdvisoryMessage]{
	Kind:    models.KindAdvisoryMessage,
	Columns: []string{"content"},
	ID:      func(m *models.AdvisoryMessage) uint { return m.ID },
	Fields: func(m *models.AdvisoryMessage) map[string]string {
		return map[string]string{"content": m.Content}
	},
}

var NewsCapability = lifecycle.Capability[*models.NewsItem]{
	Kind:    models.KindNewsItem,
	Columns: []string{"title", "snippet"},
	ID:      func(n *models.NewsItem) uint { return n.ID },
	Fields: func(n *models.NewsItem) map[string]string {
		return map[string]string{"title": n.Title, "snippet": n.Snippet}
	},
}

var EventCapability = lifecycle.Capability[*models.BusinessEvent]{
	Kind:    models.KindBusinessEvent,
	Columns: []string{"title", "description"},
	ID:      func(e *models.BusinessEvent) uint { return e.ID },
	Fields: func(e *models.BusinessEvent) map[string]string {
		return map[string]string{"title": e.Title, "description": e.Description}
	},
	// 不重要的事件不参与检索
	AutoEmbed: func(e *models.BusinessEvent) bool {
		return e.Significance != models.SignificanceNone
	},
}

var InsightCapability = lifecycle.Capability[*models.ProactiveInsight]{
	Kind:    models.KindProactiveInsight,
	Columns: []string{"title", "description"},
	ID:      func(i *models.ProactiveInsight) uint { return i.ID },
	Fields: func(i *models.ProactiveInsight) map[string]string {
		return map[string]string{"title": i.Title, "description": i.Description}
	},
}

// tables 把记录类型映射到表名。
var tables = map[models.RecordKind]string{
	models.KindAdvisoryMessage:  models.AdvisoryMessage{}.TableName(),
	models.KindNewsItem:         models.NewsItem{}.TableName(),
	models.KindBusinessEvent:    models.BusinessEvent{}.TableName(),
	models.KindProactiveInsight: models.ProactiveInsight{}.TableName(),
}

// TableFor 返回记录类型对应的表名。
func TableFor(kind models.RecordKind) (string, bool) {
	t, ok := tables[kind]
	return t, ok
}
