package models

import (
	"strings"
	"time"
)

// ContractStatus 定义合同状态。
type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// Contract 代表与客户签订的合同。
type Contract struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"index;not null" json:"user_id"`
	Title      string         `gorm:"size:255;not null" json:"title"`
	ClientName string         `gorm:"size:255" json:"client_name"`
	Value      float64        `gorm:"not null;default:0" json:"value"`
	Status     ContractStatus `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	StartDate  *time.Time     `json:"start_date,omitempty"`
	EndDate    *time.Time     `json:"end_date,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

// Expense 代表一笔支出。
type Expense struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Description string    `gorm:"size:255" json:"description"`
	Category    string    `gorm:"size:100;not null;default:'other'" json:"category"`
	Amount      float64   `gorm:"not null" json:"amount"`
	IncurredOn  time.Time `gorm:"index;not null" json:"incurred_on"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Expense) TableName() string { return "expenses" }

// Revenue 代表一笔收入。
type Revenue struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	Amount     float64   `gorm:"not null" json:"amount"`
	ReceivedOn time.Time `gorm:"index;not null" json:"received_on"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Revenue) TableName() string { return "revenues" }

// Product 代表对外销售的产品或服务。
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Price     float64   `json:"price"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (Product) TableName() string { return "products" }

// CashPosition 是某一天记录的现金余额，以最新一条为准。
type CashPosition struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	Balance    float64   `gorm:"not null" json:"balance"`
	RecordedOn time.Time `gorm:"index;not null" json:"recorded_on"`
}

func (CashPosition) TableName() string { return "cash_positions" }

// Significance 是业务事件的重要程度。
type Significance string

const (
	SignificanceNone     Significance = "none"
	SignificanceLow      Significance = "low"
	SignificanceMedium   Significance = "medium"
	SignificanceHigh     Significance = "high"
	SignificanceCritical Significance = "critical"
)

// Rank 返回可比较的等级，未知值视为 none。
func (s Significance) Rank() int {
	switch Significance(strings.ToLower(string(s))) {
	case SignificanceLow:
		return 1
	case SignificanceMedium:
		return 2
	case SignificanceHigh:
		return 3
	case SignificanceCritical:
		return 4
	default:
		return 0
	}
}

// BusinessEvent 是值得顾问关注的业务事件，例如支出大幅变化。
type BusinessEvent struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       uint         `gorm:"index;not null" json:"user_id"`
	EventType    string       `gorm:"size:100;not null" json:"event_type"`
	Title        string       `gorm:"size:255;not null" json:"title"`
	Description  string       `gorm:"type:text" json:"description"`
	Significance Significance `gorm:"type:varchar(20);not null;default:'low'" json:"significance"`
	OccurredAt   time.Time    `gorm:"index" json:"occurred_at"`
	EmbeddingFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BusinessEvent) TableName() string { return "business_events" }

// ProactiveInsight 是系统主动生成的建议。
type ProactiveInsight struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	UserID          uint   `gorm:"index;not null" json:"user_id"`
	BusinessEventID *uint  `gorm:"index" json:"business_event_id,omitempty"`
	InsightType     string `gorm:"size:100;not null" json:"insight_type"`
	Priority        string `gorm:"size:20;not null;default:'medium'" json:"priority"`
	Title           string `gorm:"size:255;not null" json:"title"`
	Description     string `gorm:"type:text" json:"description"`
	EmbeddingFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProactiveInsight) TableName() string { return "proactive_insights" }

// NewsItem 是抓取到的行业新闻，所有用户共享。
type NewsItem struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:512;not null" json:"title"`
	Snippet     string     `gorm:"type:text" json:"snippet"`
	URL         string     `gorm:"size:1024" json:"url"`
	Source      string     `gorm:"size:255" json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	EmbeddingFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NewsItem) TableName() string { return "news_items" }

// Setting 是按用户存储的键值配置，UserID 为 0 表示全局。
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index:idx_setting_user_key,unique;not null;default:0" json:"user_id"`
	Key       string    `gorm:"index:idx_setting_user_key,unique;size:191;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// AllModels 列出需要自动迁移的模型。
func AllModels() []interface{} {
	return []interface{}{
		&AdvisoryThread{}, &AdvisoryMessage{}, &ContextSnapshotRecord{},
		&Contract{}, &Expense{}, &Revenue{}, &Product{}, &CashPosition{},
		&BusinessEvent{}, &ProactiveInsight{}, &NewsItem{}, &Setting{},
	}
}
