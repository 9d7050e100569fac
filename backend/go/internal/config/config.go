package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MilvusConfig 定义了 Milvus 向量库的连接与集合配置。
type MilvusConfig struct {
	Enabled        bool   `yaml:"enabled"`        // 是否启用 Milvus 作为向量索引，未启用时使用 SQL 索引
	Address        string `yaml:"address"`        // Milvus 服务地址
	CollectionName string `yaml:"collectionName"` // 集合名称
	IndexType      string `yaml:"indexType"`      // 索引类型 (例如: "HNSW", "IVF_FLAT", "AUTOINDEX")
	Nlist          int    `yaml:"nlist"`          // IVF 类索引参数
	M              int    `yaml:"m"`              // HNSW 参数
	EfConstruction int    `yaml:"efConstruction"` // HNSW 参数
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用 Redis (去抖与模型目录二级缓存)
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topics  []string `yaml:"topics"`  // 启动时需要确保存在的主题
	GroupID string   `yaml:"groupID"` // 消费者组
}

// DatabaseConfigs 包含所有存储后端的配置。
type DatabaseConfigs struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Milvus MilvusConfig `yaml:"milvus"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	HTTPAddr    string `yaml:"httpAddr"`    // HTTP 监听地址
}

// AuthConfig 用于配置认证。
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"` // JWT 密钥，为空时关闭认证（仅限开发环境）
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ProviderConfig 是单个聊天模型提供商的默认配置，可被运行时设置覆盖。
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`  // API 密钥
	Model   string `yaml:"model"`   // 默认模型
	BaseURL string `yaml:"baseURL"` // 服务地址
}

// LLMConfig 包含了不同LLM提供商的配置。
type LLMConfig struct {
	DefaultProvider string         `yaml:"defaultProvider"` // 默认提供商 ("claude", "openai", "ollama")
	MaxTokens       int            `yaml:"maxTokens"`       // 单次回复的最大 token 数
	Timeout         string         `yaml:"timeout"`         // 聊天请求超时，例如 "120s"
	CatalogTimeout  string         `yaml:"catalogTimeout"`  // 模型目录请求超时
	Claude          ProviderConfig `yaml:"claude"`
	OpenAI          ProviderConfig `yaml:"openai"`
	Ollama          ProviderConfig `yaml:"ollama"`
}

// EmbeddingConfig 包含了 Embedding 生成器的配置。
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`   // Embedding提供商 ("openai", "ollama", "gemini")
	Model      string `yaml:"model"`      // 模型名称
	APIKey     string `yaml:"apiKey"`     // API 密钥，可被运行时设置覆盖
	BaseURL    string `yaml:"baseURL"`    // 服务地址
	Dimensions int    `yaml:"dimensions"` // 向量维度
	MaxTokens  int    `yaml:"maxTokens"`  // 单条输入的 token 上限，按每 token 4 个字符截断
	Delay      string `yaml:"delay"`      // 创建或修改后延迟多久生成向量
	Timeout    string `yaml:"timeout"`    // 请求超时
}

// SearchParams 是单类检索的默认参数。
type SearchParams struct {
	Threshold float64 `yaml:"threshold"` // 距离阈值，严格小于才命中
	Limit     int     `yaml:"limit"`     // 返回条数上限
	Days      int     `yaml:"days"`      // 时间窗口（天），0 表示不限
}

// SearchConfig 包含各类检索的默认参数。
type SearchConfig struct {
	Messages SearchParams `yaml:"messages"`
	News     SearchParams `yaml:"news"`
	Events   SearchParams `yaml:"events"`
	Insights SearchParams `yaml:"insights"`
}

// InsightConfig 是主动洞察的产品策略常量，尚待产品确认。
type InsightConfig struct {
	MinSignificance  string  `yaml:"minSignificance"`  // 低于该重要程度的事件不生成洞察
	ExpenseChangePct float64 `yaml:"expenseChangePct"` // 支出环比变化阈值 (%)
	RevenueChangePct float64 `yaml:"revenueChangePct"` // 收入环比变化阈值 (%)
}

// QueueConfig 定义向量生成任务的投递方式。
type QueueConfig struct {
	Driver string `yaml:"driver"` // "local" 或 "kafka"
	Topic  string `yaml:"topic"`  // kafka 主题
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了令牌桶限流器的配置，按用户限流。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`
	Auth       AuthConfig       `yaml:"auth"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Insight    InsightConfig    `yaml:"insight"`
	Queue      QueueConfig      `yaml:"queue"`
	Logger     LoggerConfig     `yaml:"logger"`
	Databases  DatabaseConfigs  `yaml:"databases"`
	Middleware MiddlewareConfig `yaml:"middleware"`
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件，并补齐默认值。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置。
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 为未配置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bizadvisor"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8080"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}

	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "claude"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	defaultString(&c.LLM.Timeout, "120s")
	defaultString(&c.LLM.CatalogTimeout, "30s")
	defaultString(&c.LLM.Claude.Model, "claude-sonnet-4-20250514")
	defaultString(&c.LLM.Claude.BaseURL, "https://api.anthropic.com")
	defaultString(&c.LLM.OpenAI.Model, "gpt-4o")
	defaultString(&c.LLM.OpenAI.BaseURL, "https://api.openai.com/v1")
	defaultString(&c.LLM.Ollama.Model, "llama3.1")
	defaultString(&c.LLM.Ollama.BaseURL, "http://localhost:11434")

	defaultString(&c.Embedding.Provider, "openai")
	defaultString(&c.Embedding.Model, "text-embedding-3-small")
	defaultString(&c.Embedding.BaseURL, "https://api.openai.com/v1")
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.MaxTokens == 0 {
		c.Embedding.MaxTokens = 8000
	}
	defaultString(&c.Embedding.Delay, "5s")
	defaultString(&c.Embedding.Timeout, "30s")

	defaultSearch(&c.Search.Messages, 0.35, 5, 0)
	defaultSearch(&c.Search.News, 0.30, 5, 0)
	defaultSearch(&c.Search.Events, 0.40, 5, 90)
	defaultSearch(&c.Search.Insights, 0.20, 3, 0)

	defaultString(&c.Insight.MinSignificance, "low")
	if c.Insight.ExpenseChangePct == 0 {
		c.Insight.ExpenseChangePct = 10
	}
	if c.Insight.RevenueChangePct == 0 {
		c.Insight.RevenueChangePct = 20
	}

	defaultString(&c.Queue.Driver, "local")
	defaultString(&c.Queue.Topic, "embedding-tasks")
	defaultString(&c.Databases.Kafka.GroupID, "embedding-workers")
	defaultString(&c.Databases.Milvus.CollectionName, "advisor_embeddings")
	defaultString(&c.Databases.Milvus.IndexType, "HNSW")

	if c.Middleware.RateLimiter.Rate == 0 {
		c.Middleware.RateLimiter.Rate = 1
	}
	if c.Middleware.RateLimiter.Capacity == 0 {
		c.Middleware.RateLimiter.Capacity = 5
	}
	if c.Middleware.CircuitBreaker.FailureThreshold == 0 {
		c.Middleware.CircuitBreaker.FailureThreshold = 5
	}
	if c.Middleware.CircuitBreaker.SuccessThreshold == 0 {
		c.Middleware.CircuitBreaker.SuccessThreshold = 1
	}
	defaultString(&c.Middleware.CircuitBreaker.Timeout, "30s")
}

// Validate 检查配置中的时长字段与枚举值是否合法。
func (c *AppConfig) Validate() error {
	for name, value := range map[string]string{
		"llm.timeout":                       c.LLM.Timeout,
		"llm.catalogTimeout":                c.LLM.CatalogTimeout,
		"embedding.delay":                   c.Embedding.Delay,
		"embedding.timeout":                 c.Embedding.Timeout,
		"middleware.circuitBreaker.timeout": c.Middleware.CircuitBreaker.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("配置项 %s 不是合法的时长 '%s': %w", name, value, err)
		}
	}
	switch c.Queue.Driver {
	case "local", "kafka":
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions 必须为正数")
	}
	return nil
}

// Duration 解析时长字符串，非法时返回 fallback。调用前应已通过 Validate。
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func defaultString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func defaultSearch(p *SearchParams, threshold float64, limit, days int) {
	if p.Threshold == 0 {
		p.Threshold = threshold
	}
	if p.Limit == 0 {
		p.Limit = limit
	}
	if p.Days == 0 {
		p.Days = days
	}
}
