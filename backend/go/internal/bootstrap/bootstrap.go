// Package bootstrap wires the storage and embedding pipeline shared by the
// advisor service and the embedding worker.
package bootstrap

import (
	"BizAdvisor/backend/go/internal/config"
	kafkadb "BizAdvisor/backend/go/internal/database/kafka"
	milvusdb "BizAdvisor/backend/go/internal/database/milvus"
	mysqldb "BizAdvisor/backend/go/internal/database/mysql"
	redisdb "BizAdvisor/backend/go/internal/database/redis"
	"BizAdvisor/backend/go/internal/embedding"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/settings"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/internal/vectorsearch"
	httpx "BizAdvisor/backend/go/pkg/http"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	kafkago "github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Components holds the shared dependencies. Queue is a *lifecycle.LocalQueue
// or a *lifecycle.KafkaQueue depending on queue.driver.
type Components struct {
	Config   *config.AppConfig
	DB       *gorm.DB
	Redis    *redis.Client // nil when disabled
	Milvus   *milvusdb.MilvusClient
	Settings *settings.Store
	Queue    lifecycle.Queue
	Tracker  *lifecycle.Tracker
	Store    *store.Store
	Embedder *embedding.Generator
	Index    vectorsearch.Index
	Runner   *lifecycle.Runner
	Search   *vectorsearch.Engine

	local  *lifecycle.LocalQueue
	writer *kafkago.Writer
	logger *logger.Logger
}

// New connects to the configured backends and builds the pipeline. With the
// local queue driver the runner is attached to the in-process queue.
func New(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) (*Components, error) {
	c := &Components{Config: cfg, logger: log}

	db, err := mysqldb.GetDB(&cfg.Databases.MySQL, log)
	if err != nil {
		return nil, err
	}
	c.DB = db

	if c.Redis, err = redisdb.GetClient(ctx, &cfg.Databases.Redis, log); err != nil {
		return nil, err
	}
	c.Settings = settings.NewStore(db, settings.Defaults(cfg))

	switch cfg.Queue.Driver {
	case "kafka":
		kcfg := cfg.Databases.Kafka
		kcfg.Topics = append(append([]string{}, kcfg.Topics...), cfg.Queue.Topic)
		if err := kafkadb.EnsureTopics(&kcfg, log); err != nil {
			return nil, err
		}
		c.writer = kafkadb.NewWriter(&kcfg)
		c.Queue = lifecycle.NewKafkaQueue(c.writer, cfg.Queue.Topic)
	default:
		c.local = lifecycle.NewLocalQueue(nil, log)
		c.Queue = c.local
	}

	var debouncer lifecycle.Debouncer = lifecycle.NewMemoryDebouncer()
	if c.Redis != nil {
		debouncer = lifecycle.NewRedisDebouncer(c.Redis)
	}
	c.Tracker = lifecycle.NewTracker(c.Queue, config.Duration(cfg.Embedding.Delay, 5*time.Second), log,
		lifecycle.WithDebouncer(debouncer))
	c.Store = store.New(db, cfg.Embedding.Dimensions, c.Tracker)

	c.Embedder = embedding.NewGenerator(cfg.Embedding, c.Settings, log,
		embedding.WithHTTPClient(httpx.NewClient(cfg.Middleware.CircuitBreaker, config.Duration(cfg.Embedding.Timeout, 30*time.Second))))

	sqlIndex := vectorsearch.NewSQLIndex(db)
	c.Index = sqlIndex
	var indexer lifecycle.Indexer
	if cfg.Databases.Milvus.Enabled {
		mc, err := milvusdb.GetClient(ctx, &cfg.Databases.Milvus)
		if err != nil {
			return nil, err
		}
		if err := mc.EnsureCollection(ctx, cfg.Embedding.Dimensions); err != nil {
			return nil, fmt.Errorf("prepare milvus collection: %w", err)
		}
		c.Milvus = mc
		mi := vectorsearch.NewMilvusIndex(mc, sqlIndex)
		c.Index, indexer = mi, mi
	}

	c.Runner = lifecycle.NewRunner(c.Store, c.Embedder, indexer, log)
	if c.local != nil {
		c.local.SetHandler(c.Runner)
	}
	c.Search = vectorsearch.NewEngine(c.Embedder, c.Index, cfg.Search, log)
	return c, nil
}

// Backfill schedules every not-embedded record of every kind.
func (c *Components) Backfill(ctx context.Context, limit int) (int, error) {
	total := 0
	for _, kind := range []models.RecordKind{
		models.KindAdvisoryMessage, models.KindNewsItem, models.KindBusinessEvent, models.KindProactiveInsight,
	} {
		n, err := c.Tracker.Backfill(ctx, c.Store, kind, limit)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// HealthCheck pings every enabled backend. The map holds one entry per backend,
// empty when healthy.
func (c *Components) HealthCheck(ctx context.Context) map[string]string {
	out := map[string]string{"mysql": errString(mysqldb.HealthCheck(ctx))}
	if c.Redis != nil {
		out["redis"] = errString(redisdb.HealthCheck(ctx))
	}
	if c.Milvus != nil {
		out["milvus"] = errString(c.Milvus.HealthCheck(ctx))
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Close releases the backends. Pending local tasks are dropped.
func (c *Components) Close() {
	if c.local != nil {
		c.local.Close()
	}
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "kafka_error")).Error("Error closing Kafka writer")
		}
	}
	if c.Milvus != nil {
		c.Milvus.Close()
	}
	if err := redisdb.Close(); err != nil {
		c.logger.WithError(models.NewErrorInfo(err, "redis_error")).Error("Error closing Redis")
	}
	if err := mysqldb.Close(); err != nil {
		c.logger.WithError(models.NewErrorInfo(err, "mysql_error")).Error("Error closing MySQL")
	}
}
