package redis

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// GetClient 使用单例模式初始化并返回一个 Redis 客户端实例。
// 未启用 Redis 时返回 nil, nil，调用方退回内存实现（去抖与模型目录缓存）。
func GetClient(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	once.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			initErr = fmt.Errorf("无法连接到 Redis: %w", err)
			return
		}
		log.WithField("address", cfg.Address).Info("connected to Redis")
		client = rdb
	})

	return client, initErr
}

// Close 安全地关闭单例的 Redis 连接。
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck 检查 Redis 连接的健康状况。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("Redis 客户端未初始化")
	}
	return client.Ping(ctx).Err()
}
