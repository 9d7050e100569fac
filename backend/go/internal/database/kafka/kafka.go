// Package kafka 创建向量任务队列使用的 Kafka writer 与 reader。
package kafka

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/pkg/logger"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics 连接到第一个 broker，创建配置中尚不存在的主题。
func EnsureTopics(cfg *config.KafkaConfig, log *logger.Logger) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("未配置 Kafka brokers")
	}
	if len(cfg.Topics) == 0 {
		return nil
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	toCreate := MissingTopics(cfg.Topics, partitions)
	if len(toCreate) == 0 {
		return nil
	}
	if err := conn.CreateTopics(toCreate...); err != nil {
		return fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}
	log.WithField("count", len(toCreate)).Info("created Kafka topics")
	return nil
}

// MissingTopics 返回 partitions 中不存在的主题配置。
func MissingTopics(topics []string, partitions []kafka.Partition) []kafka.TopicConfig {
	existing := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}
	var out []kafka.TopicConfig
	for _, name := range topics {
		if _, ok := existing[name]; ok {
			continue
		}
		existing[name] = struct{}{}
		out = append(out, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	return out
}

// NewWriter 创建一个不绑定主题的 writer，主题由每条消息指定。
// 键哈希保证同一条记录的任务落在同一分区。
func NewWriter(cfg *config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewReader 创建 topic 上的消费者组 reader，偏移量由调用方显式提交。
func NewReader(cfg *config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxAttempts:    10,
		CommitInterval: 0,
		Dialer: &kafka.Dialer{
			Timeout: 10 * time.Second,
		},
	})
}
