package milvus

import (
	"BizAdvisor/backend/go/internal/config"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// 向量集合的字段名。
const (
	FieldPK         = "pk" // "kind:id"
	FieldKind       = "kind"
	FieldOwnerID    = "owner_id"
	FieldThreadID   = "thread_id"
	FieldRecordedAt = "recorded_at" // unix 秒
	FieldEmbedding  = "embedding"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 包含了 Milvus 客户端实例和相关配置。
type MilvusClient struct {
	Client client.Client        // Milvus 客户端实例。
	Config *config.MilvusConfig // Milvus 配置。
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端实例。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		log.Println("✅ 成功连接到 Milvus!")
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 安全地关闭与 Milvus 的连接。
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.Client.Close()
		log.Println("ℹ️ 已安全关闭 Milvus 连接。")
	}
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// Schema 返回顾问向量集合的 Schema，dim 为向量维度。
func Schema(name string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(name).
		WithDescription("advisor embeddings").
		WithField(entity.NewField().WithName(FieldPK).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldKind).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
		WithField(entity.NewField().WithName(FieldOwnerID).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldThreadID).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldRecordedAt).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))
}

// EnsureCollection 确保集合存在、已建索引并已加载。
func (c *MilvusClient) EnsureCollection(ctx context.Context, dim int) error {
	collName := c.Config.CollectionName
	exists, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		if err := c.Client.CreateCollection(ctx, Schema(collName, dim), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := c.BuildIndex()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, collName, FieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", FieldEmbedding, err)
		}
		log.Printf("✅ 成功创建集合: %s", collName)
	}

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

// BuildIndex 根据配置构建使用余弦距离的索引。
func (c *MilvusClient) BuildIndex() (entity.Index, error) {
	nlist := c.Config.Nlist
	if nlist <= 0 {
		nlist = 128
	}
	switch c.Config.IndexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlat(entity.COSINE, nlist)
	case "HNSW", "":
		m, ef := c.Config.M, c.Config.EfConstruction
		if m <= 0 {
			m = 8
		}
		if ef <= 0 {
			ef = 96
		}
		return entity.NewIndexHNSW(entity.COSINE, m, ef)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(entity.COSINE)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", c.Config.IndexType)
	}
}

// SearchParam 返回与索引类型匹配的搜索参数。
func (c *MilvusClient) SearchParam() (entity.SearchParam, error) {
	switch c.Config.IndexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlatSearchParam(16)
	case "HNSW", "":
		return entity.NewIndexHNSWSearchParam(64)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEXSearchParam(1)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", c.Config.IndexType)
	}
}
