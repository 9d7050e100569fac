package llm

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"BizAdvisor/backend/go/pkg/util"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// CatalogTTL is how long a fetched model list stays cached.
const CatalogTTL = 24 * time.Hour

// nonChatMarkers exclude model ids that cannot hold a conversation.
var nonChatMarkers = []string{
	"embedding", "embed", "whisper", "tts", "audio", "dall-e",
	"image", "realtime", "transcribe", "moderation", "search",
}

// familyPriority ranks model families, best first. Ids matching no family sort last.
var familyPriority = map[ProviderName][]string{
	ProviderClaude: {"opus", "sonnet", "haiku"},
	ProviderOpenAI: {"gpt-5", "gpt-4.1", "gpt-4o", "o4", "o3", "o1", "gpt-4", "gpt-3.5"},
}

// ModelCache is an optional second cache level shared between processes.
type ModelCache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, ids []string, ttl time.Duration) error
}

// RedisModelCache stores model lists as JSON strings.
type RedisModelCache struct {
	client *redis.Client
	prefix string
}

// NewRedisModelCache wraps client. Keys are prefixed with "models:".
func NewRedisModelCache(client *redis.Client) *RedisModelCache {
	return &RedisModelCache{client: client, prefix: "models:"}
}

// Get implements ModelCache. Any error counts as a miss.
func (c *RedisModelCache) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// Set implements ModelCache.
func (c *RedisModelCache) Set(ctx context.Context, key string, ids []string, ttl time.Duration) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

// CatalogEndpoints are the base URLs the catalog lists models from.
type CatalogEndpoints struct {
	ClaudeBaseURL string
	OpenAIBaseURL string
}

// Catalog lists the chat-capable models a credential can use.
type Catalog struct {
	endpoints CatalogEndpoints
	client    *http.Client
	cache     *util.LRUCache[string, []string]
	l2        ModelCache
	logger    *logger.Logger
}

// NewCatalog creates a Catalog. client should carry the catalog timeout; l2 may be nil.
func NewCatalog(endpoints CatalogEndpoints, client *http.Client, l2 ModelCache, log *logger.Logger) *Catalog {
	if endpoints.ClaudeBaseURL == "" {
		endpoints.ClaudeBaseURL = "https://api.anthropic.com"
	}
	if endpoints.OpenAIBaseURL == "" {
		endpoints.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	cache, _ := util.NewWithConfig[string, []string](util.CacheConfig{Capacity: 256, TTL: CatalogTTL})
	return &Catalog{endpoints: endpoints, client: client, cache: cache, l2: l2, logger: log}
}

// CacheKey is "provider:" followed by the sha256 of apiKey in hex.
func CacheKey(provider ProviderName, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return string(provider) + ":" + hex.EncodeToString(sum[:])
}

// Models returns the filtered, ranked model ids of provider. Upstream failures
// are returned and never cached.
func (c *Catalog) Models(ctx context.Context, provider ProviderName, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: provider, Reason: "api key is missing"}
	}
	key := CacheKey(provider, apiKey)
	if ids, ok := c.cache.Get(key); ok {
		return ids, nil
	}
	if c.l2 != nil {
		if ids, ok := c.l2.Get(ctx, key); ok {
			c.cache.Put(key, ids)
			return ids, nil
		}
	}

	var raw []string
	var err error
	switch provider {
	case ProviderClaude:
		raw, err = c.fetchClaude(ctx, apiKey)
	case ProviderOpenAI:
		raw, err = c.fetchOpenAI(ctx, apiKey)
	default:
		return nil, &ConfigurationError{Provider: provider, Reason: "provider has no model catalog"}
	}
	if err != nil {
		err = upstream(provider, err)
		c.logger.WithError(models.NewErrorInfo(err, "catalog_error")).
			WithPayload(map[string]interface{}{"provider": string(provider)}).
			Warn("model catalog fetch failed")
		return nil, err
	}

	ids := RankModels(provider, raw)
	c.cache.Put(key, ids)
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, ids, CatalogTTL); err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "cache_error")).Warn("model catalog cache write failed")
		}
	}
	return ids, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Catalog) fetchClaude(ctx context.Context, apiKey string) ([]string, error) {
	url := strings.TrimRight(c.endpoints.ClaudeBaseURL, "/") + "/v1/models?limit=1000"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &UpstreamError{Provider: ProviderClaude, StatusCode: resp.StatusCode, Body: string(raw),
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Catalog) fetchOpenAI(ctx context.Context, apiKey string) ([]string, error) {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(c.endpoints.OpenAIBaseURL, "/")
	cfg.HTTPClient = c.client

	list, err := openai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// RankModels drops non-chat ids and orders the rest by family priority, then
// by id descending so newer dated releases come first.
func RankModels(provider ProviderName, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if isChatModel(id) {
			out = append(out, id)
		}
	}
	families := familyPriority[provider]
	rank := func(id string) int {
		lower := strings.ToLower(id)
		for i, f := range families {
			if strings.Contains(lower, f) {
				return i
			}
		}
		return len(families)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] > out[j]
	})
	return out
}

func isChatModel(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range nonChatMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
