package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/anticorruption-bot/pkg/cache"
	ctxlog "github.com/kart-io/anticorruption-bot/pkg/infra/logger"
)

// AnswerCacheConfig 答案缓存配置。
type AnswerCacheConfig struct {
	// Size 进程内缓存条目上限。
	Size int
	// TTL 条目存活时间，Redis 层使用同一 TTL。
	TTL time.Duration
	// KeyPrefix Redis 键前缀。
	KeyPrefix string
}

// DefaultAnswerCacheConfig 返回默认配置。
func DefaultAnswerCacheConfig() *AnswerCacheConfig {
	return &AnswerCacheConfig{
		Size:      1000,
		TTL:       time.Hour,
		KeyPrefix: "acbot:answer:",
	}
}

// AnswerCache 两级答案缓存：进程内 LRU，可选 Redis。
// Redis 故障只记录日志，按未命中处理。
type AnswerCache struct {
	local  cache.Cache[string, string]
	redis  goredis.Cmdable
	config *AnswerCacheConfig
}

// NewAnswerCache 创建答案缓存，redis 可以为 nil。
func NewAnswerCache(redis goredis.Cmdable, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = DefaultAnswerCacheConfig()
	}
	return &AnswerCache{
		local:  cache.NewLRUCache[string, string](config.Size, config.TTL),
		redis:  redis,
		config: config,
	}
}

// AnswerKey 由问题与有序片段文本得出缓存键。
func AnswerKey(query string, chunks []RetrievedChunk) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, c := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(c.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get 先查进程内缓存，再查 Redis；Redis 命中会回填进程内缓存。
func (c *AnswerCache) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := c.local.Get(key); ok {
		return v, true
	}
	if c.redis == nil {
		return "", false
	}

	v, err := c.redis.Get(ctx, c.config.KeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			ctxlog.GetLogger(ctx).Warnw("failed to get answer from cache", "key", key, "error", err.Error())
		}
		return "", false
	}
	if v == "" {
		// 空值视为损坏条目
		_ = c.redis.Del(ctx, c.config.KeyPrefix+key).Err()
		return "", false
	}

	c.local.Set(key, v)
	return v, true
}

// Set 写入两级缓存。
func (c *AnswerCache) Set(ctx context.Context, key, answer string) {
	c.local.Set(key, answer)
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, c.config.KeyPrefix+key, answer, c.config.TTL).Err(); err != nil {
		ctxlog.GetLogger(ctx).Warnw("failed to set answer cache", "key", key, "error", err.Error())
	}
}

// Len 返回进程内缓存条目数。
func (c *AnswerCache) Len() int {
	return c.local.Len()
}
