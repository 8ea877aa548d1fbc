package biz

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/pkg/cache"
	ctxlog "github.com/kart-io/anticorruption-bot/pkg/infra/logger"
	"github.com/kart-io/anticorruption-bot/pkg/llm"
	"github.com/kart-io/anticorruption-bot/pkg/llm/resilience"
)

// EmbedderConfig 嵌入客户端配置。
type EmbedderConfig struct {
	// MaxAttempts 最大尝试次数（含首次）。
	MaxAttempts int
	// Backoff 线性退避基数，第 n 次失败后等待 Backoff*n。
	Backoff time.Duration
	// CacheSize 进程内缓存条目上限。
	CacheSize int
	// CacheTTL 缓存条目存活时间，0 表示不过期。
	CacheTTL time.Duration
}

// DefaultEmbedderConfig 返回默认配置。
func DefaultEmbedderConfig() *EmbedderConfig {
	return &EmbedderConfig{
		MaxAttempts: 3,
		Backoff:     time.Second,
		CacheSize:   10000,
		CacheTTL:    24 * time.Hour,
	}
}

// Embedder 将查询文本转为向量。
// 缓存按原始文本精确匹配；全进程同一时刻最多一个嵌入请求在途。
type Embedder struct {
	provider llm.EmbeddingProvider
	config   *EmbedderConfig
	cache    cache.Cache[string, []float32]
	lock     *semaphore.Weighted
	metrics  *metrics.Metrics
}

// NewEmbedder 创建嵌入客户端。
func NewEmbedder(provider llm.EmbeddingProvider, config *EmbedderConfig, m *metrics.Metrics) *Embedder {
	if config == nil {
		config = DefaultEmbedderConfig()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Embedder{
		provider: provider,
		config:   config,
		cache:    cache.NewLRUCache[string, []float32](config.CacheSize, config.CacheTTL),
		lock:     semaphore.NewWeighted(1),
		metrics:  m,
	}
}

// Embed 返回文本的向量。重试耗尽时返回 *EmbeddingError。
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		e.metrics.RecordEmbedding(true, nil)
		return v, nil
	}

	if err := e.lock.Acquire(ctx, 1); err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	defer e.lock.Release(1)

	// 等锁期间可能已有相同请求完成
	if v, ok := e.cache.Get(text); ok {
		e.metrics.RecordEmbedding(true, nil)
		return v, nil
	}

	log := ctxlog.GetLogger(ctx)
	var (
		vector     []float32
		attempts   int
		lastStatus int
	)
	policy := &resilience.RetryPolicy{
		MaxAttempts: e.config.MaxAttempts,
		Backoff:     resilience.LinearBackoff(e.config.Backoff),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			e.metrics.RecordEmbeddingRetry()
			log.Warnw("embedding request failed, retrying",
				"provider", e.provider.Name(),
				"attempt", attempt,
				"status", llm.StatusCode(err),
				"delay", delay.String(),
				"error", err.Error(),
			)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		v, err := e.provider.EmbedSingle(ctx, text)
		if status := llm.StatusCode(err); status != 0 {
			lastStatus = status
		}
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return llm.ErrMissingEmbedding
		}
		lastStatus = 200
		vector = v
		return nil
	})
	e.metrics.RecordEmbedding(false, err)

	if err != nil {
		embedErr := &EmbeddingError{Attempts: attempts, LastStatus: lastStatus, Err: err}
		log.Errorw("embedding failed",
			"provider", e.provider.Name(),
			"attempts", embedErr.Attempts,
			"last_status", embedErr.LastStatus,
			"error", err.Error(),
		)
		return nil, embedErr
	}

	e.cache.Set(text, vector)
	return vector, nil
}
