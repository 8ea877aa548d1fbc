package biz

import (
	"context"
	"time"

	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
	ctxlog "github.com/kart-io/anticorruption-bot/pkg/infra/logger"
	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// QueryEmbedder 将查询转为向量。
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher 向量检索。
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]store.Hit, error)
	Status() store.IndexStatus
}

// LexicalSearcher 关键词检索。
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int) ([]store.Hit, error)
	Status() store.IndexStatus
}

// RetrieverConfig 检索配置。
type RetrieverConfig struct {
	// VectorK 向量检索返回数量。
	VectorK int
	// LexicalK 关键词检索返回数量。
	LexicalK int
	// Dedup 合并时去掉空白归一化后完全相同的片段。
	Dedup bool
}

// DefaultRetrieverConfig 返回默认配置。
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{VectorK: 5, LexicalK: 5, Dedup: true}
}

// Retrieval 一次检索的结果。
type Retrieval struct {
	Chunks []RetrievedChunk
	// EmbedErr 嵌入失败时非空，此时向量路径没有结果。
	EmbedErr   error
	VectorErr  error
	LexicalErr error
}

// Retriever 组合向量路径与关键词路径，向量结果在前。
type Retriever struct {
	embedder QueryEmbedder
	vector   VectorSearcher
	lexical  LexicalSearcher
	config   *RetrieverConfig
	metrics  *metrics.Metrics
}

// NewRetriever 创建检索器。lexical 可以为 nil。
func NewRetriever(embedder QueryEmbedder, vector VectorSearcher, lexical LexicalSearcher, config *RetrieverConfig, m *metrics.Metrics) *Retriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Retriever{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		config:   config,
		metrics:  m,
	}
}

// Retrieve 执行检索。单路失败只记录日志，不影响另一路。
func (r *Retriever) Retrieve(ctx context.Context, query string) Retrieval {
	start := time.Now()
	log := ctxlog.GetLogger(ctx)

	var res Retrieval
	var chunks []RetrievedChunk

	// 向量索引不可用时跳过嵌入，避免无意义的付费调用
	if r.vector != nil && r.vector.Status().OK() {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			res.EmbedErr = err
		} else {
			hits, err := r.vector.Search(ctx, vec, r.config.VectorK)
			if err != nil {
				res.VectorErr = err
				log.Warnw("vector search failed", "error", err.Error())
			}
			chunks = appendHits(chunks, hits, OriginVector)
		}
	}

	if r.lexical != nil && r.lexical.Status().OK() {
		hits, err := r.lexical.Search(ctx, query, r.config.LexicalK)
		if err != nil {
			res.LexicalErr = err
			log.Warnw("lexical search failed", "error", err.Error())
		}
		chunks = appendHits(chunks, hits, OriginLexical)
	}

	if r.config.Dedup {
		chunks = dedupChunks(chunks)
	}
	res.Chunks = chunks

	r.metrics.RecordRetrieval(time.Since(start), len(chunks), res.VectorErr, res.LexicalErr)
	log.Debugw("retrieval finished",
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func appendHits(chunks []RetrievedChunk, hits []store.Hit, origin Origin) []RetrievedChunk {
	for _, h := range hits {
		if h.Text == "" {
			continue
		}
		chunks = append(chunks, RetrievedChunk{Text: h.Text, Source: h.Source, Origin: origin})
	}
	return chunks
}

// dedupChunks 保留首次出现的片段。
func dedupChunks(chunks []RetrievedChunk) []RetrievedChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		key := text.NormalizeSpace(c.Text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
