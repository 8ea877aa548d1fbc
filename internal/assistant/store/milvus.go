package store

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/pkg/component/milvus"
	milvusopts "github.com/kart-io/anticorruption-bot/pkg/options/milvus"
	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// BackendMilvus Milvus 后端名称。
const BackendMilvus = "milvus"

// milvusClient 是 MilvusIndex 使用的客户端能力子集。
type milvusClient interface {
	Search(ctx context.Context, vector []float32, topK int) ([]milvus.SearchResult, error)
	Count(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// MilvusIndex 将 kNN 检索委托给 Milvus 集合。
type MilvusIndex struct {
	client        milvusClient
	maxChunkChars int
	status        IndexStatus
}

// OpenMilvusIndex 连接 Milvus 并加载集合。
// 连接失败时返回 unavailable 状态的空索引。
func OpenMilvusIndex(ctx context.Context, opts *milvusopts.Options, maxChunkChars int) *MilvusIndex {
	idx := &MilvusIndex{maxChunkChars: maxChunkChars}

	client, err := milvus.New(ctx, opts)
	if err != nil {
		return idx.degrade(err)
	}
	if err := client.Load(ctx); err != nil {
		_ = client.Close(ctx)
		return idx.degrade(err)
	}

	idx.client = client
	idx.refreshStatus(ctx)
	logger.Infow("vector index loaded",
		"backend", BackendMilvus,
		"collection", opts.Collection,
		"size", idx.status.Size,
	)
	return idx
}

func newMilvusIndex(ctx context.Context, client milvusClient, maxChunkChars int) *MilvusIndex {
	idx := &MilvusIndex{client: client, maxChunkChars: maxChunkChars}
	idx.refreshStatus(ctx)
	return idx
}

func (m *MilvusIndex) refreshStatus(ctx context.Context) {
	m.status = IndexStatus{Backend: BackendMilvus, State: StateOK}
	count, err := m.client.Count(ctx)
	if err != nil {
		logger.Warnw("failed to count milvus collection", "error", err.Error())
		return
	}
	m.status.Size = int(count)
}

func (m *MilvusIndex) degrade(err error) *MilvusIndex {
	logger.Warnw("vector index unavailable, serving empty results",
		"backend", BackendMilvus,
		"error", err.Error(),
	)
	m.status = unavailable(BackendMilvus, err)
	return m
}

// Status 返回索引状态。
func (m *MilvusIndex) Status() IndexStatus {
	return m.status
}

// Search 在 Milvus 中检索最近的 k 个文档块。
func (m *MilvusIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if m.client == nil || k <= 0 {
		return nil, nil
	}

	results, err := m.client.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	if len(results) > k {
		results = results[:k]
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Index:    r.ID,
			Text:     text.Truncate(r.Text, m.maxChunkChars),
			Source:   r.Source,
			Distance: r.Distance,
		})
	}
	return hits, nil
}

// Close 关闭 Milvus 连接。
func (m *MilvusIndex) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close(context.Background())
}

// milvusPublisher 是 PublishToMilvus 使用的客户端能力子集。
type milvusPublisher interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, chunks []milvus.Chunk) (int64, error)
	Collection() string
}

// PublishToMilvus 将记录写入 Milvus 集合，集合不存在时按向量维度创建。
// 主键取快照中的位置，重复发布会覆盖而不是追加。
func PublishToMilvus(ctx context.Context, opts *milvusopts.Options, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	client, err := milvus.New(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer client.Close(ctx)

	return publish(ctx, client, records)
}

func publish(ctx context.Context, client milvusPublisher, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := client.EnsureCollection(ctx, len(records[0].Embedding)); err != nil {
		return 0, err
	}

	chunks := make([]milvus.Chunk, len(records))
	for i, r := range records {
		chunks[i] = milvus.Chunk{ID: int64(i), Embedding: r.Embedding, Text: r.Text, Source: r.Source}
	}
	n, err := client.Upsert(ctx, chunks)
	if err != nil {
		return 0, err
	}
	logger.Infow("published records to milvus", "collection", client.Collection(), "count", n)
	return int(n), nil
}
