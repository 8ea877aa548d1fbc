package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// BackendMemory 内存快照后端名称。
const BackendMemory = "memory"

// MemoryIndex 基于快照的精确 L2 检索。加载后只读。
type MemoryIndex struct {
	dim           int
	count         int
	vectors       []float32
	records       []Record
	maxChunkChars int
	status        IndexStatus
}

// LoadMemoryIndex 从快照加载索引。
// 快照缺失或损坏时返回空索引，状态为 unavailable，不返回错误。
func LoadMemoryIndex(vectorsPath, metaPath string, maxChunkChars int) *MemoryIndex {
	idx := &MemoryIndex{maxChunkChars: maxChunkChars}

	dim, count, vectors, err := readVectors(vectorsPath)
	if err != nil {
		return idx.degrade(fmt.Errorf("load vectors %s: %w", vectorsPath, err))
	}
	records, err := readMetadata(metaPath)
	if err != nil {
		return idx.degrade(fmt.Errorf("load metadata %s: %w", metaPath, err))
	}
	if len(records) != count {
		logger.Warnw("vector snapshot and metadata differ in length",
			"vectors", count,
			"metadata", len(records),
		)
	}

	idx.dim, idx.count, idx.vectors, idx.records = dim, count, vectors, records
	idx.status = IndexStatus{Backend: BackendMemory, State: StateOK, Size: count}
	logger.Infow("vector index loaded", "backend", BackendMemory, "size", count, "dim", dim)
	return idx
}

// NewMemoryIndex 直接从记录构建索引。
func NewMemoryIndex(records []Record, maxChunkChars int) (*MemoryIndex, error) {
	idx := &MemoryIndex{
		maxChunkChars: maxChunkChars,
		records:       append([]Record(nil), records...),
		count:         len(records),
	}
	if len(records) > 0 {
		idx.dim = len(records[0].Embedding)
	}
	idx.vectors = make([]float32, 0, idx.dim*idx.count)
	for i, r := range records {
		if len(r.Embedding) != idx.dim {
			return nil, fmt.Errorf("record %d has dimension %d, want %d", i, len(r.Embedding), idx.dim)
		}
		idx.vectors = append(idx.vectors, r.Embedding...)
		idx.records[i].ID = i
	}
	idx.status = IndexStatus{Backend: BackendMemory, State: StateOK, Size: idx.count}
	return idx, nil
}

func (m *MemoryIndex) degrade(err error) *MemoryIndex {
	logger.Warnw("vector index unavailable, serving empty results", "error", err.Error())
	m.status = unavailable(BackendMemory, err)
	return m
}

// Size 返回向量数量。
func (m *MemoryIndex) Size() int {
	return m.count
}

// Status 返回索引状态。
func (m *MemoryIndex) Status() IndexStatus {
	return m.status
}

// Dim 返回向量维度。
func (m *MemoryIndex) Dim() int {
	return m.dim
}

type scored struct {
	idx  int
	dist float32
}

// Search 返回最近的 k 个文档块，距离升序。
// 越界的位置（元数据比向量少）会被丢弃。
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.count == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), m.dim)
	}

	all := make([]scored, m.count)
	for i := 0; i < m.count; i++ {
		row := m.vectors[i*m.dim : (i+1)*m.dim]
		var d float32
		for j, v := range row {
			diff := v - vector[j]
			d += diff * diff
		}
		all[i] = scored{idx: i, dist: d}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })

	if k > len(all) {
		k = len(all)
	}
	hits := make([]Hit, 0, k)
	for _, s := range all[:k] {
		if s.idx < 0 || s.idx >= len(m.records) {
			continue
		}
		rec := m.records[s.idx]
		hits = append(hits, Hit{
			Index:    int64(s.idx),
			Text:     text.Truncate(rec.Text, m.maxChunkChars),
			Source:   rec.Source,
			Distance: s.dist,
		})
	}
	return hits, nil
}

// Close 释放资源。
func (m *MemoryIndex) Close() error {
	return nil
}
