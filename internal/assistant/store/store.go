package store

import (
	"context"
	"errors"
)

// ErrIndexUnavailable 索引在启动时未能加载，查询返回空结果。
var ErrIndexUnavailable = errors.New("index unavailable")

// Record 表示离线构建的文档块。
type Record struct {
	// ID 在快照中的位置。
	ID int `json:"-"`
	// Text 文档块内容。
	Text string `json:"text"`
	// Source 来源文档名称。
	Source string `json:"source"`
	// Embedding 嵌入向量，只在写入快照时使用。
	Embedding []float32 `json:"-"`
}

// Hit 表示一次检索命中。
type Hit struct {
	// Index 命中记录在语料中的位置，Milvus 后端为实体 ID。
	Index int64
	// Text 已截断的文档块内容。
	Text string
	// Source 来源文档名称。
	Source string
	// Distance 向量检索的 L2 距离，越小越近。
	Distance float32
	// Score 关键词检索的 BM25 分数。
	Score float64
}

// 索引状态取值。
const (
	StateOK          = "ok"
	StateUnavailable = "unavailable"
)

// IndexStatus 索引健康状态。
type IndexStatus struct {
	Backend string `json:"backend"`
	State   string `json:"state"`
	Size    int    `json:"size"`
	Reason  string `json:"reason,omitempty"`
}

// OK 报告索引是否可用。
func (s IndexStatus) OK() bool {
	return s.State == StateOK
}

func unavailable(backend string, err error) IndexStatus {
	st := IndexStatus{Backend: backend, State: StateUnavailable}
	if err != nil {
		st.Reason = err.Error()
	}
	return st
}

// VectorIndex 只读向量索引。
type VectorIndex interface {
	// Search 返回最多 min(k, Size()) 个按距离升序排列的命中。
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Status() IndexStatus
	Close() error
}

// LexicalIndex 只读关键词索引。
type LexicalIndex interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
	Status() IndexStatus
	Close() error
}
