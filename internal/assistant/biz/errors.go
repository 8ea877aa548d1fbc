package biz

import (
	"errors"
	"fmt"

	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
)

var (
	// ErrIndexUnavailable 索引在启动时未能加载。
	ErrIndexUnavailable = store.ErrIndexUnavailable
	// ErrRateLimited 用户超出配额，属于正常的控制流结果。
	ErrRateLimited = errors.New("rate limit exceeded")
)

// EmbeddingError 嵌入调用在重试耗尽后失败。
type EmbeddingError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempts (last status %d): %v", e.Attempts, e.LastStatus, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError 生成调用在重试耗尽后失败，或被熔断器拒绝。
type GenerationError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts (last status %d): %v", e.Attempts, e.LastStatus, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
