package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len([]rune(t))), 1}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *countingEmbedder) Name() string { return "counting" }

func setupCache(t *testing.T) (*CachedEmbeddingProvider, *countingEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingEmbedder{}
	return NewCachedEmbeddingProvider(inner, client, &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       time.Hour,
		KeyPrefix: "test:emb:",
	}), inner, mr
}

func TestCachedEmbeddingProvider_EmbedSingle(t *testing.T) {
	c, inner, mr := setupCache(t)
	ctx := context.Background()

	first, err := c.EmbedSingle(ctx, "конфликт интересов")
	require.NoError(t, err)
	second, err := c.EmbedSingle(ctx, "конфликт интересов")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, "counting-cached", c.Name())

	// 原始文本不同即为不同的键
	_, err = c.EmbedSingle(ctx, "Конфликт интересов")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbeddingProvider_CorruptEntry(t *testing.T) {
	c, inner, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(c.cacheKey("подарки"), "not-json"))

	emb, err := c.EmbedSingle(ctx, "подарки")
	require.NoError(t, err)
	assert.NotEmpty(t, emb)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbeddingProvider_RedisDown(t *testing.T) {
	c, inner, mr := setupCache(t)
	mr.Close()

	emb, err := c.EmbedSingle(context.Background(), "горячая линия")
	require.NoError(t, err)
	assert.NotEmpty(t, emb)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbeddingProvider_ErrorNotCached(t *testing.T) {
	c, inner, mr := setupCache(t)
	inner.err = errors.New("status 500")

	_, err := c.EmbedSingle(context.Background(), "декларация")
	assert.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbeddingProvider_BatchOnlyMisses(t *testing.T) {
	c, inner, _ := setupCache(t)
	ctx := context.Background()

	_, err := c.EmbedSingle(ctx, "a")
	require.NoError(t, err)

	out, err := c.Embed(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbeddingProvider_Disabled(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbeddingProvider(inner, nil, nil)

	_, _ = c.EmbedSingle(context.Background(), "x")
	_, _ = c.EmbedSingle(context.Background(), "x")
	assert.Equal(t, int32(2), inner.calls.Load())
}
