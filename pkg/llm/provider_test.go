package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct{}

func (stubChat) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok"}, nil
}

func (stubChat) Name() string { return "stub-chat" }

func TestRegistry(t *testing.T) {
	RegisterChatProvider("stub-chat", func(map[string]any) (ChatProvider, error) {
		return stubChat{}, nil
	})
	RegisterEmbeddingProvider("stub-embed", func(map[string]any) (EmbeddingProvider, error) {
		return &countingEmbedder{}, nil
	})

	chat, err := NewChatProvider("stub-chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub-chat", chat.Name())

	emb, err := NewEmbeddingProvider("stub-embed", nil)
	require.NoError(t, err)
	assert.Equal(t, "counting", emb.Name())

	_, err = NewChatProvider("stub-embed", nil)
	assert.Error(t, err)
	_, err = NewEmbeddingProvider("missing", nil)
	assert.Error(t, err)

	names := ListProviders()
	assert.Contains(t, names, "stub-chat")
	assert.Contains(t, names, "stub-embed")
	assert.IsIncreasing(t, names)
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("attempt 3: %w", &UpstreamError{Provider: "openai", Op: "chat", StatusCode: 502, Err: ErrMissingChoices})
	assert.Equal(t, 502, StatusCode(err))
	assert.True(t, errors.Is(err, ErrMissingChoices))
	assert.Contains(t, err.Error(), "status 502")

	assert.Zero(t, StatusCode(errors.New("dial tcp: refused")))
	assert.Equal(t, "openai embeddings: timeout", (&UpstreamError{Provider: "openai", Op: "embeddings", Err: errors.New("timeout")}).Error())
}
