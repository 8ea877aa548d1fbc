package llm

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderOptions_Defaults(t *testing.T) {
	emb := NewEmbeddingOptions()
	assert.Equal(t, "text-embedding-3-small", emb.Model)
	assert.Equal(t, 3, emb.MaxRetries)

	chat := NewChatOptions()
	assert.Equal(t, 4096, chat.MaxTokens)
	assert.InDelta(t, 0.3, chat.Temperature, 1e-9)
	assert.Greater(t, chat.RetryBackoff, emb.RetryBackoff)
}

func TestProviderOptions_Validate(t *testing.T) {
	o := NewChatOptions()
	errs := o.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "api-key")

	o.Provider = "ollama"
	assert.Empty(t, o.Validate())

	o.Model = ""
	o.Timeout = 0
	assert.Len(t, o.Validate(), 2)
}

func TestProviderOptions_Complete(t *testing.T) {
	o := NewEmbeddingOptions()
	o.MaxRetries = 0
	require.NoError(t, o.Complete(func(key string) string {
		if key == APIKeyEnv {
			return "env-key"
		}
		return ""
	}))
	assert.Equal(t, "env-key", o.APIKey)
	assert.Equal(t, 3, o.MaxRetries)
}

func TestProviderOptions_AddFlags(t *testing.T) {
	emb := NewEmbeddingOptions()
	chat := NewChatOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	emb.AddFlags(fs, "embedding")
	chat.AddFlags(fs, "chat")

	require.NoError(t, fs.Parse([]string{"--embedding.model=m1", "--chat.max-tokens=100"}))
	assert.Equal(t, "m1", emb.Model)
	assert.Equal(t, 100, chat.MaxTokens)

	cfg := chat.ToConfigMap()
	assert.Equal(t, 100, cfg["max_tokens"])
}
