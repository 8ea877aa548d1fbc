package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmopts "github.com/kart-io/anticorruption-bot/pkg/options/llm"
)

func completedOptions(t *testing.T) *Options {
	t.Helper()
	t.Setenv(llmopts.APIKeyEnv, "sk-test")
	t.Setenv(TelegramTokenEnv, "123:abc")

	opts := NewOptions()
	require.NoError(t, opts.Complete())
	return opts
}

func TestOptions_Defaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, 8, opts.RateLimit.Quota)
	assert.Equal(t, 5, opts.Retrieval.VectorK)
	assert.Equal(t, 5, opts.Context.MaxChunks)
	assert.Equal(t, 1500, opts.Context.MaxChunkChars)
	assert.Equal(t, 7000, opts.Context.MaxChars)
	assert.Equal(t, 4096, opts.Generation.MaxReplyLength)
	assert.Equal(t, 2000, opts.Index.ChunkMaxChars)
	assert.Equal(t, 40, opts.Telegram.MessagesPerMinute)
}

func TestOptions_CompleteFromEnv(t *testing.T) {
	opts := completedOptions(t)

	assert.Equal(t, "123:abc", opts.Telegram.Token)
	assert.Equal(t, "sk-test", opts.Embedding.APIKey)
	assert.Equal(t, "sk-test", opts.Chat.APIKey)
	assert.NoError(t, opts.Validate())
}

func TestOptions_CompleteKeepsExplicitToken(t *testing.T) {
	t.Setenv(TelegramTokenEnv, "from-env")
	opts := NewOptions()
	opts.Telegram.Token = "from-flag"

	require.NoError(t, opts.Complete())
	assert.Equal(t, "from-flag", opts.Telegram.Token)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr string
	}{
		{
			name:    "missing telegram token",
			mutate:  func(o *Options) { o.Telegram.Token = "" },
			wantErr: "telegram.token is required",
		},
		{
			name:    "telegram disabled needs no token",
			mutate:  func(o *Options) { o.Telegram.Token = ""; o.Telegram.Enabled = false },
			wantErr: "",
		},
		{
			name:    "redis limiter without redis",
			mutate:  func(o *Options) { o.RateLimit.Backend = BackendRedis },
			wantErr: "requires redis.enabled",
		},
		{
			name:    "unknown index backend",
			mutate:  func(o *Options) { o.Index.Backend = "faiss" },
			wantErr: "index.backend must be memory or milvus",
		},
		{
			name:    "missing chat key",
			mutate:  func(o *Options) { o.Chat.APIKey = "" },
			wantErr: "chat: api-key is required",
		},
		{
			name:    "no transport",
			mutate:  func(o *Options) { o.HTTP.Enabled = false; o.Telegram.Enabled = false },
			wantErr: "at least one of http.enabled and telegram.enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := completedOptions(t)
			tt.mutate(opts)

			err := opts.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOptions_ValidateAggregates(t *testing.T) {
	opts := completedOptions(t)
	opts.RateLimit.Quota = 0
	opts.Retrieval.VectorK = 0
	opts.Generation.MaxReplyLength = 0

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.quota")
	assert.Contains(t, err.Error(), "retrieval.vector-k")
	assert.Contains(t, err.Error(), "generation.max-reply-length")
}

func TestOptions_Flags(t *testing.T) {
	opts := NewOptions()
	fss := opts.Flags()

	assert.Equal(t, []string{
		"log", "http", "redis", "milvus", "embedding", "chat",
		"ratelimit", "retrieval", "context", "cache", "index",
		"generation", "telegram", "broadcast", "misc",
	}, fss.Order)

	for group, name := range map[string]string{
		"embedding": "embedding.api-key",
		"chat":      "chat.max-tokens",
		"ratelimit": "ratelimit.quota",
		"telegram":  "telegram.token",
		"broadcast": "broadcast.interval",
		"misc":      "ask-timeout",
	} {
		assert.NotNil(t, fss.FlagSets[group].Lookup(name), name)
	}

	require.NoError(t, fss.FlagSets["ratelimit"].Parse([]string{"--ratelimit.quota=3"}))
	assert.Equal(t, 3, opts.RateLimit.Quota)
}
