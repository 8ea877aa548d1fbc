package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/anticorruption-bot/pkg/llm"
)

const testAPIKey = "test-key"

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL + "/"
	cfg.APIKey = testAPIKey
	cfg.Timeout = 2 * time.Second
	return NewProviderWithConfig(cfg)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		wantError bool
	}{
		{name: "valid config", config: map[string]any{"api_key": testAPIKey}},
		{
			name: "custom config",
			config: map[string]any{
				"api_key":     testAPIKey,
				"base_url":    "https://api.vsegpt.ru/v1",
				"embed_model": "text-embedding-3-small",
				"chat_model":  "google/gemini-flash-1.5",
				"temperature": 0.3,
				"max_tokens":  4096,
			},
		},
		{name: "missing api_key", config: map[string]any{}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ProviderName, provider.Name())
		})
	}
}

func TestProviderEmbed(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

		var body embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body.Model)
		assert.Equal(t, []string{"первый", "второй"}, body.Input)

		// 乱序返回，按 index 归位
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.4,0.5],"index":1},{"embedding":[0.1,0.2],"index":0}]}`))
	})

	embeddings, err := provider.Embed(context.Background(), []string{"первый", "второй"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.4, 0.5}}, embeddings)
}

func TestProviderEmbedSingle_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "empty data", status: 200, body: `{"data":[]}`, wantErr: llm.ErrNoEmbeddingData},
		{name: "missing data", status: 200, body: `{"object":"list"}`, wantErr: llm.ErrNoEmbeddingData},
		{name: "missing embedding", status: 200, body: `{"data":[{"index":0}]}`, wantErr: llm.ErrMissingEmbedding},
		{name: "server error", status: 500, body: `{"error":"overloaded"}`},
		{name: "invalid json", status: 200, body: `{"data":[`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.EmbedSingle(context.Background(), "вопрос")
			require.Error(t, err)
			assert.Equal(t, tt.status, llm.StatusCode(err))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestProviderChat(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 4096, body.MaxTokens)
		assert.InDelta(t, 0.3, body.Temperature, 1e-9)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Согласно имеющейся информации..."}}],
			"usage":{"prompt_tokens":120,"completion_tokens":30}}`))
	})

	resp, err := provider.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "system"},
			{Role: llm.RoleUser, Content: "Вопрос"},
		},
		MaxTokens:   4096,
		Temperature: ptr(0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, "Согласно имеющейся информации...", resp.Content)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 30, resp.CompletionTokens)
}

func TestProviderChat_LayeredValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "no choices field", body: `{"id":"x"}`, wantErr: llm.ErrMissingChoices},
		{name: "empty choices", body: `{"choices":[]}`, wantErr: llm.ErrMissingChoices},
		{name: "no message", body: `{"choices":[{"finish_reason":"stop"}]}`, wantErr: llm.ErrMissingMessage},
		{name: "no content", body: `{"choices":[{"message":{"role":"assistant"}}]}`, wantErr: llm.ErrMissingContent},
		{name: "blank content", body: `{"choices":[{"message":{"content":"  "}}]}`, wantErr: llm.ErrMissingContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.Chat(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, http.StatusOK, llm.StatusCode(err))
		})
	}
}

func TestProviderChat_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.APIKey = testAPIKey
	cfg.Timeout = 50 * time.Millisecond
	provider := NewProviderWithConfig(cfg)

	_, err := provider.Chat(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Zero(t, llm.StatusCode(err))
}

func ptr(v float64) *float64 { return &v }

func TestProviderChat_Temperature(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{name: "explicit zero is sent", in: ptr(0), want: 0},
		{name: "nil uses provider config", in: nil, want: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				got, ok := body["temperature"]
				require.True(t, ok, "temperature must be present")
				assert.InDelta(t, tt.want, got, 1e-9)
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ответ"}}]}`))
			}))
			defer server.Close()

			p, err := NewProvider(map[string]any{"base_url": server.URL, "api_key": "sk-test", "temperature": 0.7})
			require.NoError(t, err)

			_, err = p.Chat(context.Background(), &llm.ChatRequest{
				Messages:    []llm.Message{{Role: llm.RoleUser, Content: "вопрос"}},
				Temperature: tt.in,
			})
			require.NoError(t, err)
		})
	}
}
