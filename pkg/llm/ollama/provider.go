// Package ollama 提供本地 Ollama 服务的供应商实现，
// 可替代远程网关用于离线环境的 Embedding 和对话。
package ollama

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/anticorruption-bot/pkg/llm"
	"github.com/kart-io/anticorruption-bot/pkg/utils/httpclient"
	"github.com/kart-io/anticorruption-bot/pkg/utils/json"
)

// ProviderName 是 Ollama 供应商的名称标识符
const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config Ollama 供应商配置。
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:11434",
		EmbedModel: "nomic-embed-text",
		ChatModel:  "qwen2.5:7b",
		Timeout:    120 * time.Second,
	}
}

// Provider Ollama 供应商。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embedResp embedResponse
	status, err := p.post(ctx, "/api/embed", embedRequest{Model: p.config.EmbedModel, Input: texts}, &embedResp)
	if err != nil {
		return nil, p.upstreamError("embeddings", status, err)
	}
	if len(embedResp.Embeddings) == 0 {
		return nil, p.upstreamError("embeddings", status, llm.ErrNoEmbeddingData)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, p.upstreamError("embeddings", status, llm.ErrMissingEmbedding)
	}
	for _, e := range embedResp.Embeddings {
		if len(e) == 0 {
			return nil, p.upstreamError("embeddings", status, llm.ErrMissingEmbedding)
		}
	}

	return embedResp.Embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Chat 发送一次非流式对话请求。
func (p *Provider) Chat(ctx context.Context, in *llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]chatMessage, len(in.Messages))
	for i, msg := range in.Messages {
		messages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	reqBody := chatRequest{Model: p.config.ChatModel, Messages: messages}
	if in.Temperature != nil || in.MaxTokens > 0 {
		reqBody.Options = &chatOptions{Temperature: in.Temperature, NumPredict: in.MaxTokens}
	}

	var chatResp chatResponse
	status, err := p.post(ctx, "/api/chat", reqBody, &chatResp)
	if err != nil {
		return nil, p.upstreamError("chat", status, err)
	}
	if chatResp.Message == nil {
		return nil, p.upstreamError("chat", status, llm.ErrMissingMessage)
	}
	if chatResp.Message.Content == nil || strings.TrimSpace(*chatResp.Message.Content) == "" {
		return nil, p.upstreamError("chat", status, llm.ErrMissingContent)
	}

	return &llm.ChatResponse{
		Content:          *chatResp.Message.Content,
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}, nil
}

func (p *Provider) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.DoJSON(req, out)
}

func (p *Provider) upstreamError(op string, status int, err error) error {
	return &llm.UpstreamError{Provider: ProviderName, Op: op, StatusCode: status, Err: err}
}
