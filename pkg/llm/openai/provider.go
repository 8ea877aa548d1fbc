// Package openai 提供兼容 OpenAI API 的供应商实现。
// 适用于 OpenAI 官方接口以及 vsegpt 等兼容网关。
//
//	import _ "github.com/kart-io/anticorruption-bot/pkg/llm/openai"
//
//	provider, err := llm.NewChatProvider("openai", map[string]any{
//	    "api_key":  os.Getenv("LLM_API_KEY"),
//	    "base_url": "https://api.vsegpt.ru/v1",
//	})
package openai

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

// ProviderName 是 OpenAI 供应商的名称标识符
const ProviderName = "openai"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config OpenAI 供应商配置。
type Config struct {
	// BaseURL API 基础地址，不带末尾斜杠。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api_key"`

	// EmbedModel 用于生成嵌入的模型。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于对话的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Organization 组织 ID（可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// Temperature 默认采样温度，请求未指定时使用。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxTokens 默认最大生成 token 数，请求未指定时使用。
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		EmbedModel: "text-embedding-3-small",
		ChatModel:  "gpt-4o-mini",
		Timeout:    60 * time.Second,
	}
}

// Provider OpenAI 兼容供应商。
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
	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
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
	if v, ok := configMap["organization"].(string); ok && v != "" {
		cfg.Organization = v
	}
	if v, ok := configMap["temperature"].(float64); ok {
		cfg.Temperature = v
	}
	if v, ok := configMap["max_tokens"].(int); ok {
		cfg.MaxTokens = v
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api_key is required")
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

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     *int      `json:"index"`
	} `json:"data"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req, err := p.newRequest(ctx, "/embeddings", embeddingRequest{
		Model: p.config.EmbedModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	var embedResp embeddingResponse
	status, err := p.client.DoJSON(req, &embedResp)
	if err != nil {
		return nil, p.upstreamError("embeddings", status, err)
	}

	if len(embedResp.Data) == 0 {
		return nil, p.upstreamError("embeddings", status, llm.ErrNoEmbeddingData)
	}

	embeddings := make([][]float32, len(texts))
	for i, item := range embedResp.Data {
		idx := i
		if item.Index != nil {
			idx = *item.Index
		}
		if idx < 0 || idx >= len(embeddings) || len(item.Embedding) == 0 {
			return nil, p.upstreamError("embeddings", status, llm.ErrMissingEmbedding)
		}
		embeddings[idx] = item.Embedding
	}
	for _, e := range embeddings {
		if e == nil {
			return nil, p.upstreamError("embeddings", status, llm.ErrMissingEmbedding)
		}
	}

	return embeddings, nil
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
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse 各层使用指针，以区分字段缺失与空值。
type chatResponse struct {
	Choices *[]struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat 发送一次对话补全请求，并逐层校验响应结构。
func (p *Provider) Chat(ctx context.Context, in *llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]chatMessage, len(in.Messages))
	for i, msg := range in.Messages {
		messages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	reqBody := chatRequest{
		Model:       p.config.ChatModel,
		Messages:    messages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	if in.MaxTokens > 0 {
		reqBody.MaxTokens = in.MaxTokens
	}
	if in.Temperature != nil {
		reqBody.Temperature = *in.Temperature
	}

	req, err := p.newRequest(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var chatResp chatResponse
	status, err := p.client.DoJSON(req, &chatResp)
	if err != nil {
		return nil, p.upstreamError("chat", status, err)
	}

	switch {
	case chatResp.Choices == nil || len(*chatResp.Choices) == 0:
		return nil, p.upstreamError("chat", status, llm.ErrMissingChoices)
	case (*chatResp.Choices)[0].Message == nil:
		return nil, p.upstreamError("chat", status, llm.ErrMissingMessage)
	}

	content := (*chatResp.Choices)[0].Message.Content
	if content == nil || strings.TrimSpace(*content) == "" {
		return nil, p.upstreamError("chat", status, llm.ErrMissingContent)
	}

	return &llm.ChatResponse{
		Content:          *content,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

func (p *Provider) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if p.config.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.config.Organization)
	}
	return req, nil
}

func (p *Provider) upstreamError(op string, status int, err error) error {
	return &llm.UpstreamError{Provider: ProviderName, Op: op, StatusCode: status, Err: err}
}
