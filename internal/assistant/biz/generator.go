package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	ctxlog "github.com/kart-io/anticorruption-bot/pkg/infra/logger"
	"github.com/kart-io/anticorruption-bot/pkg/llm"
	"github.com/kart-io/anticorruption-bot/pkg/llm/resilience"
)

// DefaultSystemPrompt 反腐败文件问答的系统提示词。
const DefaultSystemPrompt = `Ты - ассистент, анализирующий документы в сфере противодействия коррупции. Отвечай точно и информативно,
используя только предоставленные фрагменты текста и делая оговорку: "согласно имеющейся информации".
- Форматируй ответ простым текстом БЕЗ использования Markdown разметки
- Делай ссылки на названия документов и номера пунктов, если они указаны. Если номера пунктов не указаны, то не пиши об этом.
- Запрещено указывать расширение файла (например, txt или doc).`

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 系统提示词。
	SystemPrompt string
	// MaxTokens 最大生成 token 数。
	MaxTokens int
	// Temperature 采样温度。
	Temperature float64
	// MaxAttempts 最大尝试次数（含首次）。
	MaxAttempts int
	// Backoff 线性退避基数，大于嵌入的退避基数。
	Backoff time.Duration
}

// DefaultGeneratorConfig 返回默认配置。
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    4096,
		Temperature:  0.3,
		MaxAttempts:  3,
		Backoff:      2 * time.Second,
	}
}

// Generator 负责答案生成。
// 总是返回可投递的文本：失败时返回固定致歉语，错误只用于日志与指标。
type Generator struct {
	chat      llm.ChatProvider
	config    *GeneratorConfig
	assembler *Assembler
	sanitizer *Sanitizer
	cache     *AnswerCache
	breaker   *resilience.CircuitBreaker
	lock      *semaphore.Weighted
	metrics   *metrics.Metrics
}

// GeneratorOption 配置生成器。
type GeneratorOption func(*Generator)

// WithAnswerCache 替换答案缓存。
func WithAnswerCache(c *AnswerCache) GeneratorOption {
	return func(g *Generator) { g.cache = c }
}

// WithCircuitBreaker 在供应商前加熔断器。
func WithCircuitBreaker(cb *resilience.CircuitBreaker) GeneratorOption {
	return func(g *Generator) { g.breaker = cb }
}

// WithGeneratorMetrics 替换指标实例。
func WithGeneratorMetrics(m *metrics.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator 创建生成器。
func NewGenerator(chat llm.ChatProvider, config *GeneratorConfig, assembler *Assembler, sanitizer *Sanitizer, opts ...GeneratorOption) *Generator {
	if config == nil {
		config = DefaultGeneratorConfig()
	}
	if assembler == nil {
		assembler = NewAssembler(nil)
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer(0)
	}
	g := &Generator{
		chat:      chat,
		config:    config,
		assembler: assembler,
		sanitizer: sanitizer,
		lock:      semaphore.NewWeighted(1),
		metrics:   metrics.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewAnswerCache(nil, nil)
	}
	return g
}

// BuildMessages 构造系统消息与用户消息。
func (g *Generator) BuildMessages(query, contextText string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: g.config.SystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Вопрос: %s\n\nКонтекст:\n%s", query, contextText)},
	}
}

// Generate 生成并清洗答案。失败时返回 ReplyUnavailable 和 *GenerationError。
func (g *Generator) Generate(ctx context.Context, query string, chunks []RetrievedChunk) (string, error) {
	log := ctxlog.GetLogger(ctx)
	key := AnswerKey(query, chunks)

	if answer, ok := g.cache.Get(ctx, key); ok {
		g.metrics.RecordAnswerCache(true)
		log.Infow("answer served from cache", "answer_length", len(answer))
		return answer, nil
	}
	g.metrics.RecordAnswerCache(false)

	temperature := g.config.Temperature
	req := &llm.ChatRequest{
		Messages:    g.BuildMessages(query, g.assembler.Assemble(chunks)),
		MaxTokens:   g.config.MaxTokens,
		Temperature: &temperature,
	}

	if err := g.lock.Acquire(ctx, 1); err != nil {
		return ReplyUnavailable, &GenerationError{Err: err}
	}
	defer g.lock.Release(1)

	if answer, ok := g.cache.Get(ctx, key); ok {
		return answer, nil
	}

	answer, genErr := g.call(ctx, req)
	if genErr != nil {
		log.Errorw("generation failed",
			"provider", g.chat.Name(),
			"attempts", genErr.Attempts,
			"last_status", genErr.LastStatus,
			"error", genErr.Err.Error(),
		)
		return ReplyUnavailable, genErr
	}

	g.cache.Set(ctx, key, answer)
	log.Infow("answer generated", "answer_length", len(answer))
	return answer, nil
}

func (g *Generator) call(ctx context.Context, req *llm.ChatRequest) (string, *GenerationError) {
	log := ctxlog.GetLogger(ctx)
	var (
		answer     string
		attempts   int
		lastStatus int
	)

	policy := &resilience.RetryPolicy{
		MaxAttempts: g.config.MaxAttempts,
		Backoff:     resilience.LinearBackoff(g.config.Backoff),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			g.metrics.RecordLLMRetry()
			log.Warnw("chat request failed, retrying",
				"provider", g.chat.Name(),
				"attempt", attempt,
				"status", llm.StatusCode(err),
				"delay", delay.String(),
				"error", err.Error(),
			)
		},
	}

	run := func() error {
		return policy.Do(ctx, func(ctx context.Context, attempt int) error {
			attempts = attempt
			start := time.Now()
			resp, err := g.chat.Chat(ctx, req)
			if status := llm.StatusCode(err); status != 0 {
				lastStatus = status
			}
			if err != nil {
				g.metrics.RecordLLMCall(time.Since(start), 0, 0, err)
				return err
			}
			lastStatus = 200

			cleaned := g.sanitizer.Sanitize(resp.Content)
			if strings.TrimSpace(cleaned) == "" {
				g.metrics.RecordLLMCall(time.Since(start), 0, 0, llm.ErrMissingContent)
				return llm.ErrMissingContent
			}
			g.metrics.RecordLLMCall(time.Since(start), resp.PromptTokens, resp.CompletionTokens, nil)
			answer = cleaned
			return nil
		})
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.ExecuteContext(ctx, run)
		g.metrics.SetCircuitBreakerState(int32(g.breaker.State()))
	} else {
		err = run()
	}

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			log.Warnw("circuit breaker open, skipping chat request", "provider", g.chat.Name())
		}
		return "", &GenerationError{Attempts: attempts, LastStatus: lastStatus, Err: err}
	}
	return answer, nil
}

// BreakerState 返回熔断器状态，未启用时为 "disabled"。
func (g *Generator) BreakerState() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}
