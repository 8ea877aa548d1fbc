package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
	ctxlog "github.com/kart-io/anticorruption-bot/pkg/infra/logger"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware/common"
)

const anonymousUser = "anonymous"

// Pipeline 问答流水线，持有本次进程内的全部可变状态。
type Pipeline struct {
	limiter   middleware.RateLimiter
	retriever *Retriever
	generator *Generator
	metrics   *metrics.Metrics
	log       core.Logger
}

// PipelineOption 配置流水线。
type PipelineOption func(*Pipeline)

// WithLogger 替换基础日志器。
func WithLogger(l core.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics 替换指标实例。
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline 创建流水线。limiter 为 nil 时不限流。
func NewPipeline(limiter middleware.RateLimiter, retriever *Retriever, generator *Generator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		limiter:   limiter,
		retriever: retriever,
		generator: generator,
		metrics:   metrics.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Answer 处理一次提问，总是返回回复。
func (p *Pipeline) Answer(ctx context.Context, req Request) Reply {
	start := time.Now()
	id := req.RequestID
	if id == "" {
		id = common.GenerateRequestID()
	}

	base := p.log
	if base == nil {
		base = logger.Global()
	}
	log := base.With("request_id", id)
	ctx = ctxlog.WithLogger(common.WithRequestID(ctx, id), log)

	reply := p.answer(ctx, log, req)
	reply.RequestID = id

	p.metrics.RecordOutcome(string(reply.Outcome))
	log.Infow("question processed",
		"outcome", string(reply.Outcome),
		"chunks", reply.Chunks,
		"reply_length", len([]rune(reply.Text)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

func (p *Pipeline) answer(ctx context.Context, log core.Logger, req Request) Reply {
	question := strings.TrimSpace(req.Text)
	if question == "" {
		return Reply{Outcome: OutcomeEmptyQuery}
	}

	userID := req.UserID
	if userID == "" {
		userID = anonymousUser
	}
	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, userID)
		if err != nil {
			// 限流后端故障时放行
			log.Warnw("rate limiter failed, allowing request", "user_id", userID, "error", err.Error())
			allowed = true
		}
		if !allowed {
			log.Infow("request rate limited", "user_id", userID, "error", ErrRateLimited.Error())
			return Reply{Text: ReplyRateLimited, Outcome: OutcomeRateLimited}
		}
	}

	retrieval := p.retriever.Retrieve(ctx, question)
	if len(retrieval.Chunks) == 0 {
		if retrieval.EmbedErr != nil {
			return Reply{Text: ReplyUnavailable, Outcome: OutcomeUnavailable}
		}
		return Reply{Text: ReplyNoInfo, Outcome: OutcomeNoInfo}
	}

	answer, err := p.generator.Generate(ctx, question, retrieval.Chunks)
	if err != nil {
		return Reply{Text: answer, Outcome: OutcomeUnavailable, Chunks: len(retrieval.Chunks)}
	}
	return Reply{Text: answer, Outcome: OutcomeAnswered, Chunks: len(retrieval.Chunks)}
}

// Status 流水线健康状态。
type Status struct {
	Healthy bool              `json:"healthy"`
	Vector  store.IndexStatus `json:"vector_index"`
	Lexical store.IndexStatus `json:"lexical_index"`
	Breaker string            `json:"circuit_breaker"`
}

// Status 报告索引状态；向量索引不可用时 Healthy 为 false。
func (p *Pipeline) Status() Status {
	st := Status{
		Vector:  store.IndexStatus{State: store.StateUnavailable, Reason: "not configured"},
		Lexical: store.IndexStatus{State: store.StateUnavailable, Reason: "not configured"},
		Breaker: p.generator.BreakerState(),
	}
	if p.retriever.vector != nil {
		st.Vector = p.retriever.vector.Status()
	}
	if p.retriever.lexical != nil {
		st.Lexical = p.retriever.lexical.Status()
	}
	st.Healthy = st.Vector.OK()
	return st
}

// Metrics 返回流水线使用的指标实例。
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}
