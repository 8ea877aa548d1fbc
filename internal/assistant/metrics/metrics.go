// Package metrics 提供问答流水线的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome 与 biz.Outcome 取值一致，这里只用字符串避免循环依赖。
type Outcome = string

// 熔断器状态取值。
const (
	BreakerClosed int32 = iota
	BreakerOpen
	BreakerHalfOpen
)

// Metrics 问答流水线业务指标。
type Metrics struct {
	// 请求结果
	outcomes sync.Map // Outcome -> *uint64

	// 嵌入调用
	embedCalls     uint64
	embedErrors    uint64
	embedRetries   uint64
	embedCacheHits uint64

	// 检索
	retrievalTotal    uint64
	retrievalDuration float64
	vectorErrors      uint64
	lexicalErrors     uint64
	chunksRetrieved   uint64

	// LLM 调用
	llmCallsTotal       uint64
	llmCallsDuration    float64
	llmCallsErrors      uint64
	llmCallsRetries     uint64
	llmTokensPrompt     uint64
	llmTokensCompletion uint64
	answerCacheHits     uint64
	answerCacheMisses   uint64

	// 熔断器
	circuitBreakerOpens uint64
	circuitBreakerState int32

	// 索引规模
	vectorIndexSize  int64
	lexicalIndexSize int64

	durationMu sync.Mutex
	startTime  time.Time
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// New 创建独立的指标实例。
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Default 获取进程级指标实例。
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// RecordOutcome 记录一次请求的最终结果。
func (m *Metrics) RecordOutcome(outcome Outcome) {
	v, _ := m.outcomes.LoadOrStore(outcome, new(uint64))
	atomic.AddUint64(v.(*uint64), 1)
}

// OutcomeCount 返回某一结果的累计次数。
func (m *Metrics) OutcomeCount(outcome Outcome) uint64 {
	v, ok := m.outcomes.Load(outcome)
	if !ok {
		return 0
	}
	return atomic.LoadUint64(v.(*uint64))
}

// RecordEmbedding 记录一次嵌入调用（含重试后的最终结果）。
func (m *Metrics) RecordEmbedding(cacheHit bool, err error) {
	if cacheHit {
		atomic.AddUint64(&m.embedCacheHits, 1)
		return
	}
	atomic.AddUint64(&m.embedCalls, 1)
	if err != nil {
		atomic.AddUint64(&m.embedErrors, 1)
	}
}

// RecordEmbeddingRetry 记录嵌入重试。
func (m *Metrics) RecordEmbeddingRetry() {
	atomic.AddUint64(&m.embedRetries, 1)
}

// EmbeddingCalls 返回实际发出的嵌入调用次数。
func (m *Metrics) EmbeddingCalls() uint64 {
	return atomic.LoadUint64(&m.embedCalls)
}

// RecordRetrieval 记录检索操作。
func (m *Metrics) RecordRetrieval(duration time.Duration, chunks int, vectorErr, lexicalErr error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if vectorErr != nil {
		atomic.AddUint64(&m.vectorErrors, 1)
	}
	if lexicalErr != nil {
		atomic.AddUint64(&m.lexicalErrors, 1)
	}
	if chunks > 0 {
		atomic.AddUint64(&m.chunksRetrieved, uint64(chunks))
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordLLMCall 记录 LLM 调用。
func (m *Metrics) RecordLLMCall(duration time.Duration, promptTokens, completionTokens int, err error) {
	atomic.AddUint64(&m.llmCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.llmCallsErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()

	if promptTokens > 0 {
		atomic.AddUint64(&m.llmTokensPrompt, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.llmTokensCompletion, uint64(completionTokens))
	}
}

// RecordLLMRetry 记录 LLM 重试。
func (m *Metrics) RecordLLMRetry() {
	atomic.AddUint64(&m.llmCallsRetries, 1)
}

// LLMCalls 返回 LLM 调用次数。
func (m *Metrics) LLMCalls() uint64 {
	return atomic.LoadUint64(&m.llmCallsTotal)
}

// RecordAnswerCache 记录答案缓存命中情况。
func (m *Metrics) RecordAnswerCache(hit bool) {
	if hit {
		atomic.AddUint64(&m.answerCacheHits, 1)
	} else {
		atomic.AddUint64(&m.answerCacheMisses, 1)
	}
}

// SetCircuitBreakerState 更新熔断器状态，进入 open 时计数。
func (m *Metrics) SetCircuitBreakerState(state int32) {
	prev := atomic.SwapInt32(&m.circuitBreakerState, state)
	if state == BreakerOpen && prev != BreakerOpen {
		atomic.AddUint64(&m.circuitBreakerOpens, 1)
	}
}

// SetIndexSizes 记录启动时加载的索引规模。
func (m *Metrics) SetIndexSizes(vector, lexical int) {
	atomic.StoreInt64(&m.vectorIndexSize, int64(vector))
	atomic.StoreInt64(&m.lexicalIndexSize, int64(lexical))
}

type writer struct {
	sb     strings.Builder
	prefix string
}

func (w *writer) metric(name, typ, help string, value string) {
	fmt.Fprintf(&w.sb, "# HELP %s_%s %s\n", w.prefix, name, help)
	fmt.Fprintf(&w.sb, "# TYPE %s_%s %s\n", w.prefix, name, typ)
	fmt.Fprintf(&w.sb, "%s_%s %s\n\n", w.prefix, name, value)
}

func u(v uint64) string  { return fmt.Sprintf("%d", v) }
func f(v float64) string { return fmt.Sprintf("%.6f", v) }

// Export 导出 Prometheus 文本格式指标。
func (m *Metrics) Export(namespace, subsystem string) string {
	w := &writer{prefix: namespace}
	if subsystem != "" {
		w.prefix = w.prefix + "_" + subsystem
	}

	// 请求结果，按 outcome 分标签
	fmt.Fprintf(&w.sb, "# HELP %s_requests_total Total number of questions by outcome.\n", w.prefix)
	fmt.Fprintf(&w.sb, "# TYPE %s_requests_total counter\n", w.prefix)
	m.outcomes.Range(func(k, v any) bool {
		fmt.Fprintf(&w.sb, "%s_requests_total{outcome=%q} %d\n", w.prefix, k, atomic.LoadUint64(v.(*uint64)))
		return true
	})
	w.sb.WriteString("\n")

	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	w.metric("embedding_calls_total", "counter", "Outbound embedding calls.", u(atomic.LoadUint64(&m.embedCalls)))
	w.metric("embedding_errors_total", "counter", "Embedding calls that exhausted retries.", u(atomic.LoadUint64(&m.embedErrors)))
	w.metric("embedding_retries_total", "counter", "Embedding retries.", u(atomic.LoadUint64(&m.embedRetries)))
	w.metric("embedding_cache_hits_total", "counter", "Embedding cache hits.", u(atomic.LoadUint64(&m.embedCacheHits)))

	w.metric("retrieval_total", "counter", "Total number of retrievals.", u(atomic.LoadUint64(&m.retrievalTotal)))
	w.metric("retrieval_duration_seconds_total", "counter", "Total retrieval duration.", f(retrievalDuration))
	w.metric("retrieval_vector_errors_total", "counter", "Vector search errors.", u(atomic.LoadUint64(&m.vectorErrors)))
	w.metric("retrieval_lexical_errors_total", "counter", "Lexical search errors.", u(atomic.LoadUint64(&m.lexicalErrors)))
	w.metric("retrieval_chunks_total", "counter", "Chunks handed to the context assembler.", u(atomic.LoadUint64(&m.chunksRetrieved)))

	w.metric("llm_calls_total", "counter", "Total number of LLM calls.", u(atomic.LoadUint64(&m.llmCallsTotal)))
	w.metric("llm_calls_duration_seconds_total", "counter", "Total LLM call duration.", f(llmDuration))
	w.metric("llm_calls_errors_total", "counter", "Number of LLM call errors.", u(atomic.LoadUint64(&m.llmCallsErrors)))
	w.metric("llm_calls_retries_total", "counter", "Number of LLM call retries.", u(atomic.LoadUint64(&m.llmCallsRetries)))
	w.metric("llm_tokens_prompt_total", "counter", "Total prompt tokens.", u(atomic.LoadUint64(&m.llmTokensPrompt)))
	w.metric("llm_tokens_completion_total", "counter", "Total completion tokens.", u(atomic.LoadUint64(&m.llmTokensCompletion)))
	w.metric("answer_cache_hits_total", "counter", "Answer cache hits.", u(atomic.LoadUint64(&m.answerCacheHits)))
	w.metric("answer_cache_misses_total", "counter", "Answer cache misses.", u(atomic.LoadUint64(&m.answerCacheMisses)))

	w.metric("circuit_breaker_opens_total", "counter", "Number of circuit breaker opens.", u(atomic.LoadUint64(&m.circuitBreakerOpens)))
	w.metric("circuit_breaker_state", "gauge", "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		fmt.Sprintf("%d", atomic.LoadInt32(&m.circuitBreakerState)))

	w.metric("vector_index_size", "gauge", "Chunks in the vector index.", fmt.Sprintf("%d", atomic.LoadInt64(&m.vectorIndexSize)))
	w.metric("lexical_index_size", "gauge", "Documents in the lexical index.", fmt.Sprintf("%d", atomic.LoadInt64(&m.lexicalIndexSize)))

	w.metric("uptime_seconds", "gauge", "Service uptime in seconds.", fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()))

	return w.sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *Metrics) Stats() map[string]interface{} {
	outcomes := map[string]uint64{}
	m.outcomes.Range(func(k, v any) bool {
		outcomes[k.(string)] = atomic.LoadUint64(v.(*uint64))
		return true
	})

	cbStateStr := "closed"
	switch atomic.LoadInt32(&m.circuitBreakerState) {
	case BreakerOpen:
		cbStateStr = "open"
	case BreakerHalfOpen:
		cbStateStr = "half-open"
	}

	return map[string]interface{}{
		"requests": outcomes,
		"embedding": map[string]interface{}{
			"calls":      atomic.LoadUint64(&m.embedCalls),
			"errors":     atomic.LoadUint64(&m.embedErrors),
			"retries":    atomic.LoadUint64(&m.embedRetries),
			"cache_hits": atomic.LoadUint64(&m.embedCacheHits),
		},
		"llm": map[string]interface{}{
			"calls_total":       atomic.LoadUint64(&m.llmCallsTotal),
			"errors":            atomic.LoadUint64(&m.llmCallsErrors),
			"retries":           atomic.LoadUint64(&m.llmCallsRetries),
			"tokens_prompt":     atomic.LoadUint64(&m.llmTokensPrompt),
			"tokens_completion": atomic.LoadUint64(&m.llmTokensCompletion),
		},
		"circuit_breaker": map[string]interface{}{
			"state": cbStateStr,
			"opens": atomic.LoadUint64(&m.circuitBreakerOpens),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}
