package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestRecordOutcome(t *testing.T) {
	m := New()
	m.RecordOutcome("answered")
	m.RecordOutcome("answered")
	m.RecordOutcome("rate_limited")

	assert.Equal(t, uint64(2), m.OutcomeCount("answered"))
	assert.Equal(t, uint64(1), m.OutcomeCount("rate_limited"))
	assert.Zero(t, m.OutcomeCount("no_info"))
}

func TestRecordEmbedding(t *testing.T) {
	m := New()
	m.RecordEmbedding(true, nil)
	m.RecordEmbedding(false, nil)
	m.RecordEmbedding(false, assert.AnError)
	m.RecordEmbeddingRetry()

	assert.Equal(t, uint64(2), m.EmbeddingCalls())
	stats := m.Stats()["embedding"].(map[string]interface{})
	assert.Equal(t, uint64(1), stats["errors"])
	assert.Equal(t, uint64(1), stats["cache_hits"])
	assert.Equal(t, uint64(1), stats["retries"])
}

func TestRecordLLMCall(t *testing.T) {
	m := New()
	m.RecordLLMCall(500*time.Millisecond, 100, 50, nil)
	m.RecordLLMCall(time.Second, 0, 0, assert.AnError)

	assert.Equal(t, uint64(2), m.LLMCalls())
	llm := m.Stats()["llm"].(map[string]interface{})
	assert.Equal(t, uint64(1), llm["errors"])
	assert.Equal(t, uint64(100), llm["tokens_prompt"])
	assert.Equal(t, uint64(50), llm["tokens_completion"])
}

func TestCircuitBreakerState(t *testing.T) {
	m := New()
	m.SetCircuitBreakerState(BreakerOpen)
	m.SetCircuitBreakerState(BreakerOpen)
	m.SetCircuitBreakerState(BreakerHalfOpen)
	m.SetCircuitBreakerState(BreakerOpen)

	cb := m.Stats()["circuit_breaker"].(map[string]interface{})
	assert.Equal(t, "open", cb["state"])
	assert.Equal(t, uint64(2), cb["opens"])
}

func TestExport(t *testing.T) {
	m := New()
	m.RecordOutcome("answered")
	m.RecordRetrieval(100*time.Millisecond, 3, nil, assert.AnError)
	m.RecordAnswerCache(true)
	m.SetIndexSizes(42, 40)

	out := m.Export("anticorruption", "assistant")
	assert.Contains(t, out, `anticorruption_assistant_requests_total{outcome="answered"} 1`)
	assert.Contains(t, out, "# TYPE anticorruption_assistant_retrieval_total counter")
	assert.Contains(t, out, "anticorruption_assistant_retrieval_chunks_total 3")
	assert.Contains(t, out, "anticorruption_assistant_retrieval_lexical_errors_total 1")
	assert.Contains(t, out, "anticorruption_assistant_answer_cache_hits_total 1")
	assert.Contains(t, out, "anticorruption_assistant_vector_index_size 42")
	assert.Contains(t, out, "anticorruption_assistant_uptime_seconds")

	assert.Contains(t, New().Export("acbot", ""), "acbot_llm_calls_total 0")
}
