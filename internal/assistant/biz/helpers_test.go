package biz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware"
	"github.com/kart-io/anticorruption-bot/pkg/llm"
	"github.com/kart-io/anticorruption-bot/pkg/llm/openai"
)

// fakeEmbedder 计数的嵌入供应商。
type fakeEmbedder struct {
	calls atomic.Int32
	fn    func(text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(text)
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

// fakeChat 计数的对话供应商，默认回显上下文。
type fakeChat struct {
	calls atomic.Int32
	mu    sync.Mutex
	last  *llm.ChatRequest
	fn    func(req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeChat) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return echoContext(req), nil
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) lastRequest() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// echoContext 模拟遵守系统提示词的模型：带上约定的措辞并回显第一个片段。
func echoContext(req *llm.ChatRequest) *llm.ChatResponse {
	user := req.Messages[len(req.Messages)-1].Content
	first := user
	if i := strings.Index(user, "Контекст:\n"); i >= 0 {
		first = user[i+len("Контекст:\n"):]
	}
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	return &llm.ChatResponse{
		Content:          "**Согласно имеющейся информации**, `" + first + "`",
		PromptTokens:     10,
		CompletionTokens: 5,
	}
}

type fakeVector struct {
	hits   []store.Hit
	err    error
	status store.IndexStatus
	calls  atomic.Int32
}

func (f *fakeVector) Search(context.Context, []float32, int) ([]store.Hit, error) {
	f.calls.Add(1)
	return f.hits, f.err
}

func (f *fakeVector) Status() store.IndexStatus {
	if f.status.State == "" {
		return store.IndexStatus{Backend: "fake", State: store.StateOK, Size: len(f.hits)}
	}
	return f.status
}

type fakeLexical struct {
	hits  []store.Hit
	err   error
	query string
}

func (f *fakeLexical) Search(_ context.Context, query string, _ int) ([]store.Hit, error) {
	f.query = query
	return f.hits, f.err
}

func (f *fakeLexical) Status() store.IndexStatus {
	return store.IndexStatus{Backend: "fake", State: store.StateOK, Size: len(f.hits)}
}

// statusServer 总是以给定状态码响应的上游。
func statusServer(t *testing.T, status int, hits *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"upstream status %d"}}`, status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newOpenAIProvider(baseURL string) *openai.Provider {
	cfg := openai.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.Timeout = 2 * time.Second
	return openai.NewProviderWithConfig(cfg)
}

func fastEmbedderConfig() *EmbedderConfig {
	return &EmbedderConfig{MaxAttempts: 3, Backoff: time.Millisecond, CacheSize: 100}
}

func fastGeneratorConfig() *GeneratorConfig {
	cfg := DefaultGeneratorConfig()
	cfg.Backoff = time.Millisecond
	return cfg
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

// recordingLogger 记录结构化日志，其余方法委托给全局日志器。
type recordingLogger struct {
	core.Logger
	mu      *sync.Mutex
	entries *[]logEntry
	fields  []interface{}
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{
		Logger:  logger.Global(),
		mu:      &sync.Mutex{},
		entries: &[]logEntry{},
	}
}

func (r *recordingLogger) record(level, msg string, kv []interface{}) {
	fields := make(map[string]interface{})
	all := append(append([]interface{}{}, r.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			fields[k] = all[i+1]
		}
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, fields: fields})
	r.mu.Unlock()
}

func (r *recordingLogger) Debugw(msg string, kv ...interface{}) { r.record("debug", msg, kv) }
func (r *recordingLogger) Infow(msg string, kv ...interface{}) { r.record("info", msg, kv) }
func (r *recordingLogger) Warnw(msg string, kv ...interface{}) { r.record("warn", msg, kv) }
func (r *recordingLogger) Errorw(msg string, kv ...interface{}) { r.record("error", msg, kv) }

func (r *recordingLogger) With(kv ...interface{}) core.Logger {
	c := *r
	c.fields = append(append([]interface{}{}, r.fields...), kv...)
	return &c
}

func (r *recordingLogger) find(msg string) (logEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range *r.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// newTestPipeline 组装使用假供应商的流水线。
func newTestPipeline(
	embedder llm.EmbeddingProvider,
	chat llm.ChatProvider,
	vector VectorSearcher,
	lexical LexicalSearcher,
	limiter middleware.RateLimiter,
	log core.Logger,
) *Pipeline {
	m := metrics.New()
	emb := NewEmbedder(embedder, fastEmbedderConfig(), m)
	retriever := NewRetriever(emb, vector, lexical, nil, m)
	gen := NewGenerator(chat, fastGeneratorConfig(), nil, nil, WithGeneratorMetrics(m))
	return NewPipeline(limiter, retriever, gen, WithLogger(log), WithMetrics(m))
}
