// Package assistant wires the anticorruption documents assistant: the
// question answering pipeline, its Telegram and HTTP transports and the
// broadcaster.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/anticorruption-bot/internal/assistant/biz"
	"github.com/kart-io/anticorruption-bot/internal/assistant/broadcast"
	"github.com/kart-io/anticorruption-bot/internal/assistant/handler"
	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/internal/assistant/router"
	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
	"github.com/kart-io/anticorruption-bot/internal/assistant/telegram"
	"github.com/kart-io/anticorruption-bot/pkg/component/redis"
	"github.com/kart-io/anticorruption-bot/pkg/infra/app"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware"
	"github.com/kart-io/anticorruption-bot/pkg/infra/server"
	httpserver "github.com/kart-io/anticorruption-bot/pkg/infra/server/http"
	"github.com/kart-io/anticorruption-bot/pkg/llm"
	"github.com/kart-io/anticorruption-bot/pkg/llm/resilience"

	// 注册供应商
	_ "github.com/kart-io/anticorruption-bot/pkg/llm/ollama"
	_ "github.com/kart-io/anticorruption-bot/pkg/llm/openai"
)

const (
	appName        = "anticorruption-bot"
	appDescription = `Anticorruption documents assistant

Answers questions about anticorruption regulations from a prebuilt corpus:
  - vector and BM25 retrieval over document chunks
  - answer generation through an OpenAI compatible chat model
  - Telegram long polling, a JSON HTTP API and periodic broadcasts`

	rateLimitPrefix = "acbot:rl:"
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Anticorruption documents assistant"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func(ctx context.Context) error {
			return Run(ctx, opts)
		}),
	)
}

// Run runs the assistant with the given options until a shutdown signal.
func Run(ctx context.Context, opts *Options) error {
	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting assistant...", "index_backend", opts.Index.Backend, "ratelimit_backend", opts.RateLimit.Backend)

	// 2. Redis（可选）
	var rdb goredis.Cmdable
	if opts.Redis.Enabled {
		client, err := redis.NewWithContext(ctx, opts.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer client.Close()
		rdb = client.Client()
		logger.Infow("Redis client initialized", "addr", opts.Redis.Addr())
	}

	// 3. 索引
	vector, lexical := openIndexes(ctx, opts)
	defer vector.Close()
	defer lexical.Close()

	m := metrics.Default()
	m.SetIndexSizes(vector.Status().Size, lexical.Status().Size)

	// 4. 流水线
	pipeline, err := newPipeline(opts, rdb, vector, lexical, m)
	if err != nil {
		return err
	}
	logger.Info("Pipeline initialized")

	// 5. 服务
	manager := server.NewManager(server.WithShutdownTimeout(opts.ShutdownTimeout))

	if opts.HTTP.Enabled {
		httpServer := httpserver.NewServer(opts.HTTP)
		router.Register(httpServer.Engine(), handler.NewAssistantHandler(pipeline), opts.AskTimeout)
		manager.AddServer(httpServer)
	}

	if opts.Telegram.Enabled {
		chats, err := store.OpenChatStore(opts.Store.Path)
		if err != nil {
			return err
		}
		defer chats.Close()

		bot, err := newTelegramBot(opts, pipeline, chats)
		if err != nil {
			return err
		}
		manager.AddServer(bot)

		if opts.Broadcast.Enabled {
			pairs, err := broadcast.LoadPairs(opts.Broadcast.File)
			if err != nil {
				return err
			}
			manager.AddServer(broadcast.New(bot.Sender(), chats, pairs, &broadcast.Config{
				Interval: opts.Broadcast.Interval,
				Pause:    opts.Broadcast.Pause,
			}))
		}
	}

	logger.Info("Assistant is ready")
	return manager.Run(ctx)
}

// openIndexes 打开向量与关键词索引。加载失败不会中止启动，索引以 unavailable 状态提供服务。
func openIndexes(ctx context.Context, opts *Options) (store.VectorIndex, store.LexicalIndex) {
	idx := opts.Index

	if idx.PublishMilvus || (idx.BuildLexical && idx.LexicalDir != "" && !exists(idx.LexicalDir)) {
		records, err := store.ReadSnapshot(idx.VectorsPath, idx.MetadataPath)
		if err != nil {
			logger.Warnw("failed to read snapshot, skipping index preparation", "error", err.Error())
		} else {
			prepareIndexes(ctx, opts, records)
		}
	}

	var vector store.VectorIndex
	switch idx.Backend {
	case BackendMilvus:
		vector = store.OpenMilvusIndex(ctx, opts.Milvus, idx.ChunkMaxChars)
	default:
		vector = store.LoadMemoryIndex(idx.VectorsPath, idx.MetadataPath, idx.ChunkMaxChars)
	}

	lexical := store.OpenLexicalIndex(idx.LexicalDir, idx.ChunkMaxChars)
	return vector, lexical
}

func prepareIndexes(ctx context.Context, opts *Options, records []store.Record) {
	idx := opts.Index

	if idx.BuildLexical && idx.LexicalDir != "" && !exists(idx.LexicalDir) {
		if err := store.BuildLexicalIndex(idx.LexicalDir, records); err != nil {
			logger.Warnw("failed to build lexical index", "dir", idx.LexicalDir, "error", err.Error())
		} else {
			logger.Infow("lexical index built", "dir", idx.LexicalDir, "records", len(records))
		}
	}

	if idx.PublishMilvus {
		n, err := store.PublishToMilvus(ctx, opts.Milvus, records)
		if err != nil {
			logger.Warnw("failed to publish snapshot to milvus", "collection", opts.Milvus.Collection, "error", err.Error())
			return
		}
		logger.Infow("snapshot published to milvus", "collection", opts.Milvus.Collection, "records", n)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func newPipeline(opts *Options, rdb goredis.Cmdable, vector store.VectorIndex, lexical store.LexicalIndex, m *metrics.Metrics) (*biz.Pipeline, error) {
	embedProvider, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if rdb != nil {
		cacheCfg := llm.DefaultEmbeddingCacheConfig()
		cacheCfg.TTL = opts.Cache.EmbeddingTTL
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, rdb, cacheCfg)
	}

	chatProvider, err := llm.NewChatProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create chat provider: %w", err)
	}

	embedder := biz.NewEmbedder(embedProvider, &biz.EmbedderConfig{
		MaxAttempts: opts.Embedding.MaxRetries,
		Backoff:     opts.Embedding.RetryBackoff,
		CacheSize:   opts.Cache.EmbeddingSize,
		CacheTTL:    opts.Cache.EmbeddingTTL,
	}, m)

	retriever := biz.NewRetriever(embedder, vector, lexical, &biz.RetrieverConfig{
		VectorK:  opts.Retrieval.VectorK,
		LexicalK: opts.Retrieval.LexicalK,
		Dedup:    opts.Retrieval.Dedup,
	}, m)

	answerCfg := biz.DefaultAnswerCacheConfig()
	answerCfg.Size = opts.Cache.AnswerSize
	answerCfg.TTL = opts.Cache.AnswerTTL

	genOpts := []biz.GeneratorOption{
		biz.WithAnswerCache(biz.NewAnswerCache(rdb, answerCfg)),
		biz.WithGeneratorMetrics(m),
	}
	if opts.Generation.BreakerEnabled {
		genOpts = append(genOpts, biz.WithCircuitBreaker(resilience.NewCircuitBreaker("chat", &resilience.CircuitBreakerConfig{
			MaxFailures:      opts.Generation.BreakerMaxFailures,
			Timeout:          opts.Generation.BreakerTimeout,
			HalfOpenMaxCalls: 1,
		})))
	}

	generator := biz.NewGenerator(chatProvider,
		&biz.GeneratorConfig{
			SystemPrompt: opts.Generation.SystemPrompt,
			MaxTokens:    opts.Chat.MaxTokens,
			Temperature:  opts.Chat.Temperature,
			MaxAttempts:  opts.Chat.MaxRetries,
			Backoff:      opts.Chat.RetryBackoff,
		},
		biz.NewAssembler(&biz.AssemblerConfig{
			MaxChunks:     opts.Context.MaxChunks,
			MaxChunkChars: opts.Context.MaxChunkChars,
			MaxChars:      opts.Context.MaxChars,
		}),
		biz.NewSanitizer(opts.Generation.MaxReplyLength),
		genOpts...,
	)

	var limiter middleware.RateLimiter
	switch opts.RateLimit.Backend {
	case BackendRedis:
		limiter = middleware.NewRedisRateLimiter(rdb, opts.RateLimit.Quota, opts.RateLimit.Window, rateLimitPrefix)
	default:
		limiter = middleware.NewMemoryRateLimiter(opts.RateLimit.Quota, opts.RateLimit.Window)
	}

	return biz.NewPipeline(limiter, retriever, generator, biz.WithMetrics(m)), nil
}

func newTelegramBot(opts *Options, pipeline *biz.Pipeline, chats *store.ChatStore) (*telegram.Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = opts.Telegram.Debug
	logger.Infow("Telegram authorized", "username", api.Self.UserName)

	cfg := telegram.DefaultConfig()
	cfg.Username = api.Self.UserName
	cfg.PollTimeout = opts.Telegram.PollTimeout
	cfg.Workers = opts.Telegram.Workers
	cfg.MessagesPerMinute = opts.Telegram.MessagesPerMinute
	cfg.ShutdownTimeout = opts.ShutdownTimeout

	return telegram.NewBot(api, pipeline, chats, cfg)
}
