package assistant

import (
	"fmt"
	"os"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/anticorruption-bot/internal/assistant/biz"
	"github.com/kart-io/anticorruption-bot/pkg/infra/app"
	httpopts "github.com/kart-io/anticorruption-bot/pkg/options/http"
	llmopts "github.com/kart-io/anticorruption-bot/pkg/options/llm"
	logopts "github.com/kart-io/anticorruption-bot/pkg/options/logger"
	milvusopts "github.com/kart-io/anticorruption-bot/pkg/options/milvus"
	redisopts "github.com/kart-io/anticorruption-bot/pkg/options/redis"
)

var _ app.CliOptions = (*Options)(nil)

// TelegramTokenEnv 未配置 telegram.token 时读取的环境变量。
const TelegramTokenEnv = "TELEGRAM_BOT_TOKEN"

// 后端取值。
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMilvus = "milvus"
)

// RateLimitOptions 每用户滑动窗口限流。
type RateLimitOptions struct {
	Quota  int           `json:"quota" mapstructure:"quota"`
	Window time.Duration `json:"window" mapstructure:"window"`
	// Backend memory 或 redis，redis 需要 redis.enabled。
	Backend string `json:"backend" mapstructure:"backend"`
}

// RetrievalOptions 检索配置。
type RetrievalOptions struct {
	VectorK  int  `json:"vector-k" mapstructure:"vector-k"`
	LexicalK int  `json:"lexical-k" mapstructure:"lexical-k"`
	Dedup    bool `json:"dedup" mapstructure:"dedup"`
}

// ContextOptions 上下文组装上限。
type ContextOptions struct {
	MaxChunks     int `json:"max-chunks" mapstructure:"max-chunks"`
	MaxChunkChars int `json:"max-chunk-chars" mapstructure:"max-chunk-chars"`
	MaxChars      int `json:"max-chars" mapstructure:"max-chars"`
}

// CacheOptions 进程内缓存配置。
type CacheOptions struct {
	EmbeddingSize int           `json:"embedding-size" mapstructure:"embedding-size"`
	EmbeddingTTL  time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	AnswerSize    int           `json:"answer-size" mapstructure:"answer-size"`
	AnswerTTL     time.Duration `json:"answer-ttl" mapstructure:"answer-ttl"`
}

// IndexOptions 索引位置。
type IndexOptions struct {
	// Backend memory（本地快照）或 milvus。
	Backend      string `json:"backend" mapstructure:"backend"`
	VectorsPath  string `json:"vectors-path" mapstructure:"vectors-path"`
	MetadataPath string `json:"metadata-path" mapstructure:"metadata-path"`
	LexicalDir   string `json:"lexical-dir" mapstructure:"lexical-dir"`
	// ChunkMaxChars 检索结果中单个片段的字符上限。
	ChunkMaxChars int `json:"chunk-max-chars" mapstructure:"chunk-max-chars"`
	// BuildLexical 关键词索引目录不存在时从快照构建。
	BuildLexical bool `json:"build-lexical" mapstructure:"build-lexical"`
	// PublishMilvus 启动时把本地快照写入 Milvus 集合。
	PublishMilvus bool `json:"publish-milvus" mapstructure:"publish-milvus"`
}

// GenerationOptions 生成相关配置。
type GenerationOptions struct {
	SystemPrompt   string `json:"system-prompt" mapstructure:"system-prompt"`
	MaxReplyLength int    `json:"max-reply-length" mapstructure:"max-reply-length"`

	BreakerEnabled     bool          `json:"breaker-enabled" mapstructure:"breaker-enabled"`
	BreakerMaxFailures int           `json:"breaker-max-failures" mapstructure:"breaker-max-failures"`
	BreakerTimeout     time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`
}

// TelegramOptions 机器人配置。
type TelegramOptions struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Token 不参与序列化。
	Token             string `json:"-" mapstructure:"token"`
	PollTimeout       int    `json:"poll-timeout" mapstructure:"poll-timeout"`
	Workers           int    `json:"workers" mapstructure:"workers"`
	MessagesPerMinute int    `json:"messages-per-minute" mapstructure:"messages-per-minute"`
	Debug             bool   `json:"debug" mapstructure:"debug"`
}

// BroadcastOptions 定时推送配置。
type BroadcastOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	File     string        `json:"file" mapstructure:"file"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Pause    time.Duration `json:"pause" mapstructure:"pause"`
}

// StoreOptions 订阅者数据库。
type StoreOptions struct {
	Path string `json:"path" mapstructure:"path"`
}

// Options contains everything needed to run the assistant.
type Options struct {
	Log       *logopts.Options         `json:"log" mapstructure:"log"`
	HTTP      *httpopts.Options        `json:"http" mapstructure:"http"`
	Redis     *redisopts.Options       `json:"redis" mapstructure:"redis"`
	Milvus    *milvusopts.Options      `json:"milvus" mapstructure:"milvus"`
	Embedding *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`
	Chat      *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	RateLimit  *RateLimitOptions  `json:"ratelimit" mapstructure:"ratelimit"`
	Retrieval  *RetrievalOptions  `json:"retrieval" mapstructure:"retrieval"`
	Context    *ContextOptions    `json:"context" mapstructure:"context"`
	Cache      *CacheOptions      `json:"cache" mapstructure:"cache"`
	Index      *IndexOptions      `json:"index" mapstructure:"index"`
	Generation *GenerationOptions `json:"generation" mapstructure:"generation"`
	Telegram   *TelegramOptions   `json:"telegram" mapstructure:"telegram"`
	Broadcast  *BroadcastOptions  `json:"broadcast" mapstructure:"broadcast"`
	Store      *StoreOptions      `json:"store" mapstructure:"store"`

	// AskTimeout HTTP 问答请求的整体超时。
	AskTimeout time.Duration `json:"ask-timeout" mapstructure:"ask-timeout"`
	// ShutdownTimeout 优雅退出的最长等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		Log:       logopts.NewOptions(),
		HTTP:      httpopts.NewOptions(),
		Redis:     redisopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Embedding: llmopts.NewEmbeddingOptions(),
		Chat:      llmopts.NewChatOptions(),
		RateLimit: &RateLimitOptions{
			Quota:   8,
			Window:  60 * time.Second,
			Backend: BackendMemory,
		},
		Retrieval: &RetrievalOptions{VectorK: 5, LexicalK: 5, Dedup: true},
		Context:   &ContextOptions{MaxChunks: 5, MaxChunkChars: 1500, MaxChars: 7000},
		Cache: &CacheOptions{
			EmbeddingSize: 10000,
			EmbeddingTTL:  24 * time.Hour,
			AnswerSize:    1000,
			AnswerTTL:     time.Hour,
		},
		Index: &IndexOptions{
			Backend:       BackendMemory,
			VectorsPath:   "data/vectors.bin",
			MetadataPath:  "data/metadata.json",
			LexicalDir:    "data/lexical.bleve",
			ChunkMaxChars: 2000,
		},
		Generation: &GenerationOptions{
			SystemPrompt:       biz.DefaultSystemPrompt,
			MaxReplyLength:     4096,
			BreakerEnabled:     true,
			BreakerMaxFailures: 5,
			BreakerTimeout:     60 * time.Second,
		},
		Telegram: &TelegramOptions{
			Enabled:           true,
			PollTimeout:       60,
			Workers:           16,
			MessagesPerMinute: 40,
		},
		Broadcast: &BroadcastOptions{
			Enabled:  true,
			File:     "data/qa_pairs.xml",
			Interval: 60 * time.Second,
			Pause:    time.Second,
		},
		Store:           &StoreOptions{Path: "data/chats.db"},
		AskTimeout:      3 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Flags returns flags grouped by option group.
func (o *Options) Flags() (fss app.NamedFlagSets) {
	o.Log.AddFlags(fss.FlagSet("log"))
	o.HTTP.AddFlags(fss.FlagSet("http"))
	o.Redis.AddFlags(fss.FlagSet("redis"))
	o.Milvus.AddFlags(fss.FlagSet("milvus"))
	o.Embedding.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.Chat.AddFlags(fss.FlagSet("chat"), "chat")

	fs := fss.FlagSet("ratelimit")
	fs.IntVar(&o.RateLimit.Quota, "ratelimit.quota", o.RateLimit.Quota, "Questions accepted per user within one window.")
	fs.DurationVar(&o.RateLimit.Window, "ratelimit.window", o.RateLimit.Window, "Rate limit sliding window.")
	fs.StringVar(&o.RateLimit.Backend, "ratelimit.backend", o.RateLimit.Backend, "Rate limit backend (memory, redis).")

	fs = fss.FlagSet("retrieval")
	fs.IntVar(&o.Retrieval.VectorK, "retrieval.vector-k", o.Retrieval.VectorK, "Nearest neighbours taken from the vector index.")
	fs.IntVar(&o.Retrieval.LexicalK, "retrieval.lexical-k", o.Retrieval.LexicalK, "Hits taken from the lexical index, 0 disables it.")
	fs.BoolVar(&o.Retrieval.Dedup, "retrieval.dedup", o.Retrieval.Dedup, "Drop chunks whose normalized text repeats.")

	fs = fss.FlagSet("context")
	fs.IntVar(&o.Context.MaxChunks, "context.max-chunks", o.Context.MaxChunks, "Chunks placed into the prompt context.")
	fs.IntVar(&o.Context.MaxChunkChars, "context.max-chunk-chars", o.Context.MaxChunkChars, "Characters kept from each chunk.")
	fs.IntVar(&o.Context.MaxChars, "context.max-chars", o.Context.MaxChars, "Ceiling for the whole context.")

	fs = fss.FlagSet("cache")
	fs.IntVar(&o.Cache.EmbeddingSize, "cache.embedding-size", o.Cache.EmbeddingSize, "Embedding cache entries.")
	fs.DurationVar(&o.Cache.EmbeddingTTL, "cache.embedding-ttl", o.Cache.EmbeddingTTL, "Embedding cache entry lifetime.")
	fs.IntVar(&o.Cache.AnswerSize, "cache.answer-size", o.Cache.AnswerSize, "Answer cache entries.")
	fs.DurationVar(&o.Cache.AnswerTTL, "cache.answer-ttl", o.Cache.AnswerTTL, "Answer cache entry lifetime.")

	fs = fss.FlagSet("index")
	fs.StringVar(&o.Index.Backend, "index.backend", o.Index.Backend, "Vector index backend (memory, milvus).")
	fs.StringVar(&o.Index.VectorsPath, "index.vectors-path", o.Index.VectorsPath, "Vector snapshot file.")
	fs.StringVar(&o.Index.MetadataPath, "index.metadata-path", o.Index.MetadataPath, "Chunk metadata file.")
	fs.StringVar(&o.Index.LexicalDir, "index.lexical-dir", o.Index.LexicalDir, "Lexical index directory, empty disables it.")
	fs.IntVar(&o.Index.ChunkMaxChars, "index.chunk-max-chars", o.Index.ChunkMaxChars, "Characters kept from each retrieved chunk.")
	fs.BoolVar(&o.Index.BuildLexical, "index.build-lexical", o.Index.BuildLexical, "Build the lexical index from the snapshot when it is missing.")
	fs.BoolVar(&o.Index.PublishMilvus, "index.publish-milvus", o.Index.PublishMilvus, "Load the snapshot into the Milvus collection on startup.")

	fs = fss.FlagSet("generation")
	fs.StringVar(&o.Generation.SystemPrompt, "generation.system-prompt", o.Generation.SystemPrompt, "System prompt for the chat model.")
	fs.IntVar(&o.Generation.MaxReplyLength, "generation.max-reply-length", o.Generation.MaxReplyLength, "Characters kept from a sanitized reply.")
	fs.BoolVar(&o.Generation.BreakerEnabled, "generation.breaker-enabled", o.Generation.BreakerEnabled, "Guard the chat provider with a circuit breaker.")
	fs.IntVar(&o.Generation.BreakerMaxFailures, "generation.breaker-max-failures", o.Generation.BreakerMaxFailures, "Consecutive failures that open the breaker.")
	fs.DurationVar(&o.Generation.BreakerTimeout, "generation.breaker-timeout", o.Generation.BreakerTimeout, "Time the breaker stays open.")

	fs = fss.FlagSet("telegram")
	fs.BoolVar(&o.Telegram.Enabled, "telegram.enabled", o.Telegram.Enabled, "Poll Telegram for messages.")
	fs.StringVar(&o.Telegram.Token, "telegram.token", o.Telegram.Token, "Bot token, defaults to $"+TelegramTokenEnv+".")
	fs.IntVar(&o.Telegram.PollTimeout, "telegram.poll-timeout", o.Telegram.PollTimeout, "Long polling timeout in seconds.")
	fs.IntVar(&o.Telegram.Workers, "telegram.workers", o.Telegram.Workers, "Updates handled concurrently.")
	fs.IntVar(&o.Telegram.MessagesPerMinute, "telegram.messages-per-minute", o.Telegram.MessagesPerMinute, "Outbound message rate, 0 disables pacing.")
	fs.BoolVar(&o.Telegram.Debug, "telegram.debug", o.Telegram.Debug, "Log raw Bot API traffic.")

	fs = fss.FlagSet("broadcast")
	fs.BoolVar(&o.Broadcast.Enabled, "broadcast.enabled", o.Broadcast.Enabled, "Send random question/answer pairs to subscribed chats.")
	fs.StringVar(&o.Broadcast.File, "broadcast.file", o.Broadcast.File, "XML file with question/answer pairs.")
	fs.DurationVar(&o.Broadcast.Interval, "broadcast.interval", o.Broadcast.Interval, "Time between broadcast rounds.")
	fs.DurationVar(&o.Broadcast.Pause, "broadcast.pause", o.Broadcast.Pause, "Pause between chats within a round.")

	fs = fss.FlagSet("misc")
	fs.StringVar(&o.Store.Path, "store.path", o.Store.Path, "Subscriber database file.")
	fs.DurationVar(&o.AskTimeout, "ask-timeout", o.AskTimeout, "Deadline for one HTTP question.")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")

	return fss
}

// Complete fills secrets from the environment and derived defaults.
func (o *Options) Complete() error {
	if err := o.Log.Complete(); err != nil {
		return err
	}
	if err := o.HTTP.Complete(); err != nil {
		return err
	}
	if err := o.Redis.Complete(); err != nil {
		return err
	}
	if err := o.Embedding.Complete(os.Getenv); err != nil {
		return err
	}
	if err := o.Chat.Complete(os.Getenv); err != nil {
		return err
	}
	if o.Telegram.Token == "" {
		o.Telegram.Token = os.Getenv(TelegramTokenEnv)
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	return nil
}

// Validate checks every group and aggregates the errors.
func (o *Options) Validate() error {
	var errs []error

	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Redis.Validate()...)
	if o.Index.Backend == BackendMilvus || o.Index.PublishMilvus {
		errs = append(errs, o.Milvus.Validate()...)
	}
	errs = append(errs, prefixed("embedding", o.Embedding.Validate())...)
	errs = append(errs, prefixed("chat", o.Chat.Validate())...)

	if o.RateLimit.Quota <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.quota must be positive"))
	}
	if o.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.window must be positive"))
	}
	switch o.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if !o.Redis.Enabled {
			errs = append(errs, fmt.Errorf("ratelimit.backend=redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis, got %q", o.RateLimit.Backend))
	}

	if o.Retrieval.VectorK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.vector-k must be positive"))
	}
	if o.Retrieval.LexicalK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.lexical-k cannot be negative"))
	}
	if o.Context.MaxChunks <= 0 || o.Context.MaxChunkChars <= 0 || o.Context.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("context limits must be positive"))
	}

	switch o.Index.Backend {
	case BackendMemory, BackendMilvus:
	default:
		errs = append(errs, fmt.Errorf("index.backend must be memory or milvus, got %q", o.Index.Backend))
	}
	if o.Index.ChunkMaxChars <= 0 {
		errs = append(errs, fmt.Errorf("index.chunk-max-chars must be positive"))
	}

	if o.Generation.MaxReplyLength <= 0 {
		errs = append(errs, fmt.Errorf("generation.max-reply-length must be positive"))
	}
	if o.Generation.BreakerEnabled && o.Generation.BreakerMaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("generation.breaker-max-failures must be positive"))
	}

	if o.Telegram.Enabled {
		if o.Telegram.Token == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", TelegramTokenEnv))
		}
		if o.Telegram.Workers <= 0 {
			errs = append(errs, fmt.Errorf("telegram.workers must be positive"))
		}
	}
	if o.Broadcast.Enabled && o.Broadcast.Interval <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.interval must be positive"))
	}
	if !o.HTTP.Enabled && !o.Telegram.Enabled {
		errs = append(errs, fmt.Errorf("at least one of http.enabled and telegram.enabled must be set"))
	}
	if o.Telegram.Enabled && o.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path cannot be empty"))
	}

	return utilerrors.NewAggregate(errs)
}

func prefixed(group string, errs []error) []error {
	for i, err := range errs {
		errs[i] = fmt.Errorf("%s: %w", group, err)
	}
	return errs
}
