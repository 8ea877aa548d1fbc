// Package broadcast 定时向订阅会话推送随机问答。
package broadcast

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
)

// Sender 发送纯文本消息。
type Sender interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) error
}

// ChatStore 订阅会话存储。
type ChatStore interface {
	List(ctx context.Context) ([]store.Chat, error)
	Remove(ctx context.Context, id int64) error
}

// Config 推送配置。
type Config struct {
	// Interval 两轮推送之间的间隔。
	Interval time.Duration
	// Pause 同一轮内两个会话之间的间隔。
	Pause time.Duration
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{Interval: 60 * time.Second, Pause: time.Second}
}

// Broadcaster 定时推送器。
type Broadcaster struct {
	sender Sender
	chats  ChatStore
	pairs  []Pair
	config *Config
	pick   func(n int) int

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New 创建推送器。
func New(sender Sender, chats ChatStore, pairs []Pair, config *Config) *Broadcaster {
	if config == nil {
		config = DefaultConfig()
	}
	return &Broadcaster{
		sender: sender,
		chats:  chats,
		pairs:  pairs,
		config: config,
		pick:   rand.IntN,
	}
}

// Name 返回组件名称。
func (b *Broadcaster) Name() string {
	return "broadcast"
}

// Start 启动推送循环，不阻塞。没有问答时不启动。
func (b *Broadcaster) Start(ctx context.Context) error {
	if len(b.pairs) == 0 {
		logger.Warn("no broadcast pairs loaded, broadcaster disabled")
		return nil
	}

	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.done = make(chan struct{})
	go b.loop(ctx)

	logger.Infow("broadcaster started", "pairs", len(b.pairs), "interval", b.config.Interval.String())
	return nil
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Stop 停止推送循环。
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.once.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		select {
		case <-b.done:
		case <-ctx.Done():
		}
	})
	return nil
}

// Tick 执行一轮推送，返回成功发送数与被移除的会话数。
func (b *Broadcaster) Tick(ctx context.Context) (sent, removed int) {
	if len(b.pairs) == 0 {
		return 0, 0
	}
	chats, err := b.chats.List(ctx)
	if err != nil {
		logger.Errorw("failed to list broadcast chats", "error", err.Error())
		return 0, 0
	}
	if len(chats) == 0 {
		return 0, 0
	}

	text := b.pairs[b.pick(len(b.pairs))].Format()
	for i, chat := range chats {
		if i > 0 && !sleep(ctx, b.config.Pause) {
			break
		}

		err := b.sender.SendText(ctx, chat.ID, 0, text)
		if err == nil {
			sent++
			continue
		}

		logger.Errorw("failed to broadcast to chat", "chat_id", chat.ID, "error", err.Error())
		if isGone(err) {
			if err := b.chats.Remove(ctx, chat.ID); err != nil {
				logger.Warnw("failed to remove chat", "chat_id", chat.ID, "error", err.Error())
				continue
			}
			removed++
			logger.Infow("chat removed from broadcast", "chat_id", chat.ID)
		}
	}

	logger.Infow("broadcast round finished", "chats", len(chats), "sent", sent, "removed", removed)
	return sent, removed
}

// isGone 判断会话是否已屏蔽机器人或不存在。
func isGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "not found")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
