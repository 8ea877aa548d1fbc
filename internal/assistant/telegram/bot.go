// Package telegram 将问答流水线接入 Telegram 长轮询。
package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/internal/assistant/biz"
	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
	"github.com/kart-io/anticorruption-bot/pkg/infra/pool"
)

// 固定回复。
const (
	GreetingText    = "Привет! Задайте мне вопрос по антикоррупционному законодательству."
	AskQuestionText = "Какой у вас вопрос?"
	SendFailureText = "Произошла ошибка при отправке полного ответа."
)

// Answerer 回答问题的流水线。
type Answerer interface {
	Answer(ctx context.Context, req biz.Request) biz.Reply
}

// ChatRecorder 记录与机器人交互过的会话。
type ChatRecorder interface {
	Add(ctx context.Context, chat store.Chat) (bool, error)
}

// Config 机器人配置。
type Config struct {
	// Username 机器人用户名，用于识别群聊中的提及。
	Username string
	// PollTimeout 长轮询超时秒数。
	PollTimeout int
	// Workers 并发处理更新的任务数。
	Workers int
	// MessagesPerMinute 全局出站消息速率。
	MessagesPerMinute int
	// MaxMessageLength 单条消息字符上限。
	MaxMessageLength int
	// ShutdownTimeout 停止时等待在途任务的时间。
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		PollTimeout:       60,
		Workers:           16,
		MessagesPerMinute: 40,
		MaxMessageLength:  MaxMessageLength,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Bot Telegram 机器人。
type Bot struct {
	client   Client
	sender   *PacedSender
	answerer Answerer
	chats    ChatRecorder
	config   *Config
	mention  *regexp.Regexp
	pool     *pool.Pool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewBot 创建机器人。chats 可以为 nil。
func NewBot(client Client, answerer Answerer, chats ChatRecorder, config *Config) (*Bot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxMessageLength <= 0 {
		config.MaxMessageLength = MaxMessageLength
	}

	p, err := pool.NewPool("telegram-updates", pool.UpdatesPoolConfig(config.Workers))
	if err != nil {
		return nil, fmt.Errorf("failed to create updates pool: %w", err)
	}

	b := &Bot{
		client:   client,
		sender:   NewPacedSender(client, config.MessagesPerMinute),
		answerer: answerer,
		chats:    chats,
		config:   config,
		pool:     p,
	}
	if config.Username != "" {
		b.mention = regexp.MustCompile(`(?i)@?` + regexp.QuoteMeta(config.Username) + `\b`)
	}
	return b, nil
}

// Sender 返回机器人使用的限速发送器，推送与回复共享同一速率。
func (b *Bot) Sender() *PacedSender {
	return b.sender
}

// Name 返回组件名称。
func (b *Bot) Name() string {
	return "telegram"
}

// Start 开始长轮询，不阻塞。
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	updates := b.client.GetUpdatesChan(u)

	go b.loop(ctx, updates)
	logger.Infow("telegram polling started", "username", b.config.Username, "workers", b.config.Workers)
	return nil
}

func (b *Bot) loop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			err := b.pool.SubmitWithContext(ctx, func(ctx context.Context) {
				// 已开始的请求不因停机而中断
				b.HandleUpdate(context.WithoutCancel(ctx), update)
			})
			if err != nil {
				logger.Warnw("failed to submit update", "update_id", update.UpdateID, "error", err.Error())
			}
		}
	}
}

// Stop 停止轮询并等待在途任务完成。
func (b *Bot) Stop(ctx context.Context) error {
	var err error
	b.once.Do(func() {
		if b.cancel == nil {
			b.pool.Release()
			return
		}
		b.cancel()
		b.client.StopReceivingUpdates()
		select {
		case <-b.done:
		case <-ctx.Done():
		}

		timeout := b.config.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		err = b.pool.ReleaseTimeout(timeout)
	})
	return err
}

// HandleUpdate 处理一条更新。
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}
	log := logger.Global().With("chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type, "message_id", msg.MessageID)

	b.recordChat(ctx, msg.Chat)

	if msg.IsCommand() {
		if msg.Command() == "start" {
			b.reply(ctx, msg, GreetingText)
		}
		return
	}

	private := msg.Chat.IsPrivate()
	question := msg.Text
	if !private {
		if b.mention == nil || !b.mention.MatchString(question) {
			return
		}
		question = strings.TrimSpace(b.mention.ReplaceAllString(question, ""))
		if question == "" {
			b.reply(ctx, msg, AskQuestionText)
			return
		}
	}

	userID := strconv.FormatInt(msg.Chat.ID, 10)
	firstName := ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
		firstName = msg.From.FirstName
	}

	if err := b.sender.Typing(ctx, msg.Chat.ID); err != nil {
		log.Debugw("failed to send typing action", "error", err.Error())
	}

	reply := b.answerer.Answer(ctx, biz.Request{UserID: userID, Text: question})
	if reply.Outcome == biz.OutcomeEmptyQuery || reply.Text == "" {
		return
	}

	answer := reply.Text
	if !private && reply.Outcome == biz.OutcomeAnswered && firstName != "" {
		answer = firstName + ", " + answer
	}
	b.reply(ctx, msg, answer)

	log.Infow("reply sent",
		"user_id", userID,
		"request_id", reply.RequestID,
		"outcome", string(reply.Outcome),
		"reply_length", len([]rune(answer)),
	)
}

func (b *Bot) recordChat(ctx context.Context, chat *tgbotapi.Chat) {
	if b.chats == nil {
		return
	}
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	added, err := b.chats.Add(ctx, store.Chat{ID: chat.ID, Type: chat.Type, Title: title})
	if err != nil {
		logger.Warnw("failed to record chat", "chat_id", chat.ID, "error", err.Error())
		return
	}
	if added {
		logger.Infow("chat subscribed to broadcast", "chat_id", chat.ID, "chat_type", chat.Type, "title", title)
	}
}

// reply 分段发送，失败时改发简短的兜底消息。
func (b *Bot) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	for _, part := range SplitMessage(text, b.config.MaxMessageLength) {
		err := b.sender.SendText(ctx, msg.Chat.ID, msg.MessageID, part)
		if err == nil {
			continue
		}

		logger.Errorw("failed to send reply", "chat_id", msg.Chat.ID, "error", err.Error())
		if err := b.sender.SendText(ctx, msg.Chat.ID, msg.MessageID, SendFailureText); err != nil {
			logger.Errorw("failed to send fallback reply", "chat_id", msg.Chat.ID, "error", err.Error())
		}
		return
	}
}
