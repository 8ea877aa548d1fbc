package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Client Bot API 中本包使用的部分，*tgbotapi.BotAPI 满足该接口。
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// PacedSender 对所有出站请求做全局限速。
type PacedSender struct {
	client  Client
	limiter *rate.Limiter
}

// NewPacedSender 创建限速发送器，perMinute <= 0 时不限速。
func NewPacedSender(client Client, perMinute int) *PacedSender {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &PacedSender{client: client, limiter: limiter}
}

// SendText 发送纯文本消息，replyTo 为 0 时不引用原消息。
func (s *PacedSender) SendText(ctx context.Context, chatID int64, replyTo int, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	_, err := s.client.Send(msg)
	return err
}

// Typing 发送"正在输入"状态。
func (s *PacedSender) Typing(ctx context.Context, chatID int64) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}
