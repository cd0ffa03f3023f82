package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"homeorch/internal/transport"
)

// BusSink publishes the reminder concept to a message-bus topic.
type BusSink struct {
	pub   transport.Publisher
	topic string
}

func NewBusSink(pub transport.Publisher, topic string) *BusSink {
	return &BusSink{pub: pub, topic: topic}
}

func (b *BusSink) Name() string { return "bus" }

func (b *BusSink) Deliver(ctx context.Context, n Notification) error {
	return b.pub.Publish(ctx, b.topic, []byte(strconv.Itoa(n.Concept)))
}

// TelegramConfig configures TelegramSink.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// telegramSender is the part of *tele.Bot the sink needs.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink sends a short text per fired reminder to one chat.
type TelegramSink struct {
	bot      telegramSender
	chatID   int64
	threadID int
}

// NewTelegramSink creates the bot client. It contacts the Telegram API once
// to validate the token.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, formatText(n), &tele.SendOptions{ThreadID: t.threadID})
	return err
}

func formatText(n Notification) string {
	return fmt.Sprintf("Recordatorio %d (%s)", n.Concept, n.FiredAt.Format("Mon 15:04"))
}
