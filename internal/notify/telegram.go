package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramSender authenticates the bot token and targets chatID.
func NewTelegramSender(token, chatID string) (*TelegramSender, error) {
	return newTelegramSender(token, chatID, tgbotapi.APIEndpoint)
}

func newTelegramSender(token, chatID, endpoint string) (*TelegramSender, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{
		bot:        bot,
		chatID:     id,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Send posts a MarkdownV2 message with the title in bold, retrying with a
// linear backoff.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(message)))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("telegram: send: %w", ctx.Err())
			case <-time.After(t.retryDelay * time.Duration(i)):
			}
		}
		if _, err := t.bot.Send(msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram: send failed after %d attempts: %w", t.maxRetries, lastErr)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
