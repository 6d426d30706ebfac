package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pathoflow/internal/domain/port"
)

// sender часть BotAPI, через которую отправляются сообщения
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления о завершении обработки в чат
type Telegram struct {
	api    sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram авторизуется по токену бота
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	logger.Info("telegram notifier authorized", "account", api.Self.UserName, "chat", chatID)
	return &Telegram{api: api, chatID: chatID, logger: logger}, nil
}

// Notify отправляет текст в чат
func (n *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("telegram notification failed", "chat", n.chatID, "err", err)
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

var _ port.Notifier = (*Telegram)(nil)
