// Package alert delivers operator notifications for conditions that
// must not be silently swallowed, such as disk exhaustion or a critical
// queue health state.
package alert

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier is the operator alerting channel.
type Notifier interface {
	Notify(text string)
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to an operator chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier for the given bot token and
// operator chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// Notify sends a text alert to the operator chat. Send failures are
// logged, not returned: alerting must never take down the pipeline it
// reports on.
func (t *Telegram) Notify(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send alert", "chat_id", t.chatID, "error", err)
	}
}

// Log is the fallback notifier when no chat channel is configured.
type Log struct {
	log *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

// Notify writes the alert to the error log.
func (l *Log) Notify(text string) {
	l.log.Error("operator alert", "message", text)
}
