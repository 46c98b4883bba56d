package broadcast

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramSender реализация Sender поверх Telegram Bot API
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender создаёт отправителя поверх живого инстанса бота
func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{bot: b}
}

// SendPhoto отправляет картинку расписания в чат
func (s *TelegramSender) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string, silent bool) error {
	_, err := s.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:              chatID,
		Photo:               &models.InputFileUpload{Filename: "schedule.png", Data: bytes.NewReader(image)},
		Caption:             caption,
		DisableNotification: silent,
	})
	return translateError(err)
}

// SendMessage отправляет текстовое уведомление в чат
func (s *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string, silent bool) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:              chatID,
		Text:                text,
		ParseMode:           models.ParseModeHTML,
		DisableNotification: silent,
	})
	return translateError(err)
}

// translateError превращает сигнал 429 от Telegram в RetryAfterError,
// остальные ошибки отдаёт как есть (окончательный сбой получателя)
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &RetryAfterError{After: time.Duration(tooMany.RetryAfter) * time.Second}
	}

	return err
}
