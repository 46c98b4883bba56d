package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const themeCallbackPrefix = "theme:"

// HandleCallbackQuery разбирает нажатия inline-кнопок
func (h *Handlers) HandleCallbackQuery(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	data := update.CallbackQuery.Data

	// Телеграм ждёт подтверждения любого callback
	defer b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})

	if strings.HasPrefix(data, themeCallbackPrefix) {
		h.handleThemeCallback(ctx, b, update, strings.TrimPrefix(data, themeCallbackPrefix))
	}
}

func (h *Handlers) handleThemeCallback(ctx context.Context, b *bot.Bot, update *models.Update, theme string) {
	telegramID := update.CallbackQuery.From.ID

	if err := h.subscriberService.SetTheme(ctx, telegramID, theme); err != nil {
		h.logger.Error("Failed to set theme", zap.Error(err))
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: telegramID,
			Text:   "❌ Не получилось сменить тему. Попробуйте позже.",
		})
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: telegramID,
		Text:   "🎨 Тема «" + theme + "» сохранена. Следующие картинки придут в ней.",
	})
}
