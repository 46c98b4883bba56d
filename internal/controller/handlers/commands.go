package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/service"
)

// isGroupChat сообщение пришло из группового чата, а не из личного
func isGroupChat(update *models.Update) bool {
	t := update.Message.Chat.Type
	return t == "group" || t == "supergroup" || t == "channel"
}

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	if !isGroupChat(update) {
		if err := h.subscriberService.Register(ctx, update.Message.From.ID); err != nil {
			h.logger.Error("Failed to register subscriber", zap.Error(err))
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   "❌ Произошла ошибка при регистрации. Попробуйте позже.",
			})
			return
		}
	}

	welcomeText := "👋 Привет!\n\n" +
		"Я присылаю расписание занятий, как только оно появляется на сайте колледжа.\n\n" +
		"Доступные команды:\n" +
		"/subscribe - Подписаться на группу или преподавателя\n" +
		"/schedule - Ближайшее расписание\n" +
		"/theme - Тема оформления картинок\n" +
		"/stop - Отключить рассылку\n" +
		"/help - Справка"

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   welcomeText,
	})
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	helpText := "📚 Справка по командам:\n\n" +
		"/subscribe ИТ205 - Подписаться на группу\n" +
		"/subscribe Иванов - Подписаться на преподавателя\n" +
		"/schedule - Прислать ближайшее расписание\n" +
		"/theme - Выбрать тему оформления\n" +
		"/stop - Отключить рассылку\n\n" +
		"В групповом чате /subscribe подписывает весь чат,\n" +
		"расписание приходит туда автоматически."

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   helpText,
	})
}

// HandleSubscribe обрабатывает /subscribe с названием группы или фамилией
func (h *Handlers) HandleSubscribe(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	query := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/subscribe"))
	if query == "" {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Напишите после команды группу или фамилию преподавателя,\nнапример: /subscribe ИТ205",
		})
		return
	}

	var (
		sub *service.Subscription
		err error
	)
	if isGroupChat(update) {
		sub, err = h.subscriberService.SubscribeChat(ctx, chatID, string(update.Message.Chat.Type), query)
	} else {
		sub, err = h.subscriberService.Subscribe(ctx, update.Message.From.ID, query)
	}

	if err != nil {
		if errors.Is(err, service.ErrUnknownEntity) {
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   fmt.Sprintf("🔍 Не нашёл «%s» среди групп и преподавателей.\nПроверьте написание и попробуйте ещё раз.", query),
			})
			return
		}
		h.logger.Error("Failed to subscribe", zap.Error(err))
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не получилось сохранить подписку. Попробуйте позже.",
		})
		return
	}

	what := "группу"
	if sub.Kind == model.EntityMentor {
		what = "преподавателя"
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("✅ Подписка на %s %s оформлена.\nРасписание придёт, как только появится на сайте.", what, sub.Key),
	})
}

// HandleSchedule обрабатывает /schedule - расписание по запросу
func (h *Handlers) HandleSchedule(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	result, err := h.subscriberService.OnDemandSchedule(ctx, update.Message.From.ID)
	if err != nil {
		text := "❌ Не получилось достать расписание. Попробуйте позже."
		switch {
		case errors.Is(err, service.ErrNotRegistered):
			text = "Сначала нажмите /start."
		case errors.Is(err, service.ErrNotSubscribed):
			text = "Сначала подпишитесь: /subscribe ИТ205"
		case errors.Is(err, service.ErrNoSchedule):
			text = "🕊 Расписания на ближайшие дни пока нет."
		default:
			h.logger.Error("On-demand schedule failed", zap.Error(err))
		}
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
		return
	}

	if result.Empty {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("🕊 %s\nНа %s (%s) занятий нет", result.Key, result.Date, result.Date.WeekdayName()),
		})
		return
	}

	b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   &models.InputFileUpload{Filename: "schedule.png", Data: bytesReader(result.Image)},
		Caption: fmt.Sprintf("📅 %s, %s", result.Date, result.Date.WeekdayName()),
	})
}

// HandleStop обрабатывает /stop - отключение рассылки
func (h *Handlers) HandleStop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	var err error
	if isGroupChat(update) {
		err = h.subscriberService.UnsubscribeChat(ctx, chatID)
	} else {
		err = h.subscriberService.SetToggle(ctx, update.Message.From.ID, false)
	}
	if err != nil {
		h.logger.Error("Failed to stop subscription", zap.Error(err))
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не получилось отключить рассылку. Попробуйте позже.",
		})
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "🔕 Рассылка отключена. Вернуть её можно командой /start.",
	})
}

// HandleTheme обрабатывает /theme - выбор темы оформления
func (h *Handlers) HandleTheme(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	if isGroupChat(update) {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   "В групповых чатах тема фиксированная. Тему можно выбрать в личном чате с ботом.",
		})
		return
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(model.Themes))
	for _, theme := range model.Themes {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         string(theme),
			CallbackData: "theme:" + string(theme),
		}})
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        "🎨 Выберите тему оформления:",
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: rows},
	})
}
