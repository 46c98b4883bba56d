package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"go.uber.org/zap"
)

// broadcastDate веерная рассылка одной даты всем подписчикам.
// Порядок фиксированный: преподаватели, затем чаты, затем группы.
func (c *Checker) broadcastDate(ctx context.Context, date model.Date) {
	cycle := uuid.New().String()
	log := c.logger.With(zap.String("cycle", cycle), zap.String("date", date.String()))

	log.Info("Broadcast cycle started")

	c.broadcastMentors(ctx, date, log)
	c.broadcastChats(ctx, date, log)
	c.broadcastGroups(ctx, date, log)

	log.Info("Broadcast cycle finished ✅")
}

// broadcastMentors рассылка расписаний подписанным преподавателям
func (c *Checker) broadcastMentors(ctx context.Context, date model.Date, log *zap.Logger) {
	mentors, err := c.subscribers.Mentors(ctx)
	if err != nil {
		log.Warn("Cannot list mentor subscribers", zap.Error(err))
		return
	}

	for _, mentor := range mentors {
		recipient := model.Individual(mentor.TelegramID, mentor.Theme)
		c.deliverEntity(ctx, log, date, model.EntityMentor, mentor.MentorName, mentor.Theme,
			[]model.Recipient{recipient},
			fmt.Sprintf(noScheduleMentorText, mentor.MentorName, date, date.WeekdayName()))
	}
}

// broadcastChats рассылка в групповые чаты; чат может быть подписан
// и на группу, и на преподавателя, тогда получает оба расписания
func (c *Checker) broadcastChats(ctx context.Context, date model.Date, log *zap.Logger) {
	chats, err := c.subscribers.Chats(ctx)
	if err != nil {
		log.Warn("Cannot list subscribed chats", zap.Error(err))
		return
	}

	for _, chat := range chats {
		recipient := []model.Recipient{model.ChatRoom(chat.ChatID)}

		if chat.SubscribedGroup != "" {
			c.deliverEntity(ctx, log, date, model.EntityGroup, chat.SubscribedGroup, model.DefaultTheme,
				recipient,
				fmt.Sprintf(noScheduleGroupText, chat.SubscribedGroup, date, date.WeekdayName()))
		}
		if chat.SubscribedMentor != "" {
			c.deliverEntity(ctx, log, date, model.EntityMentor, chat.SubscribedMentor, model.DefaultTheme,
				recipient,
				fmt.Sprintf(noScheduleMentorText, chat.SubscribedMentor, date, date.WeekdayName()))
		}
	}
}

// broadcastGroups рассылка учебным группам: получатели делятся по темам,
// на каждую тему рисуется один вариант картинки
func (c *Checker) broadcastGroups(ctx context.Context, date model.Date, log *zap.Logger) {
	groups, err := c.subscribers.GroupsWithSubscribers(ctx)
	if err != nil {
		log.Warn("Cannot list subscribed groups", zap.Error(err))
		return
	}

	for _, group := range groups {
		record, err := c.archive.Get(ctx, model.EntityGroup, group, date)
		if err != nil {
			log.Warn("Archive lookup failed", zap.String("group", group), zap.Error(err))
			continue
		}
		if record == nil {
			// таблица так и не была получена, этот проход группу пропускает
			continue
		}

		byTheme, err := c.subscribers.UsersByGroupByTheme(ctx, group)
		if err != nil {
			log.Warn("Cannot list group subscribers", zap.String("group", group), zap.Error(err))
			continue
		}
		if len(byTheme) == 0 {
			continue
		}

		if record.Table.IsEmpty() {
			notice := fmt.Sprintf(noScheduleGroupText, group, date, date.WeekdayName())
			report := c.broadcaster.SendTextToMany(ctx, flattenThemes(byTheme), notice)
			logReport(log, "group notice", group, report.Delivered, len(report.Failed))
			continue
		}

		for theme, userIDs := range byTheme {
			image, err := c.renderer.Render(record.Table, date, group, theme)
			if err != nil {
				log.Warn("Render failed",
					zap.String("group", group), zap.String("theme", string(theme)), zap.Error(err))
				continue
			}

			recipients := make([]model.Recipient, 0, len(userIDs))
			for _, id := range userIDs {
				recipients = append(recipients, model.Individual(id, theme))
			}

			report := c.broadcaster.SendImageToMany(ctx, recipients, image, false)
			logReport(log, "group image", group, report.Delivered, len(report.Failed))
		}
	}
}

// deliverEntity доставка расписания одной сущности списку получателей:
// пустая таблица превращается в текстовое уведомление, отсутствующая
// запись — в пропуск без уведомления
func (c *Checker) deliverEntity(
	ctx context.Context,
	log *zap.Logger,
	date model.Date,
	kind model.EntityKind,
	key string,
	theme model.Theme,
	recipients []model.Recipient,
	noScheduleNotice string,
) {
	record, err := c.archive.Get(ctx, kind, key, date)
	if err != nil {
		log.Warn("Archive lookup failed",
			zap.String("kind", string(kind)), zap.String("entity", key), zap.Error(err))
		return
	}
	if record == nil {
		return
	}

	if record.Table.IsEmpty() {
		report := c.broadcaster.SendTextToMany(ctx, recipients, noScheduleNotice)
		logReport(log, string(kind)+" notice", key, report.Delivered, len(report.Failed))
		return
	}

	image, err := c.renderer.Render(record.Table, date, key, theme)
	if err != nil {
		log.Warn("Render failed",
			zap.String("kind", string(kind)), zap.String("entity", key), zap.Error(err))
		return
	}

	report := c.broadcaster.SendImageToMany(ctx, recipients, image, false)
	logReport(log, string(kind)+" image", key, report.Delivered, len(report.Failed))
}

// broadcastChanged досылка изменившихся расписаний: сущности, у которых
// на уже объявленную дату сменился дайджест, получают обновлённую
// картинку с пометкой об изменении (тихая отправка)
func (c *Checker) broadcastChanged(ctx context.Context, changed []changedEntity, announced map[model.Date]struct{}, newDates []model.Date) {
	if len(changed) == 0 {
		return
	}

	fresh := make(map[model.Date]struct{}, len(newDates))
	for _, d := range newDates {
		fresh[d] = struct{}{}
	}

	for _, entity := range changed {
		// новые даты только что разосланы целиком, дослать нужно
		// только ранее объявленные
		if _, ok := announced[entity.date]; !ok {
			continue
		}
		if _, ok := fresh[entity.date]; ok {
			continue
		}

		c.logger.Info("Schedule content changed, re-broadcasting",
			zap.String("kind", string(entity.kind)),
			zap.String("entity", entity.key),
			zap.String("date", entity.date.String()))

		c.sendUpdated(ctx, entity)
	}
}

// sendUpdated обновлённая картинка всем получателям одной сущности
func (c *Checker) sendUpdated(ctx context.Context, entity changedEntity) {
	record, err := c.archive.Get(ctx, entity.kind, entity.key, entity.date)
	if err != nil || record == nil || record.Table.IsEmpty() {
		if err != nil {
			c.logger.Warn("Archive lookup failed for changed entity", zap.Error(err))
		}
		return
	}

	recipientsByTheme := make(map[model.Theme][]model.Recipient)

	if entity.kind == model.EntityGroup {
		byTheme, err := c.subscribers.UsersByGroupByTheme(ctx, entity.key)
		if err != nil {
			c.logger.Warn("Cannot list group subscribers for change", zap.Error(err))
			return
		}
		for theme, ids := range byTheme {
			for _, id := range ids {
				recipientsByTheme[theme] = append(recipientsByTheme[theme], model.Individual(id, theme))
			}
		}
	} else {
		mentors, err := c.subscribers.Mentors(ctx)
		if err != nil {
			c.logger.Warn("Cannot list mentors for change", zap.Error(err))
			return
		}
		for _, m := range mentors {
			if m.MentorName == entity.key {
				recipientsByTheme[m.Theme] = append(recipientsByTheme[m.Theme], model.Individual(m.TelegramID, m.Theme))
			}
		}
	}

	// чаты с включённой досылкой изменений
	chats, err := c.subscribers.Chats(ctx)
	if err != nil {
		c.logger.Warn("Cannot list chats for change", zap.Error(err))
	} else {
		for _, chat := range chats {
			if !chat.SendChanges {
				continue
			}
			subscribed := (entity.kind == model.EntityGroup && chat.SubscribedGroup == entity.key) ||
				(entity.kind == model.EntityMentor && chat.SubscribedMentor == entity.key)
			if subscribed {
				recipientsByTheme[model.DefaultTheme] = append(recipientsByTheme[model.DefaultTheme], model.ChatRoom(chat.ChatID))
			}
		}
	}

	for theme, recipients := range recipientsByTheme {
		image, err := c.renderer.Render(record.Table, entity.date, entity.key, theme)
		if err != nil {
			c.logger.Warn("Render failed for changed entity", zap.Error(err))
			continue
		}

		report := c.broadcaster.SendImageToMany(ctx, recipients, image, true)
		logReport(c.logger, "updated "+string(entity.kind), entity.key, report.Delivered, len(report.Failed))
	}
}

// flattenThemes все получатели всех тем одним списком
func flattenThemes(byTheme map[model.Theme][]int64) []model.Recipient {
	var recipients []model.Recipient
	for theme, ids := range byTheme {
		for _, id := range ids {
			recipients = append(recipients, model.Individual(id, theme))
		}
	}
	return recipients
}

func logReport(log *zap.Logger, what, entity string, delivered, failed int) {
	if failed > 0 {
		log.Warn("Delivery finished with failures",
			zap.String("what", what), zap.String("entity", entity),
			zap.Int("delivered", delivered), zap.Int("failed", failed))
		return
	}
	log.Info("Delivered",
		zap.String("what", what), zap.String("entity", entity),
		zap.Int("delivered", delivered))
}
