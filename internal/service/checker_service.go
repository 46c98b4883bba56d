// Package service содержит оркестратор проверки расписания: опрос сайта,
// ведение архива, вычисление новых дат и запуск рассылки.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtec-dev/schedule_bot/internal/broadcast"
	"github.com/mtec-dev/schedule_bot/internal/hash"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/source"
	"go.uber.org/zap"
)

// Тексты уведомлений об отсутствии расписания
const (
	noScheduleGroupText  = "🕊 <b>%s</b>\nНа %s (%s) расписания нет"
	noScheduleMentorText = "🕊 <b>%s</b>\nНа %s (%s) занятий нет"
)

// ScheduleSource источник расписания (сайт колледжа)
type ScheduleSource interface {
	Dates(ctx context.Context) ([]model.Date, error)
	Groups(ctx context.Context) ([]string, error)
	Mentors(ctx context.Context) ([]string, error)
	GroupSchedule(ctx context.Context, group string, date model.Date) (model.Table, error)
	MentorSchedule(ctx context.Context, mentor string, date model.Date) (model.Table, error)
}

// ArchiveStore архив расписаний. Upsert возвращает предыдущий дайджест
// записи ("" если записи не было) — на этом построена детекция изменений.
type ArchiveStore interface {
	Upsert(ctx context.Context, kind model.EntityKind, entityKey string, date model.Date, table model.Table, digest string) (string, error)
	Get(ctx context.Context, kind model.EntityKind, entityKey string, date model.Date) (*model.ArchiveRecord, error)
	PurgeBefore(ctx context.Context, date model.Date) (int64, error)
}

// AnnouncedLedger durable-журнал дат, по которым рассылка уже запускалась
type AnnouncedLedger interface {
	Dates(ctx context.Context) (map[model.Date]struct{}, error)
	Mark(ctx context.Context, dates []model.Date) error
	MarkCompleted(ctx context.Context, date model.Date) error
	Incomplete(ctx context.Context) ([]model.Date, error)
	PurgeBefore(ctx context.Context, date model.Date) (int64, error)
}

// SubscriberDirectory справочник получателей рассылки
type SubscriberDirectory interface {
	GroupsWithSubscribers(ctx context.Context) ([]string, error)
	UsersByGroupByTheme(ctx context.Context, group string) (map[model.Theme][]int64, error)
	Mentors(ctx context.Context) ([]model.Subscriber, error)
	Chats(ctx context.Context) ([]model.Chat, error)
}

// EntityCache сохранённая номенклатура групп и преподавателей
type EntityCache interface {
	Replace(ctx context.Context, kind model.EntityKind, keys []string) error
	List(ctx context.Context, kind model.EntityKind) ([]string, error)
}

// Renderer отрисовка таблицы в картинку
type Renderer interface {
	Render(table model.Table, date model.Date, entity string, theme model.Theme) ([]byte, error)
}

// Broadcaster веерная рассылка с лимитером
type Broadcaster interface {
	SendImageToMany(ctx context.Context, recipients []model.Recipient, image []byte, updated bool) broadcast.Report
	SendTextToMany(ctx context.Context, recipients []model.Recipient, text string) broadcast.Report
}

// CheckerConfig режим работы опрашивающего цикла
type CheckerConfig struct {
	PollInterval   time.Duration // пауза между дневными проходами
	NightPause     time.Duration // пауза ночью
	NightStartHour int           // с какого часа ночное окно
	NightEndHour   int           // до какого часа (не включая)
	ErrorPause     time.Duration // передышка после паники в проходе
}

// DefaultCheckerConfig кадансы, с которыми бот живёт в проде
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		PollInterval:   3 * time.Minute,
		NightPause:     time.Hour,
		NightStartHour: 22,
		NightEndHour:   8,
		ErrorPause:     3 * time.Second,
	}
}

// changedEntity сущность, у которой на уже объявленную дату сменился дайджест
type changedEntity struct {
	kind model.EntityKind
	key  string
	date model.Date
}

// Checker опрашивающий цикл: ночная пауза → опрос → архив → дифф → рассылка.
// Один экземпляр, один проход за раз; конкурентны только отправки внутри
// рассыльщика.
type Checker struct {
	src         ScheduleSource
	archive     ArchiveStore
	announced   AnnouncedLedger
	subscribers SubscriberDirectory
	entities    EntityCache
	renderer    Renderer
	broadcaster Broadcaster
	logger      *zap.Logger
	cfg         CheckerConfig

	now func() time.Time
}

// NewChecker собирает оркестратор из явных зависимостей
func NewChecker(
	src ScheduleSource,
	archive ArchiveStore,
	announced AnnouncedLedger,
	subscribers SubscriberDirectory,
	entities EntityCache,
	renderer Renderer,
	broadcaster Broadcaster,
	cfg CheckerConfig,
	logger *zap.Logger,
) *Checker {
	return &Checker{
		src:         src,
		archive:     archive,
		announced:   announced,
		subscribers: subscribers,
		entities:    entities,
		renderer:    renderer,
		broadcaster: broadcaster,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Run крутит цикл проверки до отмены контекста. Никогда не паникует
// наружу: сбой одного прохода логируется, цикл продолжается.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Info("Starting schedule checker loop")

	c.resumeIncomplete(ctx)

	iteration := 1
	for ctx.Err() == nil {
		if c.isNight() {
			c.nightMaintenance(ctx)
			if !sleepCtx(ctx, c.cfg.NightPause) {
				break
			}
			continue
		}

		c.runIteration(ctx, iteration)
		iteration++

		if !sleepCtx(ctx, c.cfg.PollInterval) {
			break
		}
	}

	c.logger.Info("Schedule checker loop stopped")
}

// runIteration один дневной проход, отгороженный от паник
func (c *Checker) runIteration(ctx context.Context, iteration int) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Schedule check iteration panicked",
				zap.Int("iteration", iteration),
				zap.Any("panic", r))
			sleepCtx(ctx, c.cfg.ErrorPause)
		}
	}()

	if err := c.processOnce(ctx); err != nil {
		c.logger.Warn("Schedule check iteration failed",
			zap.Int("iteration", iteration),
			zap.Error(err))
	}
}

// isNight попадает ли текущий час в ночное окно
func (c *Checker) isNight() bool {
	hour := c.now().Hour()
	start, end := c.cfg.NightStartHour, c.cfg.NightEndHour
	if start <= end {
		return hour >= start && hour < end
	}
	// окно через полночь, например 22..8
	return hour >= start || hour < end
}

// nightMaintenance ночная уборка: прошедшие дни больше никому не нужны
func (c *Checker) nightMaintenance(ctx context.Context) {
	today := model.DateOf(c.now())

	purged, err := c.archive.PurgeBefore(ctx, today)
	if err != nil {
		c.logger.Warn("Archive purge failed", zap.Error(err))
	} else if purged > 0 {
		c.logger.Info("🗑 Purged stale archive records", zap.Int64("count", purged))
	}

	if _, err := c.announced.PurgeBefore(ctx, today); err != nil {
		c.logger.Warn("Announced ledger purge failed", zap.Error(err))
	}

	c.logger.Info("🌙 Night pause", zap.Int("hour", c.now().Hour()))
}

// resumeIncomplete стартовая досылка: даты, объявленные до падения
// процесса, но не доведённые до конца, рассылаются один раз заново
func (c *Checker) resumeIncomplete(ctx context.Context) {
	dates, err := c.announced.Incomplete(ctx)
	if err != nil {
		c.logger.Warn("Cannot list incomplete broadcasts", zap.Error(err))
		return
	}
	if len(dates) == 0 {
		return
	}

	c.logger.Info("Resuming interrupted broadcasts", zap.Int("dates", len(dates)))
	for _, date := range dates {
		c.broadcastDate(ctx, date)
		if err := c.announced.MarkCompleted(ctx, date); err != nil {
			c.logger.Warn("Cannot mark broadcast completed", zap.String("date", date.String()), zap.Error(err))
		}
	}
}

// processOnce опрос → архив → дифф → рассылка
func (c *Checker) processOnce(ctx context.Context) error {
	dates, err := c.src.Dates(ctx)
	if err != nil {
		return fmt.Errorf("fetch available dates: %w", err)
	}
	if len(dates) == 0 {
		c.logger.Debug("No published dates this poll")
		return nil
	}

	groups, mentors := c.loadEntities(ctx)

	changed, withheld := c.updateArchive(ctx, dates, groups, mentors)

	announced, err := c.announced.Dates(ctx)
	if err != nil {
		return fmt.Errorf("load announced dates: %w", err)
	}

	newDates := diffDates(dates, announced, withheld)

	if len(newDates) > 0 {
		c.logger.Info("📆 New schedule dates appeared", zap.Int("count", len(newDates)))

		// объявление оптимистично, до завершения рассылки: при жёстком
		// падении лучше недослать, чем заспамить всех повторно;
		// оборванные даты доберёт стартовая досылка по completed_at
		if err := c.announced.Mark(ctx, newDates); err != nil {
			return fmt.Errorf("mark announced dates: %w", err)
		}

		for _, date := range newDates {
			c.broadcastDate(ctx, date)
			if err := c.announced.MarkCompleted(ctx, date); err != nil {
				c.logger.Warn("Cannot mark broadcast completed",
					zap.String("date", date.String()), zap.Error(err))
			}
		}
	}

	c.broadcastChanged(ctx, changed, announced, newDates)

	return nil
}

// loadEntities номенклатура групп и преподавателей: свежая с сайта,
// при недоступности — последняя сохранённая
func (c *Checker) loadEntities(ctx context.Context) (groups, mentors []string) {
	groups, err := c.src.Groups(ctx)
	if err != nil || len(groups) == 0 {
		c.logger.Warn("Group enumeration unavailable, falling back to cache", zap.Error(err))
		groups, err = c.entities.List(ctx, model.EntityGroup)
		if err != nil {
			c.logger.Warn("Cached group list unavailable", zap.Error(err))
		}
	} else if err := c.entities.Replace(ctx, model.EntityGroup, groups); err != nil {
		c.logger.Warn("Cannot refresh cached group list", zap.Error(err))
	}

	mentors, err = c.src.Mentors(ctx)
	if err != nil || len(mentors) == 0 {
		c.logger.Warn("Mentor enumeration unavailable, falling back to cache", zap.Error(err))
		mentors, err = c.entities.List(ctx, model.EntityMentor)
		if err != nil {
			c.logger.Warn("Cached mentor list unavailable", zap.Error(err))
		}
	} else if err := c.entities.Replace(ctx, model.EntityMentor, mentors); err != nil {
		c.logger.Warn("Cannot refresh cached mentor list", zap.Error(err))
	}

	return groups, mentors
}

// updateArchive фаза архивирования: выкачать и сохранить таблицы всех
// сущностей на все даты до того, как решается вопрос о рассылке.
// Возвращает сущности со сменившимся дайджестом и даты, у которых запись
// в архив не удалась (их нельзя объявлять в этом проходе).
func (c *Checker) updateArchive(ctx context.Context, dates []model.Date, groups, mentors []string) ([]changedEntity, map[model.Date]struct{}) {
	var changed []changedEntity
	withheld := make(map[model.Date]struct{})

	for _, date := range dates {
		for _, group := range groups {
			c.archiveOne(ctx, model.EntityGroup, group, date, &changed, withheld)
		}
		for _, mentor := range mentors {
			c.archiveOne(ctx, model.EntityMentor, mentor, date, &changed, withheld)
		}
	}

	return changed, withheld
}

// archiveOne выкачивает и сохраняет одну таблицу. Любой сбой изолирован:
// сущность/дата пропускается до следующего прохода.
func (c *Checker) archiveOne(ctx context.Context, kind model.EntityKind, key string, date model.Date, changed *[]changedEntity, withheld map[model.Date]struct{}) {
	var (
		table model.Table
		err   error
	)
	if kind == model.EntityGroup {
		table, err = c.src.GroupSchedule(ctx, key, date)
	} else {
		table, err = c.src.MentorSchedule(ctx, key, date)
	}
	if err != nil {
		if !errors.Is(err, source.ErrUnavailable) {
			c.logger.Warn("Schedule fetch failed",
				zap.String("kind", string(kind)), zap.String("entity", key),
				zap.String("date", date.String()), zap.Error(err))
		}
		return
	}

	digest, err := hash.Digest(table)
	if err != nil {
		// битые данные приравниваются к неудачному фетчу этой пары
		c.logger.Warn("Schedule digest failed",
			zap.String("kind", string(kind)), zap.String("entity", key),
			zap.String("date", date.String()), zap.Error(err))
		return
	}

	prev, err := c.archive.Upsert(ctx, kind, key, date, table, digest)
	if err != nil {
		c.logger.Warn("Archive write failed",
			zap.String("kind", string(kind)), zap.String("entity", key),
			zap.String("date", date.String()), zap.Error(err))
		withheld[date] = struct{}{}
		return
	}

	if prev != "" && prev != digest {
		*changed = append(*changed, changedEntity{kind: kind, key: key, date: date})
	}
}

// sleepCtx пауза, прерываемая отменой контекста
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// diffDates newDates = fetched − announced − withheld, в календарном порядке
func diffDates(fetched []model.Date, announced, withheld map[model.Date]struct{}) []model.Date {
	var newDates []model.Date
	for _, d := range fetched {
		if _, ok := announced[d]; ok {
			continue
		}
		if _, ok := withheld[d]; ok {
			continue
		}
		newDates = append(newDates, d)
	}
	model.SortDates(newDates)
	return newDates
}
