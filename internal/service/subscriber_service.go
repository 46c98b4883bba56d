package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrNotRegistered пользователь ещё не нажимал /start
	ErrNotRegistered = errors.New("subscriber is not registered")
	// ErrUnknownEntity запрошенной группы или преподавателя нет в номенклатуре
	ErrUnknownEntity = errors.New("unknown group or mentor")
	// ErrNoSchedule на ближайшие даты расписания в архиве нет
	ErrNoSchedule = errors.New("no schedule available")
	// ErrNotSubscribed у пользователя не выбрана ни группа, ни преподаватель
	ErrNotSubscribed = errors.New("subscriber has no group or mentor")
)

// SubscriberService операции подписчиков: регистрация, выбор группы или
// преподавателя, тема оформления и расписание по запросу
type SubscriberService struct {
	subscribers *subscriberStore
	logger      *zap.Logger
}

// subscriberStore всё, что сервису нужно от хранилища
type subscriberStore struct {
	directory SubscriberAdmin
	entities  EntityCache
	archive   ArchiveStore
	announced AnnouncedLedger
	renderer  Renderer
}

// SubscriberAdmin запись подписчиков, надстройка над SubscriberDirectory
type SubscriberAdmin interface {
	SubscriberDirectory
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.Subscriber, error)
	Register(ctx context.Context, telegramID int64) error
	SetGroup(ctx context.Context, telegramID int64, group string) error
	SetMentor(ctx context.Context, telegramID int64, mentor string) error
	SetTheme(ctx context.Context, telegramID int64, theme model.Theme) error
	SetToggle(ctx context.Context, telegramID int64, enabled bool) error
	SubscribeChatToGroup(ctx context.Context, chatID int64, chatType, group string) error
	SubscribeChatToMentor(ctx context.Context, chatID int64, chatType, mentor string) error
	UnsubscribeChat(ctx context.Context, chatID int64) error
}

// NewSubscriberService собирает сервис подписчиков
func NewSubscriberService(
	directory SubscriberAdmin,
	entities EntityCache,
	archive ArchiveStore,
	announced AnnouncedLedger,
	renderer Renderer,
	logger *zap.Logger,
) *SubscriberService {
	return &SubscriberService{
		subscribers: &subscriberStore{
			directory: directory,
			entities:  entities,
			archive:   archive,
			announced: announced,
			renderer:  renderer,
		},
		logger: logger,
	}
}

// Register регистрирует пользователя и включает ему рассылку
func (s *SubscriberService) Register(ctx context.Context, telegramID int64) error {
	if err := s.subscribers.directory.Register(ctx, telegramID); err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}
	s.logger.Info("Subscriber registered", zap.Int64("telegram_id", telegramID))
	return nil
}

// Subscription результат распознавания запроса подписки
type Subscription struct {
	Kind model.EntityKind
	Key  string
}

// ResolveEntity ищет группу или преподавателя по пользовательскому вводу.
// Группы сравниваются без регистра, преподаватели по подстроке фамилии.
func (s *SubscriberService) ResolveEntity(ctx context.Context, query string) (*Subscription, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrUnknownEntity
	}

	groups, err := s.subscribers.entities.List(ctx, model.EntityGroup)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	upper := strings.ToUpper(query)
	for _, g := range groups {
		if strings.ToUpper(g) == upper {
			return &Subscription{Kind: model.EntityGroup, Key: g}, nil
		}
	}

	mentors, err := s.subscribers.entities.List(ctx, model.EntityMentor)
	if err != nil {
		return nil, fmt.Errorf("list mentors: %w", err)
	}
	lower := strings.ToLower(query)
	var matched []string
	for _, m := range mentors {
		if strings.Contains(strings.ToLower(m), lower) {
			matched = append(matched, m)
		}
	}
	// подстрока должна определять преподавателя однозначно
	if len(matched) == 1 {
		return &Subscription{Kind: model.EntityMentor, Key: matched[0]}, nil
	}

	return nil, ErrUnknownEntity
}

// Subscribe подписывает пользователя на группу или преподавателя
func (s *SubscriberService) Subscribe(ctx context.Context, telegramID int64, query string) (*Subscription, error) {
	sub, err := s.ResolveEntity(ctx, query)
	if err != nil {
		return nil, err
	}

	if sub.Kind == model.EntityGroup {
		err = s.subscribers.directory.SetGroup(ctx, telegramID, sub.Key)
	} else {
		err = s.subscribers.directory.SetMentor(ctx, telegramID, sub.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	s.logger.Info("Subscription saved",
		zap.Int64("telegram_id", telegramID),
		zap.String("kind", string(sub.Kind)),
		zap.String("entity", sub.Key))
	return sub, nil
}

// SubscribeChat подписывает групповой чат на группу или преподавателя
func (s *SubscriberService) SubscribeChat(ctx context.Context, chatID int64, chatType, query string) (*Subscription, error) {
	sub, err := s.ResolveEntity(ctx, query)
	if err != nil {
		return nil, err
	}

	if sub.Kind == model.EntityGroup {
		err = s.subscribers.directory.SubscribeChatToGroup(ctx, chatID, chatType, sub.Key)
	} else {
		err = s.subscribers.directory.SubscribeChatToMentor(ctx, chatID, chatType, sub.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("save chat subscription: %w", err)
	}

	return sub, nil
}

// UnsubscribeChat выключает рассылку в чат
func (s *SubscriberService) UnsubscribeChat(ctx context.Context, chatID int64) error {
	if err := s.subscribers.directory.UnsubscribeChat(ctx, chatID); err != nil {
		return fmt.Errorf("unsubscribe chat: %w", err)
	}
	return nil
}

// SetTheme меняет тему оформления пользователя
func (s *SubscriberService) SetTheme(ctx context.Context, telegramID int64, theme string) error {
	if !model.ValidTheme(theme) {
		return fmt.Errorf("unknown theme %q", theme)
	}
	if err := s.subscribers.directory.SetTheme(ctx, telegramID, model.Theme(theme)); err != nil {
		return fmt.Errorf("set theme: %w", err)
	}
	return nil
}

// SetToggle включает или выключает рассылку пользователю
func (s *SubscriberService) SetToggle(ctx context.Context, telegramID int64, enabled bool) error {
	if err := s.subscribers.directory.SetToggle(ctx, telegramID, enabled); err != nil {
		return fmt.Errorf("toggle subscription: %w", err)
	}
	return nil
}

// ScheduleImage расписание по запросу: картинка ближайшей объявленной даты
// для подписки пользователя. Пустая таблица отдаётся с флагом Empty,
// текст ответа формирует контроллер.
type ScheduleImage struct {
	Image []byte
	Date  model.Date
	Key   string
	Empty bool
}

// OnDemandSchedule ближайшее расписание подписчика из архива
func (s *SubscriberService) OnDemandSchedule(ctx context.Context, telegramID int64) (*ScheduleImage, error) {
	sub, err := s.subscribers.directory.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	if sub == nil {
		return nil, ErrNotRegistered
	}

	kind := model.EntityGroup
	key := sub.StudentGroup
	if sub.Status == "mentor" && sub.MentorName != "" {
		kind = model.EntityMentor
		key = sub.MentorName
	}
	if key == "" {
		return nil, ErrNotSubscribed
	}

	announced, err := s.subscribers.announced.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list announced dates: %w", err)
	}

	today := model.Today()
	var dates []model.Date
	for d := range announced {
		if !d.Before(today) {
			dates = append(dates, d)
		}
	}
	model.SortDates(dates)

	for _, date := range dates {
		record, err := s.subscribers.archive.Get(ctx, kind, key, date)
		if err != nil {
			return nil, fmt.Errorf("archive lookup: %w", err)
		}
		if record == nil {
			continue
		}
		if record.Table.IsEmpty() {
			return &ScheduleImage{Date: date, Key: key, Empty: true}, nil
		}

		image, err := s.subscribers.renderer.Render(record.Table, date, key, sub.Theme)
		if err != nil {
			return nil, fmt.Errorf("render schedule: %w", err)
		}
		return &ScheduleImage{Image: image, Date: date, Key: key}, nil
	}

	return nil, ErrNoSchedule
}
