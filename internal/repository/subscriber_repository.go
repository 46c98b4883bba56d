package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/repository/base"
)

// SubscriberRepository справочник подписчиков: кто на какую группу или
// преподавателя подписан и с какой темой оформления
type SubscriberRepository struct {
	*base.Repository
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{Repository: base.NewRepository(pool)}
}

// GroupsWithSubscribers группы, у которых есть хоть один подписанный студент
func (r *SubscriberRepository) GroupsWithSubscribers(ctx context.Context) ([]string, error) {
	rows, err := r.Query(ctx, `
		SELECT DISTINCT student_group FROM users
		WHERE user_status = 'student' AND toggle_schedule AND student_group <> ''
		ORDER BY student_group
	`)
	if err != nil {
		return nil, storageErr("list subscribed groups", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, storageErr("scan subscribed group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate subscribed groups", err)
	}

	return groups, nil
}

// UsersByGroupByTheme подписчики группы, разложенные по темам оформления
func (r *SubscriberRepository) UsersByGroupByTheme(ctx context.Context, group string) (map[model.Theme][]int64, error) {
	rows, err := r.Query(ctx, `
		SELECT telegram_id, user_theme FROM users
		WHERE user_status = 'student' AND toggle_schedule AND student_group = $1
		ORDER BY telegram_id
	`, group)
	if err != nil {
		return nil, storageErr("list group subscribers", err)
	}
	defer rows.Close()

	byTheme := make(map[model.Theme][]int64)
	for rows.Next() {
		var (
			id    int64
			theme string
		)
		if err := rows.Scan(&id, &theme); err != nil {
			return nil, storageErr("scan group subscriber", err)
		}
		if !model.ValidTheme(theme) {
			theme = string(model.DefaultTheme)
		}
		byTheme[model.Theme(theme)] = append(byTheme[model.Theme(theme)], id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate group subscribers", err)
	}

	return byTheme, nil
}

// Mentors подписанные преподаватели с их темами
func (r *SubscriberRepository) Mentors(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := r.Query(ctx, `
		SELECT telegram_id, mentor_name, user_theme FROM users
		WHERE user_status = 'mentor' AND toggle_schedule AND mentor_name <> ''
		ORDER BY mentor_name
	`)
	if err != nil {
		return nil, storageErr("list mentors", err)
	}
	defer rows.Close()

	var mentors []model.Subscriber
	for rows.Next() {
		var (
			s     model.Subscriber
			theme string
		)
		if err := rows.Scan(&s.TelegramID, &s.MentorName, &theme); err != nil {
			return nil, storageErr("scan mentor", err)
		}
		if !model.ValidTheme(theme) {
			theme = string(model.DefaultTheme)
		}
		s.Status = "mentor"
		s.Theme = model.Theme(theme)
		mentors = append(mentors, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate mentors", err)
	}

	return mentors, nil
}

// Chats все чаты с подписками на рассылку
func (r *SubscriberRepository) Chats(ctx context.Context) ([]model.Chat, error) {
	rows, err := r.Query(ctx, `
		SELECT chat_id, chat_type, COALESCE(subscribed_group, ''), COALESCE(subscribed_mentor, ''), send_daily, send_changes
		FROM chats
		WHERE send_daily AND (subscribed_group IS NOT NULL OR subscribed_mentor IS NOT NULL)
		ORDER BY chat_id
	`)
	if err != nil {
		return nil, storageErr("list chats", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ChatID, &c.ChatType, &c.SubscribedGroup, &c.SubscribedMentor, &c.SendDaily, &c.SendChanges); err != nil {
			return nil, storageErr("scan chat", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate chats", err)
	}

	return chats, nil
}

// GetByTelegramID возвращает подписчика или nil, если он не зарегистрирован
func (r *SubscriberRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.Subscriber, error) {
	query := `
		SELECT id, telegram_id, user_status, COALESCE(mentor_name, ''), COALESCE(student_group, ''), user_theme, toggle_schedule, created_at
		FROM users
		WHERE telegram_id = $1
	`

	var (
		s     model.Subscriber
		theme string
	)
	err := r.QueryRow(ctx, query, telegramID).Scan(
		&s.ID, &s.TelegramID, &s.Status, &s.MentorName, &s.StudentGroup, &theme, &s.ToggleSchedule, &s.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, storageErr("get subscriber", err)
	}
	s.Theme = model.Theme(theme)

	return &s, nil
}

// Register создаёт подписчика или включает ему рассылку повторно
func (r *SubscriberRepository) Register(ctx context.Context, telegramID int64) error {
	_, err := r.ExecAffected(ctx, `
		INSERT INTO users (telegram_id, user_status, user_theme, toggle_schedule)
		VALUES ($1, 'student', $2, true)
		ON CONFLICT (telegram_id) DO UPDATE SET toggle_schedule = true, updated_at = now()
	`, telegramID, string(model.DefaultTheme))
	if err != nil {
		return storageErr("register subscriber", err)
	}
	return nil
}

// SetGroup подписывает пользователя на группу
func (r *SubscriberRepository) SetGroup(ctx context.Context, telegramID int64, group string) error {
	_, err := r.ExecAffected(ctx, `
		UPDATE users SET student_group = $1, user_status = 'student', updated_at = now()
		WHERE telegram_id = $2
	`, group, telegramID)
	if err != nil {
		return storageErr("set subscriber group", err)
	}
	return nil
}

// SetTheme меняет тему оформления пользователя
func (r *SubscriberRepository) SetTheme(ctx context.Context, telegramID int64, theme model.Theme) error {
	_, err := r.ExecAffected(ctx, `
		UPDATE users SET user_theme = $1, updated_at = now()
		WHERE telegram_id = $2
	`, string(theme), telegramID)
	if err != nil {
		return storageErr("set subscriber theme", err)
	}
	return nil
}

// SetMentor подписывает пользователя на расписание преподавателя
func (r *SubscriberRepository) SetMentor(ctx context.Context, telegramID int64, mentor string) error {
	_, err := r.ExecAffected(ctx, `
		UPDATE users SET mentor_name = $1, user_status = 'mentor', updated_at = now()
		WHERE telegram_id = $2
	`, mentor, telegramID)
	if err != nil {
		return storageErr("set subscriber mentor", err)
	}
	return nil
}

// SetToggle включает или выключает рассылку пользователю
func (r *SubscriberRepository) SetToggle(ctx context.Context, telegramID int64, enabled bool) error {
	_, err := r.ExecAffected(ctx, `
		UPDATE users SET toggle_schedule = $1, updated_at = now()
		WHERE telegram_id = $2
	`, enabled, telegramID)
	if err != nil {
		return storageErr("toggle subscriber", err)
	}
	return nil
}

// SubscribeChatToGroup подписывает групповой чат на учебную группу
func (r *SubscriberRepository) SubscribeChatToGroup(ctx context.Context, chatID int64, chatType, group string) error {
	_, err := r.ExecAffected(ctx, `
		INSERT INTO chats (chat_id, chat_type, subscribed_group, send_daily, send_changes)
		VALUES ($1, $2, $3, true, true)
		ON CONFLICT (chat_id) DO UPDATE SET subscribed_group = $3, chat_type = $2, send_daily = true
	`, chatID, chatType, group)
	if err != nil {
		return storageErr("subscribe chat to group", err)
	}
	return nil
}

// SubscribeChatToMentor подписывает групповой чат на преподавателя
func (r *SubscriberRepository) SubscribeChatToMentor(ctx context.Context, chatID int64, chatType, mentor string) error {
	_, err := r.ExecAffected(ctx, `
		INSERT INTO chats (chat_id, chat_type, subscribed_mentor, send_daily, send_changes)
		VALUES ($1, $2, $3, true, true)
		ON CONFLICT (chat_id) DO UPDATE SET subscribed_mentor = $3, chat_type = $2, send_daily = true
	`, chatID, chatType, mentor)
	if err != nil {
		return storageErr("subscribe chat to mentor", err)
	}
	return nil
}

// UnsubscribeChat выключает рассылку в чат
func (r *SubscriberRepository) UnsubscribeChat(ctx context.Context, chatID int64) error {
	_, err := r.ExecAffected(ctx, `
		UPDATE chats SET send_daily = false, send_changes = false
		WHERE chat_id = $1
	`, chatID)
	if err != nil {
		return storageErr("unsubscribe chat", err)
	}
	return nil
}
