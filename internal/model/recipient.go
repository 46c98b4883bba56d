package model

import "time"

// RecipientKind тип получателя рассылки
type RecipientKind string

const (
	RecipientIndividual RecipientKind = "individual"
	RecipientChat       RecipientKind = "chat"
)

// Recipient адресат рассылки: личный чат пользователя или групповой чат.
// Theme определяет какой вариант картинки он получает (чаты всегда Classic).
type Recipient struct {
	Kind   RecipientKind `json:"kind"`
	ChatID int64         `json:"chat_id"`
	Theme  Theme         `json:"theme"`
}

// Individual получатель-пользователь с его темой
func Individual(chatID int64, theme Theme) Recipient {
	return Recipient{Kind: RecipientIndividual, ChatID: chatID, Theme: theme}
}

// ChatRoom получатель-чат, тема всегда фиксированная
func ChatRoom(chatID int64) Recipient {
	return Recipient{Kind: RecipientChat, ChatID: chatID, Theme: DefaultTheme}
}

// Subscriber подписчик рассылки (строка таблицы users)
type Subscriber struct {
	ID             int64      `json:"id"`
	TelegramID     int64      `json:"telegram_id"`
	Status         string     `json:"status"` // student, mentor
	MentorName     string     `json:"mentor_name"`
	StudentGroup   string     `json:"student_group"`
	Theme          Theme      `json:"theme"`
	ToggleSchedule bool       `json:"toggle_schedule"` // Включена ли рассылка расписания
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// Chat групповой чат с подписками на группу и/или преподавателя
type Chat struct {
	ID               int64     `json:"id"`
	ChatID           int64     `json:"chat_id"`
	ChatType         string    `json:"chat_type"` // group, supergroup, channel
	SubscribedGroup  string    `json:"subscribed_group"`
	SubscribedMentor string    `json:"subscribed_mentor"`
	SendDaily        bool      `json:"send_daily"`
	SendChanges      bool      `json:"send_changes"`
	CreatedAt        time.Time `json:"created_at"`
}
