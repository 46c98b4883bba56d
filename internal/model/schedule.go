package model

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout формат дат, который отдаёт сайт колледжа (допускает "2.3.2024" и "02.03.2024")
const DateLayout = "2.1.2006"

// Date календарная дата расписания без времени и часового пояса.
// Сравнима, поэтому может быть ключом map и элементом set.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate разбирает дату в формате DD.MM.YYYY
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse schedule date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf усекает time.Time до календарной даты
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Today возвращает сегодняшнюю дату в локальном времени
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) String() string {
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, d.Month, d.Year)
}

// Time возвращает полночь этой даты в локальном времени
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.Local)
}

// Before сравнивает даты в календарном порядке
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// Weekday день недели этой даты
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// IsZero признак незаполненной даты
func (d Date) IsZero() bool {
	return d == Date{}
}

var russianWeekdays = [...]string{
	time.Sunday:    "Воскресенье",
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
}

// WeekdayName русское название дня недели этой даты
func (d Date) WeekdayName() string {
	return russianWeekdays[d.Weekday()]
}

// SortDates сортирует даты по возрастанию на месте
func SortDates(dates []Date) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}

// Entry одна строка таблицы расписания (номер пары, предмет, кабинет)
type Entry struct {
	Slot    string `json:"slot"`
	Subject string `json:"subject"`
	Room    string `json:"room"`
}

// Table таблица расписания на один день для одной сущности.
// Порядок строк значим — это порядок пар учебного дня.
// Пустая таблица — валидное значение «пар нет», nil-срез от неё не отличается;
// «ещё не получено» выражается отсутствием записи в архиве.
type Table []Entry

// IsEmpty признак таблицы без единой пары
func (t Table) IsEmpty() bool {
	return len(t) == 0
}

// EntityKind тип сущности, для которой публикуется расписание
type EntityKind string

const (
	EntityGroup  EntityKind = "group"
	EntityMentor EntityKind = "mentor"
)

// ArchiveRecord сохранённое расписание с дайджестом содержимого
type ArchiveRecord struct {
	Kind      EntityKind `json:"kind"`
	EntityKey string     `json:"entity_key"`
	Date      Date       `json:"date"`
	Table     Table      `json:"table"`
	Digest    string     `json:"digest"`
	CreatedAt time.Time  `json:"created_at"`
}
