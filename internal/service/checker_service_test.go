package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mtec-dev/schedule_bot/internal/broadcast"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/source"
)

// --- фейки зависимостей ---

func scheduleKey(kind model.EntityKind, key string, date model.Date) string {
	return string(kind) + "|" + key + "|" + date.String()
}

type fakeSource struct {
	dates       []model.Date
	groups      []string
	mentors     []string
	tables      map[string]model.Table
	unavailable map[string]bool
	datesErr    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tables:      make(map[string]model.Table),
		unavailable: make(map[string]bool),
	}
}

func (f *fakeSource) Dates(context.Context) ([]model.Date, error) {
	return f.dates, f.datesErr
}

func (f *fakeSource) Groups(context.Context) ([]string, error)  { return f.groups, nil }
func (f *fakeSource) Mentors(context.Context) ([]string, error) { return f.mentors, nil }

func (f *fakeSource) schedule(kind model.EntityKind, key string, date model.Date) (model.Table, error) {
	k := scheduleKey(kind, key, date)
	if f.unavailable[k] {
		return nil, source.ErrUnavailable
	}
	if t, ok := f.tables[k]; ok {
		return t, nil
	}
	return model.Table{}, nil
}

func (f *fakeSource) GroupSchedule(_ context.Context, group string, date model.Date) (model.Table, error) {
	return f.schedule(model.EntityGroup, group, date)
}

func (f *fakeSource) MentorSchedule(_ context.Context, mentor string, date model.Date) (model.Table, error) {
	return f.schedule(model.EntityMentor, mentor, date)
}

type fakeArchive struct {
	records    map[string]*model.ArchiveRecord
	failUpsert map[string]bool
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		records:    make(map[string]*model.ArchiveRecord),
		failUpsert: make(map[string]bool),
	}
}

func (f *fakeArchive) Upsert(_ context.Context, kind model.EntityKind, key string, date model.Date, table model.Table, digest string) (string, error) {
	k := scheduleKey(kind, key, date)
	if f.failUpsert[k] {
		return "", fmt.Errorf("upsert %s: connection refused", k)
	}
	prev := ""
	if old, ok := f.records[k]; ok {
		prev = old.Digest
	}
	f.records[k] = &model.ArchiveRecord{
		Kind:      kind,
		EntityKey: key,
		Date:      date,
		Table:     table,
		Digest:    digest,
	}
	return prev, nil
}

func (f *fakeArchive) Get(_ context.Context, kind model.EntityKind, key string, date model.Date) (*model.ArchiveRecord, error) {
	return f.records[scheduleKey(kind, key, date)], nil
}

func (f *fakeArchive) PurgeBefore(context.Context, model.Date) (int64, error) { return 0, nil }

type fakeLedger struct {
	announced  map[model.Date]struct{}
	completed  map[model.Date]bool
	incomplete []model.Date
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		announced: make(map[model.Date]struct{}),
		completed: make(map[model.Date]bool),
	}
}

func (f *fakeLedger) Dates(context.Context) (map[model.Date]struct{}, error) {
	out := make(map[model.Date]struct{}, len(f.announced))
	for d := range f.announced {
		out[d] = struct{}{}
	}
	return out, nil
}

func (f *fakeLedger) Mark(_ context.Context, dates []model.Date) error {
	for _, d := range dates {
		f.announced[d] = struct{}{}
	}
	return nil
}

func (f *fakeLedger) MarkCompleted(_ context.Context, date model.Date) error {
	f.completed[date] = true
	return nil
}

func (f *fakeLedger) Incomplete(context.Context) ([]model.Date, error) {
	return f.incomplete, nil
}

func (f *fakeLedger) PurgeBefore(context.Context, model.Date) (int64, error) { return 0, nil }

type fakeDirectory struct {
	groups  []string
	byTheme map[string]map[model.Theme][]int64
	mentors []model.Subscriber
	chats   []model.Chat
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byTheme: make(map[string]map[model.Theme][]int64)}
}

func (f *fakeDirectory) GroupsWithSubscribers(context.Context) ([]string, error) {
	return f.groups, nil
}

func (f *fakeDirectory) UsersByGroupByTheme(_ context.Context, group string) (map[model.Theme][]int64, error) {
	return f.byTheme[group], nil
}

func (f *fakeDirectory) Mentors(context.Context) ([]model.Subscriber, error) { return f.mentors, nil }
func (f *fakeDirectory) Chats(context.Context) ([]model.Chat, error)         { return f.chats, nil }

type fakeEntityCache struct {
	stored map[model.EntityKind][]string
}

func newFakeEntityCache() *fakeEntityCache {
	return &fakeEntityCache{stored: make(map[model.EntityKind][]string)}
}

func (f *fakeEntityCache) Replace(_ context.Context, kind model.EntityKind, keys []string) error {
	f.stored[kind] = keys
	return nil
}

func (f *fakeEntityCache) List(_ context.Context, kind model.EntityKind) ([]string, error) {
	return f.stored[kind], nil
}

type renderCall struct {
	entity string
	theme  model.Theme
}

type fakeRenderer struct {
	calls []renderCall
}

func (f *fakeRenderer) Render(_ model.Table, _ model.Date, entity string, theme model.Theme) ([]byte, error) {
	f.calls = append(f.calls, renderCall{entity: entity, theme: theme})
	return []byte("png:" + entity + ":" + string(theme)), nil
}

type sendCall struct {
	recipients []model.Recipient
	image      []byte
	text       string
	updated    bool
}

type fakeBroadcaster struct {
	images []sendCall
	texts  []sendCall
}

func (f *fakeBroadcaster) SendImageToMany(_ context.Context, recipients []model.Recipient, image []byte, updated bool) broadcast.Report {
	f.images = append(f.images, sendCall{recipients: recipients, image: image, updated: updated})
	return broadcast.Report{Delivered: len(recipients)}
}

func (f *fakeBroadcaster) SendTextToMany(_ context.Context, recipients []model.Recipient, text string) broadcast.Report {
	f.texts = append(f.texts, sendCall{recipients: recipients, text: text})
	return broadcast.Report{Delivered: len(recipients)}
}

type checkerFixture struct {
	src         *fakeSource
	archive     *fakeArchive
	ledger      *fakeLedger
	directory   *fakeDirectory
	entities    *fakeEntityCache
	renderer    *fakeRenderer
	broadcaster *fakeBroadcaster
	checker     *Checker
}

func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()
	f := &checkerFixture{
		src:         newFakeSource(),
		archive:     newFakeArchive(),
		ledger:      newFakeLedger(),
		directory:   newFakeDirectory(),
		entities:    newFakeEntityCache(),
		renderer:    &fakeRenderer{},
		broadcaster: &fakeBroadcaster{},
	}
	f.checker = NewChecker(
		f.src, f.archive, f.ledger, f.directory, f.entities,
		f.renderer, f.broadcaster,
		DefaultCheckerConfig(), zap.NewNop(),
	)
	return f
}

func date(day, month, year int) model.Date {
	return model.Date{Year: year, Month: time.Month(month), Day: day}
}

func lessons(subject string) model.Table {
	return model.Table{{Slot: "1\nпара", Subject: subject, Room: "214"}}
}

// --- тесты ---

func TestNewDateBroadcastToGroupSubscribers(t *testing.T) {
	f := newCheckerFixture(t)

	known := date(1, 3, 2024)
	fresh := date(2, 3, 2024)

	f.src.dates = []model.Date{known, fresh}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", known)] = lessons("Математика")
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", fresh)] = lessons("Физика")
	f.ledger.announced[known] = struct{}{}

	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{
		model.ThemeClassic: {101, 102},
	}

	require.NoError(t, f.checker.processOnce(context.Background()))

	// одна новая дата, один рендер, оба подписчика в одном вызове
	require.Len(t, f.renderer.calls, 1)
	assert.Equal(t, "ИТ205", f.renderer.calls[0].entity)
	assert.Equal(t, model.ThemeClassic, f.renderer.calls[0].theme)

	require.Len(t, f.broadcaster.images, 1)
	assert.Len(t, f.broadcaster.images[0].recipients, 2)
	assert.False(t, f.broadcaster.images[0].updated)

	_, announced := f.ledger.announced[fresh]
	assert.True(t, announced)
	assert.True(t, f.ledger.completed[fresh])
	assert.False(t, f.ledger.completed[known], "уже объявленная дата не рассылается заново")
}

func TestAlreadyAnnouncedDateNotRebroadcast(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.ledger.announced[d] = struct{}{}
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))

	assert.Empty(t, f.broadcaster.images)
	assert.Empty(t, f.broadcaster.texts)
}

func TestEmptyScheduleSendsTextNotice(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(4, 3, 2024) // понедельник
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = model.Table{}
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))

	assert.Empty(t, f.broadcaster.images, "пустое расписание не рисуется")
	require.Len(t, f.broadcaster.texts, 1)
	notice := f.broadcaster.texts[0].text
	assert.Contains(t, notice, "ИТ205")
	assert.Contains(t, notice, "04.03.2024")
	assert.Contains(t, notice, "Понедельник")
}

func TestUnavailableEntitySkippedSilently(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205", "СА101"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.src.unavailable[scheduleKey(model.EntityGroup, "СА101", d)] = true

	f.directory.groups = []string{"ИТ205", "СА101"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}
	f.directory.byTheme["СА101"] = map[model.Theme][]int64{model.ThemeClassic: {201}}

	require.NoError(t, f.checker.processOnce(context.Background()))

	// у доступной группы картинка, у недоступной ничего
	require.Len(t, f.broadcaster.images, 1)
	assert.Equal(t, int64(101), f.broadcaster.images[0].recipients[0].ChatID)
	assert.Empty(t, f.broadcaster.texts)

	// дата всё равно объявлена: сбой одной сущности не блокирует проход
	assert.True(t, f.ledger.completed[d])
}

func TestStorageFailureWithholdsDate(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.archive.failUpsert[scheduleKey(model.EntityGroup, "ИТ205", d)] = true
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))

	// незаархивированную дату объявлять нельзя
	_, announced := f.ledger.announced[d]
	assert.False(t, announced)
	assert.Empty(t, f.broadcaster.images)

	// следующий проход с рабочим хранилищем добирает её
	f.archive.failUpsert = map[string]bool{}
	require.NoError(t, f.checker.processOnce(context.Background()))

	_, announced = f.ledger.announced[d]
	assert.True(t, announced)
	require.Len(t, f.broadcaster.images, 1)
}

func TestThemePartitioning(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{
		model.ThemeClassic:  {101, 102},
		model.ThemeMidNight: {103},
	}

	require.NoError(t, f.checker.processOnce(context.Background()))

	// по одному рендеру на тему
	require.Len(t, f.renderer.calls, 2)
	themes := map[model.Theme]bool{}
	for _, call := range f.renderer.calls {
		themes[call.theme] = true
	}
	assert.True(t, themes[model.ThemeClassic])
	assert.True(t, themes[model.ThemeMidNight])

	total := 0
	for _, send := range f.broadcaster.images {
		total += len(send.recipients)
	}
	assert.Equal(t, 3, total)
}

func TestMentorAndChatDelivery(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.mentors = []string{"Иванов Иван Иванович"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.src.tables[scheduleKey(model.EntityMentor, "Иванов Иван Иванович", d)] = lessons("Математика")

	f.directory.mentors = []model.Subscriber{
		{TelegramID: 500, MentorName: "Иванов Иван Иванович", Theme: model.ThemeNight},
	}
	f.directory.chats = []model.Chat{
		{ChatID: -10042, SubscribedGroup: "ИТ205"},
	}

	require.NoError(t, f.checker.processOnce(context.Background()))

	// преподаватель со своей темой и чат с темой по умолчанию
	require.Len(t, f.broadcaster.images, 2)

	mentorSend := f.broadcaster.images[0]
	require.Len(t, mentorSend.recipients, 1)
	assert.Equal(t, int64(500), mentorSend.recipients[0].ChatID)
	assert.True(t, strings.Contains(string(mentorSend.image), string(model.ThemeNight)))

	chatSend := f.broadcaster.images[1]
	require.Len(t, chatSend.recipients, 1)
	assert.Equal(t, int64(-10042), chatSend.recipients[0].ChatID)
	assert.Equal(t, model.RecipientChat, chatSend.recipients[0].Kind)
}

func TestChangedScheduleRebroadcast(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))
	require.Len(t, f.broadcaster.images, 1)
	assert.False(t, f.broadcaster.images[0].updated)

	// содержимое поменялось на ту же дату
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Физика")
	require.NoError(t, f.checker.processOnce(context.Background()))

	require.Len(t, f.broadcaster.images, 2)
	assert.True(t, f.broadcaster.images[1].updated)

	// без изменений досылки нет
	require.NoError(t, f.checker.processOnce(context.Background()))
	assert.Len(t, f.broadcaster.images, 2)
}

func TestWhitespaceChangeDoesNotTriggerRebroadcast(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))
	require.Len(t, f.broadcaster.images, 1)

	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("  Математика  ")
	require.NoError(t, f.checker.processOnce(context.Background()))

	assert.Len(t, f.broadcaster.images, 1, "косметическая правка не считается изменением")
}

func TestResumeIncompleteBroadcasts(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.ledger.announced[d] = struct{}{}
	f.ledger.incomplete = []model.Date{d}

	f.archive.records[scheduleKey(model.EntityGroup, "ИТ205", d)] = &model.ArchiveRecord{
		Kind: model.EntityGroup, EntityKey: "ИТ205", Date: d,
		Table: lessons("Математика"), Digest: "abc",
	}
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	f.checker.resumeIncomplete(context.Background())

	require.Len(t, f.broadcaster.images, 1)
	assert.True(t, f.ledger.completed[d])
}

func TestEntityCacheFallback(t *testing.T) {
	f := newCheckerFixture(t)

	d := date(1, 3, 2024)
	f.src.dates = []model.Date{d}
	f.src.groups = nil // сайт не отдаёт список групп
	f.entities.stored[model.EntityGroup] = []string{"ИТ205"}
	f.src.tables[scheduleKey(model.EntityGroup, "ИТ205", d)] = lessons("Математика")
	f.directory.groups = []string{"ИТ205"}
	f.directory.byTheme["ИТ205"] = map[model.Theme][]int64{model.ThemeClassic: {101}}

	require.NoError(t, f.checker.processOnce(context.Background()))

	require.Len(t, f.broadcaster.images, 1, "кэш номенклатуры заменяет недоступный сайт")
}

func TestNightWindowWrapsMidnight(t *testing.T) {
	f := newCheckerFixture(t)

	at := func(hour int) {
		f.checker.now = func() time.Time {
			return time.Date(2024, 3, 1, hour, 30, 0, 0, time.Local)
		}
	}

	at(23)
	assert.True(t, f.checker.isNight())
	at(3)
	assert.True(t, f.checker.isNight())
	at(7)
	assert.True(t, f.checker.isNight())
	at(8)
	assert.False(t, f.checker.isNight())
	at(12)
	assert.False(t, f.checker.isNight())
	at(21)
	assert.False(t, f.checker.isNight())
}

func TestDiffDates(t *testing.T) {
	a := date(1, 3, 2024)
	b := date(2, 3, 2024)
	c := date(3, 3, 2024)

	announced := map[model.Date]struct{}{a: {}}
	withheld := map[model.Date]struct{}{c: {}}

	got := diffDates([]model.Date{c, b, a}, announced, withheld)
	assert.Equal(t, []model.Date{b}, got)

	got = diffDates([]model.Date{b, a}, map[model.Date]struct{}{}, map[model.Date]struct{}{})
	assert.Equal(t, []model.Date{a, b}, got)
}
