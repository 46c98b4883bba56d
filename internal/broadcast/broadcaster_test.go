package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSender потокобезопасный фейк Sender для проверки рассылки
type fakeSender struct {
	mu        sync.Mutex
	photos    map[int64]int
	messages  map[int64]int
	failFor   map[int64]error
	retryOnce map[int64]bool
	attempts  map[int64]int
	captions  []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		photos:    make(map[int64]int),
		messages:  make(map[int64]int),
		failFor:   make(map[int64]error),
		retryOnce: make(map[int64]bool),
		attempts:  make(map[int64]int),
	}
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[chatID]++
	if f.retryOnce[chatID] {
		f.retryOnce[chatID] = false
		return &RetryAfterError{After: 10 * time.Millisecond}
	}
	if err := f.failFor[chatID]; err != nil {
		return err
	}

	f.photos[chatID]++
	f.captions = append(f.captions, caption)
	return nil
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFor[chatID]; err != nil {
		return err
	}
	f.messages[chatID]++
	return nil
}

func fastConfig() Config {
	return Config{
		RateLimit:   100,
		RatePeriod:  time.Second,
		ChunkSize:   10,
		MaxAttempts: 4,
		RetryMargin: time.Millisecond,
	}
}

func individuals(n int) []model.Recipient {
	recipients := make([]model.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		recipients = append(recipients, model.Individual(int64(i), model.DefaultTheme))
	}
	return recipients
}

func TestSendImageToManyDeliversAll(t *testing.T) {
	sender := newFakeSender()
	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())

	report := b.SendImageToMany(context.Background(), individuals(25), []byte("png"), false)

	assert.Equal(t, 25, report.Delivered)
	assert.Empty(t, report.Failed)
	assert.Len(t, sender.photos, 25)
	for _, c := range sender.captions {
		assert.Empty(t, c, "base sends carry no caption")
	}
}

func TestFailureIsolation(t *testing.T) {
	sender := newFakeSender()
	sender.failFor[37] = errors.New("forbidden: bot was blocked by the user")

	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())
	recipients := individuals(50)

	report := b.SendImageToMany(context.Background(), recipients, []byte("png"), false)

	assert.Equal(t, 49, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, int64(37), report.Failed[0].ChatID)

	// остальные получили картинку ровно один раз
	for i := 1; i <= 50; i++ {
		if i == 37 {
			assert.Zero(t, sender.photos[int64(i)])
			continue
		}
		assert.Equal(t, 1, sender.photos[int64(i)], "recipient %d", i)
	}
}

func TestRetryAfterIsRetried(t *testing.T) {
	sender := newFakeSender()
	sender.retryOnce[5] = true

	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())

	report := b.SendImageToMany(context.Background(), individuals(5), []byte("png"), false)

	assert.Equal(t, 5, report.Delivered)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, sender.photos[5])
}

func TestPermanentFailureNotRetried(t *testing.T) {
	sender := newFakeSender()
	sender.failFor[1] = errors.New("chat not found")

	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())
	report := b.SendImageToMany(context.Background(), individuals(1), []byte("png"), false)

	assert.Zero(t, report.Delivered)
	assert.Len(t, report.Failed, 1)
	assert.Equal(t, 1, sender.attempts[1], "permanent failures get exactly one attempt")
}

func TestUpdatedFlagSetsCaption(t *testing.T) {
	sender := newFakeSender()
	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())

	b.SendImageToMany(context.Background(), individuals(3), []byte("png"), true)

	require.Len(t, sender.captions, 3)
	for _, c := range sender.captions {
		assert.Equal(t, UpdatedCaption, c)
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	sender := newFakeSender()
	cfg := Config{
		RateLimit:   3,
		RatePeriod:  300 * time.Millisecond,
		ChunkSize:   10,
		MaxAttempts: 4,
		RetryMargin: time.Millisecond,
	}
	b := NewBroadcaster(sender, cfg, zap.NewNop())

	start := time.Now()
	report := b.SendImageToMany(context.Background(), individuals(10), []byte("png"), false)
	elapsed := time.Since(start)

	assert.Equal(t, 10, report.Delivered)
	// нижняя граница: после стартового burst из 3 оставшиеся 7 идут
	// по одному разрешению каждые 100ms
	assert.GreaterOrEqual(t, elapsed, 600*time.Millisecond,
		"limiter must actually pace the fan-out")
}

func TestSendTextToMany(t *testing.T) {
	sender := newFakeSender()
	sender.failFor[2] = errors.New("user is deactivated")

	b := NewBroadcaster(sender, fastConfig(), zap.NewNop())
	report := b.SendTextToMany(context.Background(), individuals(3), "Расписания нет")

	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, int64(2), report.Failed[0].ChatID)
}

func TestCancellationStopsFanOut(t *testing.T) {
	sender := newFakeSender()
	cfg := Config{
		RateLimit:   1,
		RatePeriod:  time.Second,
		ChunkSize:   2,
		MaxAttempts: 4,
		RetryMargin: time.Millisecond,
	}
	b := NewBroadcaster(sender, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report := b.SendImageToMany(ctx, individuals(20), []byte("png"), false)
	assert.Less(t, report.Delivered, 20, "cancellation must cut the fan-out short")
}
