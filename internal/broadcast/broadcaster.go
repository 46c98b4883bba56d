// Package broadcast рассылает картинки и уведомления подписчикам,
// не превышая лимит Telegram и изолируя сбои отдельных получателей.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// UpdatedCaption подпись к картинке при изменившемся расписании
const UpdatedCaption = "🆕 Расписание изменилось!"

// RetryAfterError сигнал backpressure от Telegram: подождать и повторить
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.After)
}

// Sender низкоуровневая отправка в Telegram.
// Возвращает *RetryAfterError при backpressure, любая другая ошибка
// считается окончательной для получателя.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string, silent bool) error
	SendMessage(ctx context.Context, chatID int64, text string, silent bool) error
}

// Config параметры рассылки
type Config struct {
	RateLimit   int           // разрешений на окно, например 15
	RatePeriod  time.Duration // окно лимитера, например 7s
	ChunkSize   int           // получателей в одной пачке
	MaxAttempts int           // всего попыток на получателя при backpressure
	RetryMargin time.Duration // фиксированная добавка к retry-after
}

// DefaultConfig лимиты, с которыми бот живёт в проде
func DefaultConfig() Config {
	return Config{
		RateLimit:   15,
		RatePeriod:  7 * time.Second,
		ChunkSize:   10,
		MaxAttempts: 4,
		RetryMargin: time.Second,
	}
}

// Report итог рассылки: сколько доставлено и кому не удалось
type Report struct {
	Delivered int
	Failed    []model.Recipient
}

// Broadcaster веерная рассылка с общим лимитером на все отправки
type Broadcaster struct {
	sender  Sender
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

// NewBroadcaster создаёт рассыльщик. Лимитер один на экземпляр:
// все конкурентные отправки проходят через него.
func NewBroadcaster(sender Sender, cfg Config, logger *zap.Logger) *Broadcaster {
	if cfg.RateLimit <= 0 || cfg.RatePeriod <= 0 {
		panic("broadcast: rate limit must be positive")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	interval := cfg.RatePeriod / time.Duration(cfg.RateLimit)
	return &Broadcaster{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(interval), cfg.RateLimit),
		cfg:     cfg,
		logger:  logger,
	}
}

// SendImageToMany доставляет картинку всем получателям.
// При updated добавляется подпись об изменении и отправка идёт без звука.
// Сбой одного получателя не прерывает остальных; метод не возвращает
// ошибку на сбои доставки — они собираются в Report.
func (b *Broadcaster) SendImageToMany(ctx context.Context, recipients []model.Recipient, image []byte, updated bool) Report {
	caption := ""
	silent := false
	if updated {
		caption = UpdatedCaption
		silent = true
	}

	return b.fanOut(ctx, recipients, func(ctx context.Context, r model.Recipient) error {
		return b.sender.SendPhoto(ctx, r.ChatID, image, caption, silent)
	})
}

// SendTextToMany доставляет текстовое уведомление всем получателям
func (b *Broadcaster) SendTextToMany(ctx context.Context, recipients []model.Recipient, text string) Report {
	return b.fanOut(ctx, recipients, func(ctx context.Context, r model.Recipient) error {
		return b.sender.SendMessage(ctx, r.ChatID, text, true)
	})
}

// fanOut гонит получателей пачками. Пачки ограничивают только число
// одновременных отправок, темп задаёт исключительно лимитер.
func (b *Broadcaster) fanOut(ctx context.Context, recipients []model.Recipient, send func(context.Context, model.Recipient) error) Report {
	var (
		mu     sync.Mutex
		report Report
	)

	for start := 0; start < len(recipients); start += b.cfg.ChunkSize {
		end := start + b.cfg.ChunkSize
		if end > len(recipients) {
			end = len(recipients)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, recipient := range recipients[start:end] {
			recipient := recipient
			g.Go(func() error {
				ok := b.sendOne(gctx, recipient, send)

				mu.Lock()
				if ok {
					report.Delivered++
				} else {
					report.Failed = append(report.Failed, recipient)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	return report
}

// sendOne одна доставка с повторами на backpressure.
// Любая другая ошибка доставки окончательна — получатель помечается
// неудачным без повторов.
func (b *Broadcaster) sendOne(ctx context.Context, recipient model.Recipient, send func(context.Context, model.Recipient) error) bool {
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return false
		}

		err := send(ctx, recipient)
		if err == nil {
			return true
		}

		var retryAfter *RetryAfterError
		if !errors.As(err, &retryAfter) {
			b.logger.Warn("Delivery failed",
				zap.Int64("chat_id", recipient.ChatID),
				zap.String("kind", string(recipient.Kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return false
		}

		// джиттер разводит повторные попытки, когда много отправок
		// упёрлось в один и тот же сигнал
		wait := retryAfter.After + b.cfg.RetryMargin + time.Duration(rand.Int63n(int64(time.Second)))
		b.logger.Warn("Rate limited by provider, backing off",
			zap.Int64("chat_id", recipient.ChatID),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt))

		if !sleepCtx(ctx, wait) {
			return false
		}
	}

	return false
}

// sleepCtx спит с учётом отмены, false если контекст закрыт
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
