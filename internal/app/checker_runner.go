package app

import (
	"context"
	"sync"

	"github.com/mtec-dev/schedule_bot/internal/service"
	"go.uber.org/zap"
)

// CheckerRunner управляет фоновым циклом проверки расписания
type CheckerRunner struct {
	checker *service.Checker
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewCheckerRunner создаёт новый раннер
func NewCheckerRunner(checker *service.Checker, logger *zap.Logger) *CheckerRunner {
	return &CheckerRunner{
		checker: checker,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start запускает цикл проверки в фоне
func (r *CheckerRunner) Start(ctx context.Context) {
	r.logger.Info("Starting background schedule checker")

	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)
		r.checker.Run(ctx)
	}()
}

// Stop останавливает цикл и дожидается завершения текущего прохода
func (r *CheckerRunner) Stop() {
	r.once.Do(func() {
		r.logger.Info("Stopping background schedule checker")
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	})
}
