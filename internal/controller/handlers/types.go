package handlers

import (
	"github.com/mtec-dev/schedule_bot/internal/service"
	"go.uber.org/zap"
)

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	subscriberService *service.SubscriberService
	logger            *zap.Logger
}

// NewHandlers создаёт новый обработчик команд
func NewHandlers(subscriberService *service.SubscriberService, logger *zap.Logger) *Handlers {
	return &Handlers{
		subscriberService: subscriberService,
		logger:            logger,
	}
}
