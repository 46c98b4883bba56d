package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mtec-dev/schedule_bot/internal/app"
	"github.com/mtec-dev/schedule_bot/internal/broadcast"
	"github.com/mtec-dev/schedule_bot/internal/config"
	"github.com/mtec-dev/schedule_bot/internal/controller"
	"github.com/mtec-dev/schedule_bot/internal/render"
	"github.com/mtec-dev/schedule_bot/internal/repository"
	"github.com/mtec-dev/schedule_bot/internal/service"
	"github.com/mtec-dev/schedule_bot/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	logger.Sugar().Infow("Starting schedule bot",
		"environment", cfg.Environment,
		"token_length", len(cfg.TelegramToken))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}
	logger.Info("✅ Connected to database")

	// Миграции
	migrator, err := app.NewMigrator(pool, "migrations")
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	// Телеграм
	b, err := bot.New(cfg.TelegramToken)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Репозитории
	archiveRepo := repository.NewArchiveRepository(pool)
	announcedRepo := repository.NewAnnouncedRepository(pool)
	subscriberRepo := repository.NewSubscriberRepository(pool)
	entityRepo := repository.NewEntityRepository(pool)

	// Сервисы
	src := source.NewClient(cfg.ScheduleURL, 30*time.Second, logger)
	renderer := render.NewRenderer()
	sender := broadcast.NewTelegramSender(b)
	broadcaster := broadcast.NewBroadcaster(sender, broadcast.DefaultConfig(), logger)

	checkerCfg := service.DefaultCheckerConfig()
	checkerCfg.PollInterval = cfg.PollInterval
	checkerCfg.NightPause = cfg.NightPause
	checkerCfg.NightStartHour = cfg.NightStartHour
	checkerCfg.NightEndHour = cfg.NightEndHour

	checker := service.NewChecker(
		src, archiveRepo, announcedRepo, subscriberRepo, entityRepo,
		renderer, broadcaster, checkerCfg, logger,
	)

	subscriberService := service.NewSubscriberService(
		subscriberRepo, entityRepo, archiveRepo, announcedRepo, renderer, logger,
	)

	// Контроллер
	botController := controller.NewBotController(b, subscriberService, logger)
	if err := botController.RegisterHandlers(ctx); err != nil {
		logger.Fatal("Failed to register handlers", zap.Error(err))
	}

	// Фоновый цикл проверки расписания
	runner := app.NewCheckerRunner(checker, logger)
	runner.Start(ctx)
	defer runner.Stop()

	logger.Info("🚀 Bot is up, polling for updates")
	botController.Start(ctx)

	logger.Info("Shutting down")
}
