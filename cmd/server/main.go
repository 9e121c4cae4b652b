package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/config"
	"github.com/example/smartpay/internal/database"
	"github.com/example/smartpay/internal/events"
	"github.com/example/smartpay/internal/gateway"
	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/logger"
	"github.com/example/smartpay/internal/poller"
	"github.com/example/smartpay/internal/routes"
	"github.com/example/smartpay/internal/services"
)

func main() {
	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	store, err := newStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	gw, err := newGateway(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize gateway client", zap.Error(err))
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaStatusTopic, log)
	}

	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)
	payments := services.NewPaymentService(gw, ledger.New(store, log), telegramService, publisher, services.PaymentConfig{
		ResponseKey: cfg.Gateway.ResponseKey,
		SessionTTL:  cfg.SessionTTL,
		AutoPoll:    cfg.AutoPoll,
		Poll: poller.Config{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
		},
	}, log)

	app := fiber.New(fiber.Config{
		AppName: "SmartPay Gateway",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	routes.Register(app, cfg, payments, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Starting server", zap.String("port", cfg.AppPort), zap.String("gateway_env", cfg.Gateway.Environment))
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatal("fiber.Listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	payments.Shutdown()
	if err := publisher.Close(); err != nil {
		log.Error("Publisher close failed", zap.Error(err))
	}
}

func newStore(cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory ledger")
		return ledger.NewMemoryStore(), nil
	}
	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	return ledger.NewGormStore(db), nil
}

func newGateway(cfg *config.Config, log *zap.Logger) (gateway.Gateway, error) {
	if cfg.IsMock() {
		log.Warn("Using mock gateway")
		return gateway.NewMock(), nil
	}
	return gateway.NewClient(cfg.Gateway, log.With(zap.String("component", "gateway")))
}
