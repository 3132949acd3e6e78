package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/authority"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/config"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/handler"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/infra/postgresql"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/infra/postgresql/migrations"
	infraredis "github.com/mukhtar-github/taxpoynt-platform-sub026/internal/infra/redis"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/keystore"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/observability"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/protect"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/service"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("transmission engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.ConsumerPrefetch, logger)

	keys, err := protect.NewStaticKeyService(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("key service initialization failed: %w", err)
	}

	var signers keystore.SignerProvider
	if cfg.SigningKeyDir != "" {
		signers, err = keystore.NewFileProvider(cfg.SigningKeyDir)
		if err != nil {
			return fmt.Errorf("signer provider initialization failed: %w", err)
		}
	}

	protector, err := protect.NewProtector(keys, signers, logger)
	if err != nil {
		return fmt.Errorf("protector initialization failed: %w", err)
	}

	transmissionRepo := repository.NewGormTransmissionRepo(db)
	retryRepo := repository.NewGormRetryRepo(db)
	statusLogRepo := repository.NewGormStatusLogRepo(db)
	auditRepo := repository.NewGormAuditRepo(db)

	authorityClient, err := authority.NewHTTPClient(cfg.AuthorityAPIURL, cfg.AuthorityAPIKey)
	if err != nil {
		return fmt.Errorf("authority client initialization failed: %w", err)
	}

	channels := []service.AlertChannel{service.NewLogChannel(logger)}
	if cfg.AlertWebhookURL != "" {
		slack, err := service.NewSlackChannel(cfg.AlertWebhookURL)
		if err != nil {
			return fmt.Errorf("slack channel initialization failed: %w", err)
		}
		channels = append(channels, slack)
	}
	alerts, err := service.NewAlertDispatcher(channels, logger)
	if err != nil {
		return fmt.Errorf("alert dispatcher initialization failed: %w", err)
	}

	orchestrator, err := service.NewRetryOrchestrator(
		transmissionRepo, retryRepo, auditRepo, publisher, alerts, logger,
	)
	if err != nil {
		return fmt.Errorf("retry orchestrator initialization failed: %w", err)
	}

	transmissionService, err := service.NewTransmissionService(
		transmissionRepo, retryRepo, statusLogRepo, auditRepo,
		protector, publisher, authorityClient, logger,
	)
	if err != nil {
		return fmt.Errorf("transmission service initialization failed: %w", err)
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	worker, err := service.NewWorkerService(
		transmissionRepo, statusLogRepo, consumer, authorityClient,
		protector, orchestrator, rateLimiter, cfg.WorkerConcurrency, logger,
	)
	if err != nil {
		return fmt.Errorf("worker service initialization failed: %w", err)
	}

	scanner, err := service.NewRetryScanner(
		orchestrator, time.Duration(cfg.RetryScanIntervalSec)*time.Second, logger,
	)
	if err != nil {
		return fmt.Errorf("retry scanner initialization failed: %w", err)
	}

	ingestor, err := service.NewWebhookIngestor(
		transmissionRepo, retryRepo, statusLogRepo, auditRepo, orchestrator, cfg.WebhookSecret, logger,
	)
	if err != nil {
		return fmt.Errorf("webhook ingestor initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	alerts.SetMetrics(metrics)
	orchestrator.SetMetrics(metrics)
	worker.SetMetrics(metrics)
	ingestor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterTransmissionRoutes(app, transmissionService); err != nil {
		return fmt.Errorf("failed to register transmission routes: %w", err)
	}
	if err := handler.RegisterWebhookRoutes(app, ingestor); err != nil {
		return fmt.Errorf("failed to register webhook routes: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		logger.Info("starting delivery workers", zap.Int("concurrency", cfg.WorkerConcurrency))
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("starting retry scanner", zap.Int("intervalSeconds", cfg.RetryScanIntervalSec))
		return scanner.Start(groupCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("transmission engine stopped")
	return nil
}
