/**
 * @description
 * This is the main entry point for the linking-service. It wires the credential
 * validators, the linking orchestrator, the balance synchronizer and the M-Pesa
 * webhook reconciler behind the HTTP API, and starts the background workers.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Uses PostgreSQL when DATABASE_URL is set and an in-memory store otherwise.
 * - Redis backs the callback dedup ledger and the link attempt limiter when available.
 * - RabbitMQ carries lifecycle events and inbound sync requests when configured.
 * - Starts the cron scheduler and implements graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/api"
	"github.com/payex/linking-service/internal/app"
	"github.com/payex/linking-service/internal/config"
	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
	"github.com/payex/linking-service/internal/validator"
	"github.com/payex/linking-service/pkg/aggregatorclient"
	"github.com/payex/linking-service/pkg/middleware"
	"github.com/payex/linking-service/pkg/rabbitmq"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logger.WithField("component", "bootstrap")

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.WithError(err).Fatal("cannot load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		log.WithField("value", cfg.LogLevel).Warn("invalid LOG_LEVEL; using info")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	var (
		accounts store.LinkedAccountRepository
		banks    store.BankRepository
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		dbpool := connectDatabase(rootCtx, cfg.DatabaseURL, log)
		defer dbpool.Close()
		accounts = store.NewPostgresLinkedAccountRepository(dbpool, logger)
		banks = store.NewPostgresBankRepository(dbpool, logger)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
		accounts = store.NewMemoryLinkedAccountRepository()
		banks = store.NewMemoryBankRepository()
	}

	// Redis backed ledger and limiter.
	var (
		ledger  store.CallbackLedger = store.NewMemoryCallbackLedger()
		limiter app.AttemptLimiter
	)
	if redisClient := connectRedis(rootCtx, cfg.RedisURL, log); redisClient != nil {
		defer redisClient.Close()
		ledger = store.NewRedisCallbackLedger(redisClient, cfg.RedisKeyPrefix)
		limiter = app.NewRedisAttemptLimiter(redisClient, cfg.RedisKeyPrefix, "link_account", cfg.LinkRateLimitPerMinute, time.Minute)
	} else {
		log.Warn("redis unavailable; using in-memory callback ledger and no link rate limit")
	}

	// RabbitMQ producer.
	var publisher app.EventPublisher
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			log.WithError(err).Warn("failed to connect RabbitMQ producer; events disabled")
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	// Services.
	registry := validator.NewDefaultRegistry(cfg.ProviderConfig(), logger)
	linking := app.NewLinkingService(accounts, registry, limiter, publisher, cfg.EventsExchange, logger)
	syncer := app.NewSyncService(accounts, registry, cfg.SyncConcurrency, publisher, cfg.EventsExchange, logger)
	reconciler := app.NewReconciler(accounts, ledger, cfg.CallbackDedupTTL(), publisher, cfg.EventsExchange, logger)
	aggregator := aggregatorclient.NewClient(cfg.BankAggregatorBaseURL, cfg.BankAggregatorAPIKey, logger)
	bankDirectory := app.NewBankDirectory(aggregator, banks, logger)

	// RabbitMQ consumer for sync requests.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			log.WithError(err).Warn("failed to connect RabbitMQ consumer; sync requests disabled")
		} else {
			defer consumer.Close()
			handler := app.NewSyncRequestHandler(syncer, logger)
			go func() {
				log.WithField("routing_key", domain.RoutingKeySyncRequested).Info("starting sync request consumer")
				if err := consumer.Consume(rootCtx, cfg.EventsExchange, cfg.SyncQueue, domain.RoutingKeySyncRequested, handler.HandleSyncRequested); err != nil {
					log.WithError(err).Error("sync request consumer stopped")
				}
			}()
		}
	}

	// Scheduler.
	scheduler := app.NewScheduler(&app.Jobs{Sync: syncer, Banks: bankDirectory}, cfg.SyncSchedule, logger)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}

	// HTTP server.
	requestLimiter := middleware.NewRateLimiter(cfg.HTTPRequestsPerSecond, cfg.HTTPBurst)
	requestLimiter.StartCleanup(5 * time.Minute)
	defer requestLimiter.Stop()

	router := api.NewRouter(
		cfg,
		api.NewAccountHandler(linking, syncer, bankDirectory, logger),
		api.NewWebhookHandler(reconciler, logger),
		requestLimiter,
		logger,
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.ServerPort).Info("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("could not start server")
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down linking-service")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Warn("scheduled jobs still running at shutdown")
	}
	log.Info("server gracefully stopped")
}

func connectDatabase(ctx context.Context, databaseURL string, log logrus.FieldLogger) *pgxpool.Pool {
	dbConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.WithError(err).Fatal("unable to parse database URL")
	}
	dbConfig.MaxConns = 20
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with poolers.
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		log.WithError(err).Fatal("unable to connect to database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		log.WithError(err).Fatal("database ping failed")
	}
	log.Info("database connection established")
	return dbpool
}

func connectRedis(ctx context.Context, redisURL string, log logrus.FieldLogger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("redis url parse failed")
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed")
		_ = client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
