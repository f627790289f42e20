/**
 * @description
 * This is the main entry point for the subscription-service.
 * It initializes and wires together all the components of the application:
 * configuration, database pool, billing provider client, optional Redis dedup,
 * optional RabbitMQ publisher, the reconciler, the optional stale-subscription sweep,
 * and the HTTP router. Finally, it starts the HTTP server and shuts it down gracefully.
 *
 * @dependencies
 * - pgxpool for the user store, go-redis for event dedup, amqp091 (via pkg/rabbitmq)
 *   for change events, stripe-go (via pkg/stripeclient) for the billing provider.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/echonow/subscription-service/internal/api"
	"github.com/echonow/subscription-service/internal/app"
	"github.com/echonow/subscription-service/internal/config"
	"github.com/echonow/subscription-service/internal/store"
	"github.com/echonow/subscription-service/pkg/rabbitmq"
	"github.com/echonow/subscription-service/pkg/stripeclient"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set; every webhook delivery will be rejected")
	}
	if len(cfg.PriceTiers) == 0 {
		logger.Warn("no price tiers configured; every subscription will resolve to the free tier")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Simple protocol keeps the pool compatible with PgBouncer transaction pooling.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	billing, err := stripeclient.NewClient(cfg.StripeSecretKey)
	if err != nil {
		logger.Error("failed to create billing provider client", "error", err)
		os.Exit(1)
	}

	repository := store.NewRepository(dbpool)
	prices := app.NewPriceTable(cfg.PriceTiers)
	logger.Info("price tier table loaded", "prices", prices.Len())

	reconciler := app.NewReconciler(repository, billing, prices, logger)
	reconciler.SetInvoiceFailureThreshold(int64(cfg.InvoiceFailureThreshold))

	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set; subscription change events disabled")
	} else {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ; subscription change events disabled", "error", err)
		} else {
			defer producer.Close()
			reconciler.SetPublisher(producer, cfg.SubscriptionEventsExchange)
			logger.Info("RabbitMQ producer connected", "exchange", cfg.SubscriptionEventsExchange)
		}
	}

	webhookService := app.NewWebhookService(reconciler, app.DefaultMetrics(), logger)

	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set; processed-event dedup disabled")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; processed-event dedup disabled", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; processed-event dedup disabled", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				ttl := time.Duration(cfg.EventDedupTTLHours) * time.Hour
				webhookService.SetDeduplicator(app.NewRedisEventDeduplicator(redisClient, cfg.EventDedupPrefix, ttl))
				logger.Info("redis connected; processed-event dedup enabled", "ttl", ttl.String())
			}
		}
	}

	var scheduler *app.Scheduler
	if cfg.SweepSchedule != "" {
		jobs := app.NewJobs(repository, billing, reconciler, logger, cfg.SweepBatchSize)
		scheduler = app.NewScheduler(jobs, logger, cfg.SweepSchedule)
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start stale subscription sweep", "error", err)
			os.Exit(1)
		}
	}

	auth := api.AuthConfig{JWKSURL: cfg.AuthJWKSURL, Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience}
	router := api.NewRouter(api.RouterConfig{
		Handler:        api.NewHandler(app.NewService(repository), logger),
		Webhook:        api.NewWebhookHandler(stripeclient.NewVerifier(cfg.StripeWebhookSecret), webhookService, logger),
		Auth:           auth,
		Keys:           api.NewJWKSCache(auth.JWKSURL),
		AllowedOrigins: cfg.AllowedOrigins(),
		Metrics:        promhttp.Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	logger.Info("server stopped")
}
