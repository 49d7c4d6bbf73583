package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webhook-relay/config"
	httpHandler "webhook-relay/internal/adapter/http/handler"
	pgStorage "webhook-relay/internal/adapter/storage/postgres"
	redisStorage "webhook-relay/internal/adapter/storage/redis"
	"webhook-relay/internal/core/ports"
	"webhook-relay/internal/service"
	"webhook-relay/pkg/logger"

	"github.com/robfig/cron/v3"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Webhook Relay")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	endpointRepo := pgStorage.NewEndpointRepo(pool)
	deliveryRepo := pgStorage.NewDeliveryRepo(pool)

	// Initialize core services
	vault, err := service.NewAESVault(cfg.Vault.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize secret vault")
	}
	sigSvc := service.NewHMACSignatureService()
	breaker := redisStorage.NewCircuitBreaker(rdb, redisStorage.DefaultBreakerOptions(), log)
	metrics := service.NewMetrics()

	deliverer := service.NewHTTPDeliverer(
		vault, sigSvc,
		&http.Client{Timeout: cfg.Worker.RequestTimeout},
		log,
	)
	worker := service.NewDrainWorker(
		deliveryRepo, endpointRepo, deliverer, breaker, metrics,
		service.WorkerOptions{
			BatchSize:   cfg.Worker.BatchSize,
			Concurrency: cfg.Worker.Concurrency,
			MaxAttempts: cfg.Worker.MaxAttempts,
			BackoffBase: cfg.Worker.BackoffBase,
			BackoffCap:  cfg.Worker.BackoffCap,
		},
		log,
	)

	// Initialize rate limit store
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Worker:         worker,
		Metrics:        metrics,
		InternalAPIKey: cfg.Worker.InternalAPIKey,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Optional in-process schedule. The external scheduler hitting the
	// trigger endpoint remains the primary mode.
	if cfg.Worker.Cron != "" {
		schedule := cron.New()
		if _, err := schedule.AddFunc(cfg.Worker.Cron, func() {
			if _, err := worker.ProcessQueue(context.Background()); err != nil {
				log.Error().Err(err).Msg("scheduled drain failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Str("cron", cfg.Worker.Cron).Msg("invalid worker cron expression")
		}
		schedule.Start()
		defer schedule.Stop()
		log.Info().Str("cron", cfg.Worker.Cron).Msg("in-process drain schedule started")
	}

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
