package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gr8monk3ys/webhook-engine/internal/api"
	"github.com/gr8monk3ys/webhook-engine/internal/config"
	"github.com/gr8monk3ys/webhook-engine/internal/engine"
	"github.com/gr8monk3ys/webhook-engine/internal/store"
	"github.com/gr8monk3ys/webhook-engine/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL, int32(cfg.NumWorkers))
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	queue := engine.NewQueue(redisStore.Client())
	breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
	limiter := engine.NewRateLimiter(redisStore.Client(), logger)
	publisher := engine.NewPublisher(pgStore, pgStore, pgStore, queue, cfg.MaxAttempts, logger)

	deliverer := worker.NewDeliverer(pgStore, breaker, limiter, queue, worker.DelivererConfig{
		Timeout:            cfg.HTTPTimeout,
		ResponseBodyCap:    cfg.ResponseBodyCap,
		BackoffBase:        cfg.BackoffBase,
		BackoffCap:         cfg.BackoffCap,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
	}, logger)

	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(ctx)
	defer pool.Stop()

	poller := worker.NewQueuePoller(queue, pool, cfg.QueuePollInterval, cfg.QueueBatchSize, logger)
	retryScheduler := worker.NewRetryScheduler(pgStore, queue, cfg.RetryInterval, cfg.RetryBatchSize, cfg.RetryClaimTTL, logger)
	sweeper := worker.NewRetentionSweeper(pgStore, cfg.PurgeInterval, cfg.EventRetention, logger)

	router := api.NewRouter(api.Stores{
		Subscriptions: pgStore,
		Publisher:     publisher,
		Events:        pgStore,
		Deliveries:    pgStore,
		Metrics:       pgStore,
		Queue:         queue,
		DB:            pgStore,
		Cache:         redisStore,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return retryScheduler.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
