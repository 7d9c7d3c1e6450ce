package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platformhq/webhook-delivery/internal/api"
	"github.com/platformhq/webhook-delivery/internal/config"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
	"github.com/platformhq/webhook-delivery/internal/websocket"
	"github.com/platformhq/webhook-delivery/internal/worker"
	"github.com/platformhq/webhook-delivery/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisClient, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	hub := websocket.NewHub(logger)
	go hub.Run()

	circuitBreaker := engine.NewCircuitBreaker(redisClient, logger)
	rateLimiter := engine.NewRateLimiter(redisClient, logger)
	dispatcher := engine.NewDispatcher(pgStore, pgStore, redisClient, logger)

	recorder := worker.NewRecorder(pgStore, logger)
	deliverer := worker.NewDeliverer(
		cfg.HTTPTimeout, recorder, circuitBreaker, rateLimiter,
		redisClient, hub, logger,
	)

	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(ctx)

	poller := worker.NewPoller(redisClient, pool, logger)
	go poller.Start(ctx)

	scheduler := worker.NewScheduler(pgStore, redisClient, cfg.RetryScanInterval, logger)
	go scheduler.Start(ctx)

	sweeper := worker.NewSweeper(pgStore, cfg.RetentionDays, cfg.SweepInterval, logger)
	go sweeper.Start(ctx)

	router := api.NewRouter(pgStore, dispatcher, circuitBreaker, redisClient, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop background loops, then drain the pool
	stop()
	pool.Stop()

	logger.Info("server stopped")
}
