package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stockbot/internal/config"
	"stockbot/internal/db"
	"stockbot/internal/game"
	"stockbot/internal/ledger/postgres"
	"stockbot/internal/lock"
	"stockbot/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	store := postgres.New(pool)
	defer store.Close()

	var locker lock.Locker = lock.Local{}
	if cfg.RedisURL != "" {
		redisLock, err := lock.Dial(ctx, cfg.RedisURL, "stockbot:")
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer redisLock.Close()
		locker = redisLock
	} else {
		logger.Warn("REDIS_URL is empty; run the bot with STOCKBOT_RUN_DRIFT=false to avoid double ticks")
	}

	svc := game.NewService(store, logger)
	drift := scheduler.NewDrift(svc, locker, logger, cfg.DriftEvery)

	if cfg.RunOnce {
		ran, err := drift.Tick(ctx)
		if err != nil {
			logger.Error("drift tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "ran", ran)
		return
	}

	drift.Run(ctx)
	logger.Info("worker shutdown")
}
