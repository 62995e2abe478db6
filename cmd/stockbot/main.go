package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stockbot/internal/api"
	"stockbot/internal/audit"
	"stockbot/internal/config"
	"stockbot/internal/db"
	"stockbot/internal/discord"
	"stockbot/internal/events"
	"stockbot/internal/game"
	"stockbot/internal/ledger"
	"stockbot/internal/ledger/postgres"
	"stockbot/internal/lock"
	"stockbot/internal/metrics"
	"stockbot/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := game.NewService(store, logger, game.WithAdmins(cfg.AdminUserIDs))
	if !svc.AdminsConfigured() {
		logger.Warn("ADMIN_USER_IDS is empty; create and addcoins are open to every user")
	}

	bot, err := discord.NewBot(cfg.DiscordToken, cfg.GuildID, discord.NewRouter(svc, logger), logger)
	if err != nil {
		logger.Error("discord init failed", "err", err)
		os.Exit(1)
	}

	sinks := audit.Multi{audit.NewFileSink(cfg.AuditLogFile)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		logger.Info("kafka audit sink enabled", "topic", cfg.KafkaAuditTopic)
	}

	relay := events.NewRelay(store, logger,
		[]events.Handler{
			discord.NewNotifier(bot.Session(), cfg.AlertChannelID, cfg.DriftChannelID, logger),
			audit.Handler(sinks),
		},
		events.WithObserver(func(kind events.Kind, err error) {
			metrics.ObserveEvent(string(kind), err)
		}),
	)

	var locker lock.Locker = lock.Local{}
	if cfg.RedisURL != "" {
		redisLock, err := lock.Dial(ctx, cfg.RedisURL, "stockbot:")
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer redisLock.Close()
		locker = redisLock
	}

	if err := bot.Open(ctx); err != nil {
		logger.Error("discord connect failed", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(func(ctx context.Context) { relay.Run(ctx, cfg.OutboxPollEvery) })
	run(scheduler.NewStatus(svc, bot, logger, cfg.StatusEvery).Run)
	if cfg.RunDrift {
		run(scheduler.NewDrift(svc, locker, logger, cfg.DriftEvery).Run)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(api.Options{AdminToken: cfg.AdminAPIToken, Gatherer: reg}, logger, svc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stockbot running", "http_addr", cfg.HTTPAddr, "drift", cfg.RunDrift, "drift_every", cfg.DriftEvery.String())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "err", err)
		stop()
	}

	<-ctx.Done()
	if err := bot.Close(); err != nil {
		logger.Warn("discord close failed", "err", err)
	}
	wg.Wait()
	logger.Info("stockbot shutdown")
}

func openStore(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) (ledger.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is empty; using in-memory ledger, state is lost on restart")
		return ledger.NewMemoryStore(), nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return postgres.New(pool), nil
}
