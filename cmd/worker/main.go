package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"jobsync/internal/archive"
	"jobsync/internal/config"
	"jobsync/internal/forward"
	"jobsync/internal/logging"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
	"jobsync/internal/telemetry"
	"jobsync/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.WebhookURL == "" {
		log.Fatalf("WEBHOOK_URL is required for the sync worker")
	}

	st, err := store.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	opts := []syncer.Option{syncer.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		opts = append(opts, syncer.WithLocker(syncer.NewRedisLock(rdb, cfg.SyncLockTTL)))
	}
	reports, err := archive.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init report archive: %v", err)
	}
	if reports != nil {
		opts = append(opts, syncer.WithArchiver(reports))
	}

	webhook := forward.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout, logger)
	mgr := syncer.NewManager(st, webhook, cfg.SyncKey, opts...)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	sched := worker.New(mgr, cfg, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	logger.Info("worker started", "key", mgr.Key(), "schedule", cfg.SyncSchedule)

	<-ctx.Done()
	<-sched.Stop().Done()
	logger.Info("worker stopped")
}
