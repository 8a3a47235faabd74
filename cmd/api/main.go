package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "jobsync/internal/api"
	"jobsync/internal/archive"
	"jobsync/internal/config"
	"jobsync/internal/forward"
	"jobsync/internal/ingest"
	"jobsync/internal/logging"
	"jobsync/internal/ratelimit"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.APIKey == "" {
		logger.Warn("API_KEY is empty; every /api/jobs request will be rejected")
	}

	st, err := store.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var (
		limiter api.Limiter
		opts    = []syncer.Option{syncer.WithLogger(logger)}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
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
	proc := ingest.NewBatchProcessor(ingest.NewEngine(st), webhook, cfg.BatchMaxSize, logger)
	mgr := syncer.NewManager(st, webhook, cfg.SyncKey, opts...)

	server := api.New(cfg, st, proc, mgr, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "webhook", webhook.Enabled(), "redis", cfg.RedisAddr != "")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api stopped")
}
