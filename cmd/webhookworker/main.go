// Command webhookworker drains the webhook delivery queue on a fixed
// tick, independent of the API process (spec.md §4.10 "Worker loop").
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kojibai/pbi-enterprise-api-sub002/config"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/cache"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/database"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/metrics"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/obs"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

func main() {
	cfg, err := config.Load(func() error { return godotenv.Load() })
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger("pbi-webhookworker", obs.Level(cfg.Server.LogLevel))
	if err := obs.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry init failed", map[string]interface{}{"error": err.Error()})
	}
	defer obs.FlushSentry(2 * time.Second)

	ctx := context.Background()
	db, err := database.NewDB(ctx, database.DefaultPoolConfig(cfg.Database.GetDatabaseURL()))
	if err != nil {
		logger.Fatal("failed to connect to database", err, nil)
	}
	defer db.Close()

	var redisClient *cache.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewClient(ctx, cache.Config{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			logger.Warn("redis unavailable, continuing without soft lease", map[string]interface{}{"error": err.Error()})
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	webhookKey, err := base64.StdEncoding.DecodeString(cfg.Webhook.SecretKeyBase64)
	if err != nil || len(webhookKey) != 32 {
		logger.Fatal("WEBHOOK_SECRET_KEY must be 32 bytes, base64-encoded", err, nil)
	}

	webhookRepo := repository.NewWebhookRepository(db.Pool)
	webhookSvc := services.NewWebhookService(webhookRepo, webhookRepo, webhookRepo, webhookRepo, webhookRepo, services.WebhookConfig{
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BaseBackoff:    time.Duration(cfg.Webhook.BaseBackoff) * time.Second,
		MaxBackoff:     time.Duration(cfg.Webhook.MaxBackoff) * time.Second,
		RequestTimeout: time.Duration(cfg.Webhook.RequestTimeoutSeconds) * time.Second,
		SecretKey32:    webhookKey,
	}, nil)
	if redisClient != nil {
		webhookSvc = webhookSvc.WithCache(redisClient)
	}

	logger.Info("webhook worker started", map[string]interface{}{
		"tickSeconds": cfg.Webhook.WorkerTickSeconds,
		"batchSize":   cfg.Webhook.WorkerBatchSize,
	})

	ticker := time.NewTicker(time.Duration(cfg.Webhook.WorkerTickSeconds) * time.Second)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-stop:
			logger.Info("webhook worker shutting down", nil)
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Webhook.WorkerTickSeconds)*time.Second)
			attempted, err := webhookSvc.ProcessBatch(tickCtx, cfg.Webhook.WorkerBatchSize)
			cancel()
			if err != nil {
				logger.Error("webhook batch failed", err, nil)
				obs.CaptureError(err, map[string]string{"component": "webhookworker"})
				continue
			}
			if attempted > 0 {
				logger.Info("webhook batch processed", map[string]interface{}{"attempted": attempted})
			}
			if pending, err := webhookRepo.CountPending(ctx); err == nil {
				metrics.WebhookQueueDepth.Set(float64(pending))
			}
		}
	}
}
