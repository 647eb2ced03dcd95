// Command api runs the PBI attestation HTTP service (spec.md §6).
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/kojibai/pbi-enterprise-api-sub002/config"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/cache"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/database"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/handlers"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/obs"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/policy"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services/authn"
)

func main() {
	cfg, err := config.Load(func() error { return godotenv.Load() })
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger("pbi-api", obs.Level(cfg.Server.LogLevel))
	logger.Info("starting pbi-api", map[string]interface{}{"environment": cfg.Server.Environment, "port": cfg.Server.Port})

	if err := obs.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry init failed", map[string]interface{}{"error": err.Error()})
	}
	defer obs.FlushSentry(2 * time.Second)
	apperr.ReportFunc = func(c *gin.Context, err *apperr.Error) {
		obs.CaptureError(err, map[string]string{"path": c.FullPath()})
	}

	ctx := context.Background()

	db, err := database.NewDB(ctx, database.DefaultPoolConfig(cfg.Database.GetDatabaseURL()))
	if err != nil {
		logger.Fatal("failed to connect to database", err, nil)
	}
	defer db.Close()
	if err := database.Bootstrap(ctx, db); err != nil {
		logger.Fatal("failed to bootstrap schema", err, nil)
	}

	var redisClient *cache.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewClient(ctx, cache.Config{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", map[string]interface{}{"error": err.Error()})
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	tenantRepo := repository.NewTenantRepository(db.Pool)
	challengeRepo := repository.NewChallengeRepository(db.Pool)
	receiptRepo := repository.NewReceiptRepository(db.Pool)
	usageRepo := repository.NewUsageRepository(db.Pool)
	webhookRepo := repository.NewWebhookRepository(db.Pool)
	invoiceRepo := repository.NewInvoiceRepository(db.Pool)

	authenticator := authn.NewAuthenticator(tenantRepo)

	challengeSvc := services.NewChallengeService(challengeRepo, nil)
	quotaSvc := services.NewQuotaService(db, usageRepo, nil)
	receiptSvc := services.NewReceiptService(receiptRepo, []byte(cfg.PBI.ReceiptSecret), nil)

	webhookKey, err := base64.StdEncoding.DecodeString(cfg.Webhook.SecretKeyBase64)
	if err != nil || len(webhookKey) != 32 {
		logger.Fatal("WEBHOOK_SECRET_KEY must be 32 bytes, base64-encoded", err, nil)
	}

	webhookSvc := services.NewWebhookService(webhookRepo, webhookRepo, webhookRepo, webhookRepo, webhookRepo, services.WebhookConfig{
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BaseBackoff:    time.Duration(cfg.Webhook.BaseBackoff) * time.Second,
		MaxBackoff:     time.Duration(cfg.Webhook.MaxBackoff) * time.Second,
		RequestTimeout: time.Duration(cfg.Webhook.RequestTimeoutSeconds) * time.Second,
		SecretKey32:    webhookKey,
	}, nil).WithPool(db.Pool)
	if redisClient != nil {
		webhookSvc = webhookSvc.WithCache(redisClient)
	}

	var pol *policy.Document
	if cfg.PBI.PolicyPath != "" {
		pol, err = policy.Load(cfg.PBI.PolicyPath)
		if err != nil {
			logger.Fatal("failed to load policy document", err, nil)
		}
	}
	fallbackOrigins := make(map[string]bool, len(cfg.PBI.AllowedOrigins))
	for _, o := range cfg.PBI.AllowedOrigins {
		fallbackOrigins[o] = true
	}

	attestationSvc := services.NewAttestationService(challengeRepo, challengeSvc, quotaSvc, receiptSvc, webhookSvc, pol, fallbackOrigins, nil)
	secretGuardSvc := services.NewSecretGuardService(receiptRepo, webhookKey, nil)

	exportKey, err := pbicrypto.ParseEd25519PrivateKeyPEM([]byte(cfg.Export.SigningPrivateKeyPem))
	if err != nil {
		logger.Fatal("failed to parse export signing key", err, nil)
	}

	var policySnapshot interface{}
	if pol != nil {
		policySnapshot = pol
	}

	deps := handlers.Deps{
		Authenticator: authenticator,
		Limiter:       middleware.NewInMemoryRateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second),
		Logger:        logger,
		Challenge:     handlers.NewChallengeHandler(attestationSvc),
		Verify:        handlers.NewVerifyHandler(attestationSvc),
		Receipts:      handlers.NewReceiptsHandler(receiptRepo, secretGuardSvc, exportKey, policySnapshot, nil),
		Billing:       handlers.NewBillingHandler(usageRepo, invoiceRepo),
		Webhooks:      handlers.NewWebhooksHandler(webhookRepo, secretGuardSvc),
		Policy:        handlers.NewPolicyHandler(pol),
	}

	gin.SetMode(cfg.Server.GinMode)
	router := handlers.NewRouter(deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", err, nil)
	}
	logger.Info("shutdown complete", nil)
}
