package handlers

import (
	requestid "github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/metrics"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/obs"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services/authn"
)

// ScopeExport/ScopeBilling name the scopes enforced by middleware.RequireScope.
const (
	ScopeExport  = "pbi.export"
	ScopeBilling = "pbi.billing"
)

// Deps bundles every handler the router wires up, assembled by cmd/api/main.go.
type Deps struct {
	Authenticator *authn.Authenticator
	Limiter       *middleware.InMemoryRateLimiter
	Logger        *obs.Logger

	Challenge *ChallengeHandler
	Verify    *VerifyHandler
	Receipts  *ReceiptsHandler
	Billing   *BillingHandler
	Webhooks  *WebhooksHandler
	Policy    *PolicyHandler
}

// NewRouter builds the full Gin engine for spec.md §6's HTTP surface.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(requestid.New())
	r.Use(apperr.Recovery())
	r.Use(obs.GinLogger(d.Logger))
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.APIKeyAuth(d.Authenticator))
	v1.Use(middleware.RateLimit(d.Limiter))
	{
		pbi := v1.Group("/pbi")
		{
			pbi.POST("/challenge", d.Challenge.Mint)
			pbi.POST("/verify", d.Verify.Verify)
			pbi.GET("/receipts", d.Receipts.List)
			pbi.GET("/receipts/export", middleware.RequireScope(ScopeExport), d.Receipts.Export)
			pbi.POST("/receipts/verify", d.Receipts.VerifyReceipt)
		}

		billing := v1.Group("/billing")
		billing.Use(middleware.RequireScope(ScopeBilling))
		{
			billing.GET("/usage", d.Billing.Usage)
			billing.GET("/invoices", d.Billing.Invoices)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/endpoints", d.Webhooks.Create)
			webhooks.GET("/endpoints", d.Webhooks.List)
			webhooks.DELETE("/endpoints/:id", d.Webhooks.Delete)
			webhooks.POST("/endpoints/:id/rotate-secret", d.Webhooks.RotateSecret)
			webhooks.GET("/deliveries", d.Webhooks.DeadLetters)
			webhooks.GET("/deliveries/:id", d.Webhooks.Status)
		}

		v1.GET("/policy", d.Policy.Get)
	}

	return r
}
