package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

// BillingHandler serves the `/v1/billing/*` read endpoints (spec.md §6).
type BillingHandler struct {
	usage    *repository.UsageRepository
	invoices *repository.InvoiceRepository
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(usage *repository.UsageRepository, invoices *repository.InvoiceRepository) *BillingHandler {
	return &BillingHandler{usage: usage, invoices: invoices}
}

// Usage handles GET /v1/billing/usage?month=YYYY-MM, defaulting to the
// current UTC month when omitted.
func (h *BillingHandler) Usage(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	month := c.Query("month")
	if month == "" {
		month = services.MonthKey(time.Now())
	}

	usage, err := h.usage.MonthlyUsage(c.Request.Context(), tenant.ID, month)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to load usage"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"month": month,
		"usage": gin.H{
			"challenge": usage["challenge"],
			"verify":    usage["verify"],
		},
	})
}

type invoiceDTO struct {
	ID          string `json:"id"`
	MonthKey    string `json:"monthKey"`
	AmountCents int64  `json:"amountCents"`
	Status      string `json:"status"`
}

// Invoices handles GET /v1/billing/invoices.
func (h *BillingHandler) Invoices(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	invoices, err := h.invoices.ListByTenant(c.Request.Context(), tenant.ID)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to load invoices"))
		return
	}

	dtos := make([]invoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = invoiceDTO{ID: inv.ID, MonthKey: inv.MonthKey, AmountCents: inv.AmountCents, Status: inv.Status}
	}

	c.JSON(http.StatusOK, gin.H{"invoices": dtos})
}
