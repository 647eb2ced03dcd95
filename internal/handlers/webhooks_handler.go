package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

// WebhooksHandler serves the `/v1/webhooks/*` admin endpoints
// (SPEC_FULL.md's supplemented webhook-management surface, C11/C13).
type WebhooksHandler struct {
	endpoints   *repository.WebhookRepository
	secretGuard *services.SecretGuardService
}

// NewWebhooksHandler creates a new WebhooksHandler.
func NewWebhooksHandler(endpoints *repository.WebhookRepository, secretGuard *services.SecretGuardService) *WebhooksHandler {
	return &WebhooksHandler{endpoints: endpoints, secretGuard: secretGuard}
}

type createEndpointRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type endpointDTO struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Enabled      bool     `json:"enabled"`
	CreatedAtIso string   `json:"createdAtIso"`
}

func toEndpointDTO(e models.WebhookEndpoint) endpointDTO {
	return endpointDTO{ID: e.ID, URL: e.URL, Events: e.Events, Enabled: e.Enabled, CreatedAtIso: e.CreatedAt.UTC().Format(time.RFC3339)}
}

// Create handles POST /v1/webhooks/endpoints, returning the raw secret
// exactly once (spec.md §3's "Webhook endpoint" invariant).
func (h *WebhooksHandler) Create(c *gin.Context) {
	var req createEndpointRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.URL == "" {
		apperr.Respond(c, apperr.FieldError("url", "url is required"))
		return
	}
	if len(req.Events) == 0 {
		apperr.Respond(c, apperr.FieldError("events", "at least one event is required"))
		return
	}

	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	endpoint, raw, err := h.secretGuard.NewWebhookEndpoint(tenant.ID, req.URL, req.Events)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := h.endpoints.CreateEndpoint(c.Request.Context(), endpoint); err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to persist webhook endpoint"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"endpoint": toEndpointDTO(*endpoint),
		"secret":   raw,
	})
}

// List handles GET /v1/webhooks/endpoints.
func (h *WebhooksHandler) List(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	endpoints, err := h.endpoints.ListEndpoints(c.Request.Context(), tenant.ID)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to list webhook endpoints"))
		return
	}

	dtos := make([]endpointDTO, len(endpoints))
	for i, e := range endpoints {
		dtos[i] = toEndpointDTO(e)
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": dtos})
}

// Delete handles DELETE /v1/webhooks/endpoints/:id.
func (h *WebhooksHandler) Delete(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	deleted, err := h.endpoints.DeleteEndpoint(c.Request.Context(), tenant.ID, c.Param("id"))
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to delete webhook endpoint"))
		return
	}
	if !deleted {
		apperr.Respond(c, apperr.New(apperr.KindNotFound, "webhook endpoint not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateSecret handles POST /v1/webhooks/endpoints/:id/rotate-secret,
// returning the new raw secret exactly once.
func (h *WebhooksHandler) RotateSecret(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	endpoint, err := h.endpoints.GetEndpoint(c.Request.Context(), tenant.ID, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		apperr.Respond(c, apperr.New(apperr.KindNotFound, "webhook endpoint not found"))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to load webhook endpoint"))
		return
	}

	raw, err := h.secretGuard.RotateEndpointSecret(endpoint)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := h.endpoints.UpdateEndpointSecret(c.Request.Context(), tenant.ID, endpoint); err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to persist rotated secret"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": toEndpointDTO(*endpoint), "secret": raw})
}

func toDeliveryDTO(d models.WebhookDelivery) deliveryDTO {
	return deliveryDTO{
		ID: d.ID, EndpointID: d.EndpointID, Event: d.Event, ReceiptID: d.ReceiptID,
		Attempts: d.Attempts, LastError: d.LastError,
		NextAttemptAt: d.NextAttemptAt.UTC().Format(time.RFC3339),
	}
}

// Status handles GET /v1/webhooks/deliveries/:id, a per-delivery
// status lookup (SPEC_FULL.md supplemented feature).
func (h *WebhooksHandler) Status(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	delivery, err := h.endpoints.GetDelivery(c.Request.Context(), tenant.ID, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		apperr.Respond(c, apperr.New(apperr.KindNotFound, "webhook delivery not found"))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to load webhook delivery"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivery": toDeliveryDTO(*delivery), "status": delivery.Status})
}

type deliveryDTO struct {
	ID            string `json:"id"`
	EndpointID    string `json:"endpointId"`
	Event         string `json:"event"`
	ReceiptID     string `json:"receiptId"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"lastError"`
	NextAttemptAt string `json:"nextAttemptAtIso"`
}

// DeadLetters handles GET /v1/webhooks/deliveries, the dead-letter
// visibility endpoint (SPEC_FULL.md supplemented feature): it lists up
// to 100 of the tenant's failed deliveries and reads no query parameters.
func (h *WebhooksHandler) DeadLetters(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	deliveries, err := h.endpoints.ListFailed(c.Request.Context(), tenant.ID, 100)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to list failed deliveries"))
		return
	}

	dtos := make([]deliveryDTO, len(deliveries))
	for i, d := range deliveries {
		dtos[i] = toDeliveryDTO(d)
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": dtos})
}
