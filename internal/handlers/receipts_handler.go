package handlers

import (
	"crypto/ed25519"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/export"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/query"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

// ReceiptsHandler serves the three `/v1/pbi/receipts*` endpoints
// (spec.md §6, C7/C10/C13).
type ReceiptsHandler struct {
	receipts    *repository.ReceiptRepository
	secretGuard *services.SecretGuardService
	signingKey  ed25519.PrivateKey
	policyJSON  interface{} // marshaled into the export pack's policy.snapshot.json
	now         func() time.Time
}

// NewReceiptsHandler creates a new ReceiptsHandler. policySnapshot may
// be nil if no policy document is configured.
func NewReceiptsHandler(receipts *repository.ReceiptRepository, secretGuard *services.SecretGuardService, signingKey ed25519.PrivateKey, policySnapshot interface{}, now func() time.Time) *ReceiptsHandler {
	if now == nil {
		now = time.Now
	}
	return &ReceiptsHandler{receipts: receipts, secretGuard: secretGuard, signingKey: signingKey, policyJSON: policySnapshot, now: now}
}

type receiptDTO struct {
	ID             string `json:"id"`
	ChallengeID    string `json:"challengeId"`
	Decision       string `json:"decision"`
	ReceiptHashHex string `json:"receiptHashHex"`
	Purpose        string `json:"purpose"`
	ActionHashHex  string `json:"actionHashHex"`
	CreatedAtIso   string `json:"createdAtIso"`
}

func toReceiptDTO(rc models.Receipt, ch models.Challenge) receiptDTO {
	return receiptDTO{
		ID:             rc.ID,
		ChallengeID:    rc.ChallengeID,
		Decision:       rc.Decision,
		ReceiptHashHex: rc.ReceiptHashHex,
		Purpose:        ch.Purpose,
		ActionHashHex:  ch.ActionHashHex,
		CreatedAtIso:   rc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// parseFilter builds a query.Filter from the list/export endpoints'
// shared query-string parameters.
func parseFilter(c *gin.Context, tenantID string) (query.Filter, error) {
	f := query.Filter{
		TenantID:      tenantID,
		ActionHashHex: c.Query("actionHashHex"),
		ChallengeID:   c.Query("challengeId"),
		Purpose:       c.Query("purpose"),
		Decision:      c.Query("decision"),
		Order:         query.Order(c.DefaultQuery("order", string(query.OrderDesc))),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return query.Filter{}, apperr.FieldError("limit", "must be a positive integer")
		}
		f.Limit = limit
	}
	if cursorStr := c.Query("cursor"); cursorStr != "" {
		cur, err := query.DecodeCursor(cursorStr)
		if err != nil {
			return query.Filter{}, apperr.FieldError("cursor", "malformed pagination cursor")
		}
		f.Cursor = &cur
	}
	if after := c.Query("createdAfter"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return query.Filter{}, apperr.FieldError("createdAfter", "must be RFC3339")
		}
		f.CreatedAfter = &t
	}
	if before := c.Query("createdBefore"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return query.Filter{}, apperr.FieldError("createdBefore", "must be RFC3339")
		}
		f.CreatedBefore = &t
	}
	return f, nil
}

// List handles GET /v1/pbi/receipts (spec.md §4.6/§6).
func (h *ReceiptsHandler) List(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	filter, err := parseFilter(c, tenant.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	plan, err := query.Build(filter)
	if err != nil {
		apperr.Respond(c, apperr.FieldError("filter", err.Error()))
		return
	}

	receiptRows, challengeRows, err := h.receipts.Query(c.Request.Context(), plan.SQL, plan.Args)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to query receipts"))
		return
	}

	dtos := make([]receiptDTO, len(receiptRows))
	for i := range receiptRows {
		dtos[i] = toReceiptDTO(receiptRows[i], challengeRows[i])
	}

	var nextCursor string
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(receiptRows) == limit {
		last := receiptRows[len(receiptRows)-1]
		if encoded, err := query.EncodeCursor(query.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); err == nil {
			nextCursor = encoded
		}
	}

	c.JSON(http.StatusOK, gin.H{"receipts": dtos, "nextCursor": nextCursor})
}

// Export handles GET /v1/pbi/receipts/export, requiring scope
// pbi.export (enforced by middleware.RequireScope on the route), and
// returns a signed offline export pack (spec.md §4.8/§6).
func (h *ReceiptsHandler) Export(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	filter, err := parseFilter(c, tenant.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	filter.Limit = 10000 // export is a bulk operation, not paginated like List

	plan, err := query.Build(filter)
	if err != nil {
		apperr.Respond(c, apperr.FieldError("filter", err.Error()))
		return
	}

	receiptRows, challengeRows, err := h.receipts.Query(c.Request.Context(), plan.SQL, plan.Args)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to query receipts for export"))
		return
	}

	rows := make([]map[string]interface{}, len(receiptRows))
	for i := range receiptRows {
		rows[i] = map[string]interface{}{
			"receipt":   toReceiptDTO(receiptRows[i], challengeRows[i]),
			"challenge": toChallengeDTO(&challengeRows[i]),
		}
	}

	filters := map[string]string{
		"purpose":       filter.Purpose,
		"decision":      filter.Decision,
		"challengeId":   filter.ChallengeID,
		"actionHashHex": filter.ActionHashHex,
	}

	pack, err := export.Build(export.BuildInput{
		ReceiptRows:    rows,
		Filters:        filters,
		PolicySnapshot: h.policyJSON,
		SigningKey:     h.signingKey,
		Now:            h.now(),
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "failed to build export pack"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receiptsNdjson": string(pack.ReceiptsNDJSON),
		"policySnapshot": string(pack.PolicySnapshot),
		"manifest":       pack.Manifest,
		"signature":      pack.Signature,
	})
}

type verifyReceiptRequest struct {
	ReceiptID      string `json:"receiptId"`
	ReceiptHashHex string `json:"receiptHashHex"`
}

// VerifyReceipt handles POST /v1/pbi/receipts/verify (spec.md §6, C13).
func (h *ReceiptsHandler) VerifyReceipt(c *gin.Context) {
	var req verifyReceiptRequest
	if !bindJSON(c, &req) {
		return
	}
	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	receipt, ok, err := h.secretGuard.VerifyReceipt(c.Request.Context(), tenant.ID, req.ReceiptID, req.ReceiptHashHex)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok": ok,
		"receipt": gin.H{
			"id":             receipt.ID,
			"challengeId":    receipt.ChallengeID,
			"decision":       receipt.Decision,
			"receiptHashHex": receipt.ReceiptHashHex,
			"createdAtIso":   receipt.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}
