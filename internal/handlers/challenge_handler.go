package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/metrics"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

// ChallengeHandler serves POST /v1/pbi/challenge (spec.md §6).
type ChallengeHandler struct {
	attestation *services.AttestationService
}

// NewChallengeHandler creates a new ChallengeHandler.
func NewChallengeHandler(attestation *services.AttestationService) *ChallengeHandler {
	return &ChallengeHandler{attestation: attestation}
}

type mintChallengeRequest struct {
	Purpose       string `json:"purpose"`
	ActionHashHex string `json:"actionHashHex"`
	TTLSeconds    int    `json:"ttlSeconds"`
}

type challengeDTO struct {
	ID            string `json:"id"`
	ChallengeB64  string `json:"challengeB64Url"`
	Purpose       string `json:"purpose"`
	ActionHashHex string `json:"actionHashHex"`
	ExpiresAtIso  string `json:"expiresAtIso"`
}

func toChallengeDTO(c *models.Challenge) challengeDTO {
	return challengeDTO{
		ID:            c.ID,
		ChallengeB64:  c.NonceB64URL,
		Purpose:       c.Purpose,
		ActionHashHex: c.ActionHashHex,
		ExpiresAtIso:  c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Mint handles POST /v1/pbi/challenge: debits one challenge-quota unit
// and mints a fresh one-shot nonce for the caller's purpose/action pair.
func (h *ChallengeHandler) Mint(c *gin.Context) {
	var req mintChallengeRequest
	if !bindJSON(c, &req) {
		return
	}

	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	outcome, err := h.attestation.MintChallenge(c.Request.Context(), tenant, req.Purpose, req.ActionHashHex, req.TTLSeconds)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	metrics.ChallengesMinted.WithLabelValues(tenant.ID, outcome.Challenge.Purpose).Inc()

	c.JSON(http.StatusOK, gin.H{
		"challenge": toChallengeDTO(outcome.Challenge),
		"metering":  outcome.Metering,
	})
}
