package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/metrics"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/webauthn"
)

// VerifyHandler serves POST /v1/pbi/verify (spec.md §4.5/§6).
type VerifyHandler struct {
	attestation *services.AttestationService
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(attestation *services.AttestationService) *VerifyHandler {
	return &VerifyHandler{attestation: attestation}
}

type assertionDTO struct {
	AuthenticatorDataB64Url string `json:"authenticatorDataB64Url"`
	ClientDataJSONB64Url    string `json:"clientDataJSONB64Url"`
	SignatureB64Url         string `json:"signatureB64Url"`
	CredIDB64Url            string `json:"credIdB64Url"`
	PubKeyPem               string `json:"pubKeyPem"`
}

type verifyRequest struct {
	ChallengeID string       `json:"challengeId"`
	Assertion   assertionDTO `json:"assertion"`
}

// Verify handles POST /v1/pbi/verify, running the full state machine
// in services.AttestationService.Verify and translating its outcome
// into the response shape spec.md §4.5 specifies per failure kind —
// notably EXPIRED and REPLAYED render as bare {decision:"..."} with no
// reason or top-level ok/success key, unlike every other failure kind,
// so that mapping lives here rather than in apperr.Respond (which
// every other endpoint still relies on for its two-shape behavior).
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ChallengeID == "" {
		apperr.Respond(c, apperr.FieldError("challengeId", "challengeId is required"))
		return
	}

	tenant := middleware.TenantFromContext(c)
	if tenant == nil {
		apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
		return
	}

	bundle := webauthn.AssertionBundle{
		AuthenticatorDataB64Url: req.Assertion.AuthenticatorDataB64Url,
		ClientDataJSONB64Url:    req.Assertion.ClientDataJSONB64Url,
		SignatureB64Url:         req.Assertion.SignatureB64Url,
		CredIDB64Url:            req.Assertion.CredIDB64Url,
		PubKeyPem:               req.Assertion.PubKeyPem,
	}

	outcome, err := h.attestation.Verify(c.Request.Context(), tenant, req.ChallengeID, bundle)
	if err != nil {
		respondVerifyError(c, tenant.ID, err)
		return
	}

	metrics.VerifyDecisions.WithLabelValues(outcome.Decision, "").Inc()

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"decision":       outcome.Decision,
		"receiptId":      outcome.ReceiptID,
		"receiptHashHex": outcome.ReceiptHashHex,
		"challenge":      toChallengeDTO(outcome.Challenge),
		"metering":       outcome.Metering,
	})
}

// respondVerifyError renders err per spec.md §4.5's verify contract:
//   - EXPIRED / REPLAYED: 400, bare {decision:"..."}
//   - unknown_challenge:  404, {decision:"FAILED", reason:"unknown_challenge"}
//   - crypto reasons / purpose_mismatch: 400, {decision:"FAILED", reason:<code>}
//   - quota_exceeded:     402, {decision:"FAILED", reason:"quota_exceeded"}
//   - anything else:      falls back to apperr.Respond's generic envelope
func respondVerifyError(c *gin.Context, tenantID string, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		apperr.Respond(c, err)
		return
	}

	switch ae.Kind {
	case apperr.KindExpired:
		metrics.VerifyDecisions.WithLabelValues("EXPIRED", "").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"decision": "EXPIRED"})
		c.Abort()
		return
	case apperr.KindReplayed:
		metrics.VerifyDecisions.WithLabelValues("REPLAYED", "").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"decision": "REPLAYED"})
		c.Abort()
		return
	case apperr.KindUnknownChallenge:
		metrics.VerifyDecisions.WithLabelValues("FAILED", "unknown_challenge").Inc()
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "decision": "FAILED", "reason": "unknown_challenge"})
		c.Abort()
		return
	case apperr.KindQuotaExceeded:
		metrics.VerifyDecisions.WithLabelValues("FAILED", "quota_exceeded").Inc()
		c.JSON(http.StatusPaymentRequired, gin.H{"ok": false, "decision": "FAILED", "reason": "quota_exceeded"})
		c.Abort()
		return
	}

	if apperr.IsCryptoReason(ae.Kind) {
		metrics.VerifyDecisions.WithLabelValues("FAILED", string(ae.Kind)).Inc()
	}
	apperr.Respond(c, err)
}
