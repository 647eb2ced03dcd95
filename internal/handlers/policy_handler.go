package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/policy"
)

// PolicyHandler serves GET /v1/policy (SPEC_FULL.md's supplemented
// policy-introspection endpoint, C12): callers integrating against a
// tenant's purpose/origin allowlists can fetch the active document
// instead of hardcoding it out of band.
type PolicyHandler struct {
	doc *policy.Document // nil when no policy file is configured
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(doc *policy.Document) *PolicyHandler {
	return &PolicyHandler{doc: doc}
}

// Get handles GET /v1/policy.
func (h *PolicyHandler) Get(c *gin.Context) {
	if h.doc == nil {
		apperr.Respond(c, apperr.New(apperr.KindNotFound, "no policy document is configured"))
		return
	}
	c.JSON(http.StatusOK, h.doc)
}
