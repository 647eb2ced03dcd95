// Package handlers wires the HTTP surface of spec.md §6 onto the
// service layer: request decoding, tenant/scope checks already run by
// internal/middleware, and response envelopes.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
)

// bindJSON decodes the request body, translating a malformed/missing
// body into the closed validation error kind rather than gin's raw
// binding error text.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		apperr.Respond(c, apperr.FieldError("body", "request body is missing or malformed JSON"))
		return false
	}
	return true
}
