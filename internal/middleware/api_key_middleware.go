// Package middleware holds Gin middleware wiring services into the
// HTTP request lifecycle.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services/authn"
)

// TenantContextKey is the Gin context key holding the authenticated tenant.
const TenantContextKey = "pbi.tenant"

// APIKeyAuth authenticates every non-OPTIONS request via its bearer
// token and stores the resolved tenant in the Gin context.
func APIKeyAuth(a *authn.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		tenant, err := a.Authenticate(c.Request.Context(), raw)
		if err != nil {
			apperr.Respond(c, err)
			c.Abort()
			return
		}

		c.Set(TenantContextKey, tenant)
		c.Next()
	}
}

// RequireScope aborts the request with insufficient_scope unless the
// authenticated tenant carries scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := TenantFromContext(c)
		if tenant == nil {
			apperr.Respond(c, apperr.New(apperr.KindMissingAPIKey, "no authenticated tenant"))
			c.Abort()
			return
		}
		if err := authn.RequireScope(tenant, scope); err != nil {
			apperr.Respond(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// TenantFromContext retrieves the tenant stored by APIKeyAuth, or nil.
func TenantFromContext(c *gin.Context) *models.Tenant {
	v, ok := c.Get(TenantContextKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*models.Tenant)
	return tenant
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
