// Package authn implements API-key authentication (spec.md §4.2, C3):
// bearer-token to tenant lookup via a SHA-256 keyed index, plus the
// scope guard used by export/billing endpoints.
package authn

import (
	"context"
	"errors"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
)

// TenantLookup is the subset of TenantRepository authn needs, kept as
// an interface so handlers can be tested without a live database.
type TenantLookup interface {
	GetByKeyHash(ctx context.Context, keyHash string) (*models.Tenant, error)
}

// Authenticator resolves a raw bearer token to its tenant record.
type Authenticator struct {
	tenants TenantLookup
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(tenants TenantLookup) *Authenticator {
	return &Authenticator{tenants: tenants}
}

// Authenticate computes keyHash = SHA-256(raw) and loads the matching
// active tenant (spec.md §4.2). An empty raw token is the caller's
// signal for "no Authorization header" and maps to missing_api_key.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*models.Tenant, error) {
	if raw == "" {
		return nil, apperr.New(apperr.KindMissingAPIKey, "missing Authorization bearer token")
	}

	keyHash := pbicrypto.SHA256Hex([]byte(raw))
	tenant, err := a.tenants.GetByKeyHash(ctx, keyHash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindInvalidAPIKey, "unknown API key")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "failed to look up API key")
	}
	if !tenant.Active {
		return nil, apperr.New(apperr.KindInvalidAPIKey, "API key is not active")
	}
	return tenant, nil
}

// RequireScope returns insufficient_scope unless tenant's scope set is
// nil (all scopes granted) or contains scope.
func RequireScope(tenant *models.Tenant, scope string) error {
	if !tenant.HasScope(scope) {
		return apperr.New(apperr.KindInsufficientScope, "API key lacks required scope "+scope)
	}
	return nil
}
