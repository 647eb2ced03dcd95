package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
)

type fakeTenantLookup struct {
	byHash map[string]*models.Tenant
}

func (f *fakeTenantLookup) GetByKeyHash(ctx context.Context, keyHash string) (*models.Tenant, error) {
	t, ok := f.byHash[keyHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func TestAuthenticate_EmptyTokenIsMissingAPIKey(t *testing.T) {
	a := NewAuthenticator(&fakeTenantLookup{byHash: map[string]*models.Tenant{}})
	_, err := a.Authenticate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingAPIKey))
}

func TestAuthenticate_UnknownKeyIsInvalid(t *testing.T) {
	a := NewAuthenticator(&fakeTenantLookup{byHash: map[string]*models.Tenant{}})
	_, err := a.Authenticate(context.Background(), "sk_live_unknown")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidAPIKey))
}

func TestAuthenticate_InactiveTenantIsInvalid(t *testing.T) {
	raw := "sk_live_inactive"
	hash := pbicrypto.SHA256Hex([]byte(raw))
	lookup := &fakeTenantLookup{byHash: map[string]*models.Tenant{
		hash: {ID: "t1", Active: false},
	}}
	a := NewAuthenticator(lookup)
	_, err := a.Authenticate(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidAPIKey))
}

func TestAuthenticate_ActiveTenantSucceeds(t *testing.T) {
	raw := "sk_live_active"
	hash := pbicrypto.SHA256Hex([]byte(raw))
	lookup := &fakeTenantLookup{byHash: map[string]*models.Tenant{
		hash: {ID: "t1", Active: true},
	}}
	a := NewAuthenticator(lookup)
	tenant, err := a.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID)
}

func TestRequireScope_NilScopesGrantsAll(t *testing.T) {
	tenant := &models.Tenant{Scopes: nil}
	assert.NoError(t, RequireScope(tenant, "export:read"))
}

func TestRequireScope_MissingScopeIsInsufficient(t *testing.T) {
	tenant := &models.Tenant{Scopes: []string{"billing:read"}}
	err := RequireScope(tenant, "export:read")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientScope))
}

func TestRequireScope_PresentScopeSucceeds(t *testing.T) {
	tenant := &models.Tenant{Scopes: []string{"export:read"}}
	assert.NoError(t, RequireScope(tenant, "export:read"))
}
