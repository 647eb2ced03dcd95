package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

// ErrNotFound is returned by repository lookups that found no row.
var ErrNotFound = errors.New("repository: not found")

// TenantRepository handles database operations for API-key-backed tenants.
type TenantRepository struct {
	db *pgxpool.Pool
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByKeyHash looks up a tenant by its SHA-256 API key hash (§4.2).
func (r *TenantRepository) GetByKeyHash(ctx context.Context, keyHash string) (*models.Tenant, error) {
	query := `
		SELECT id, label, key_hash, plan, monthly_quota, active, scopes, created_at
		FROM api_keys
		WHERE key_hash = $1
	`
	var t models.Tenant
	var scopes pq.StringArray
	err := r.db.QueryRow(ctx, query, keyHash).Scan(
		&t.ID, &t.Label, &t.KeyHash, &t.Plan, &t.MonthlyQuota, &t.Active, &scopes, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get tenant by key hash: %w", err)
	}
	if len(scopes) > 0 {
		t.Scopes = []string(scopes)
	}
	return &t, nil
}

// GetByID loads a tenant by id.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, label, key_hash, plan, monthly_quota, active, scopes, created_at
		FROM api_keys
		WHERE id = $1
	`
	var t models.Tenant
	var scopes pq.StringArray
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Label, &t.KeyHash, &t.Plan, &t.MonthlyQuota, &t.Active, &scopes, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get tenant by id: %w", err)
	}
	if len(scopes) > 0 {
		t.Scopes = []string(scopes)
	}
	return &t, nil
}

// Create inserts a new tenant, defaulting to plan=pending/quota=0 per
// spec.md §9's open question — new tenants 402 until a downstream
// provisioning step upgrades their plan.
func (r *TenantRepository) Create(ctx context.Context, label, keyHash string, scopes []string) (*models.Tenant, error) {
	query := `
		INSERT INTO api_keys (label, key_hash, plan, monthly_quota, active, scopes)
		VALUES ($1, $2, 'pending', 0, true, $3)
		RETURNING id, label, key_hash, plan, monthly_quota, active, scopes, created_at
	`
	var t models.Tenant
	var returnedScopes pq.StringArray
	var scopesArg interface{}
	if scopes != nil {
		scopesArg = pq.Array(scopes)
	}
	err := r.db.QueryRow(ctx, query, label, keyHash, scopesArg).Scan(
		&t.ID, &t.Label, &t.KeyHash, &t.Plan, &t.MonthlyQuota, &t.Active, &returnedScopes, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: create tenant: %w", err)
	}
	if len(returnedScopes) > 0 {
		t.Scopes = []string(returnedScopes)
	}
	return &t, nil
}
