package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

// ChallengeRepository handles database operations for PBI challenges (C4).
type ChallengeRepository struct {
	db *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Insert persists a freshly minted challenge (§4.3 mint).
func (r *ChallengeRepository) Insert(ctx context.Context, c *models.Challenge) error {
	query := `
		INSERT INTO pbi_challenges (id, tenant_id, nonce_b64url, purpose, action_hash_hex, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.TenantID, c.NonceB64URL, c.Purpose, c.ActionHashHex, c.ExpiresAt, c.UsedAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: insert challenge: %w", err)
	}
	return nil
}

// GetByID loads a challenge by id (§4.3 load).
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	query := `
		SELECT id, tenant_id, nonce_b64url, purpose, action_hash_hex, expires_at, used_at, created_at
		FROM pbi_challenges
		WHERE id = $1
	`
	var c models.Challenge
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.NonceB64URL, &c.Purpose, &c.ActionHashHex, &c.ExpiresAt, &c.UsedAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get challenge by id: %w", err)
	}
	return &c, nil
}

// MarkUsed sets usedAt=now only if currently null, returning whether
// the row was actually transitioned. A false result with a nil error
// means the challenge was already consumed — the caller treats that as
// REPLAYED rather than re-deriving state from a prior read, per
// spec.md §9's strengthened single-statement CAS.
func (r *ChallengeRepository) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE pbi_challenges
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, now).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: mark challenge used: %w", err)
	}
	return true, nil
}
