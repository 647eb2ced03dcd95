package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

// ReceiptRepository handles database operations for the append-only
// receipt log (C6).
type ReceiptRepository struct {
	db *pgxpool.Pool
}

// NewReceiptRepository creates a new ReceiptRepository.
func NewReceiptRepository(db *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Insert appends a receipt. Receipts are never updated or deleted.
func (r *ReceiptRepository) Insert(ctx context.Context, rc *models.Receipt) error {
	query := `
		INSERT INTO pbi_receipts (id, tenant_id, challenge_id, decision, receipt_hash_hex, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, rc.ID, rc.TenantID, rc.ChallengeID, rc.Decision, rc.ReceiptHashHex, rc.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: insert receipt: %w", err)
	}
	return nil
}

// GetByID loads a single receipt, scoped to tenant for re-verification (C13).
func (r *ReceiptRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Receipt, error) {
	query := `
		SELECT id, tenant_id, challenge_id, decision, receipt_hash_hex, created_at
		FROM pbi_receipts
		WHERE id = $1 AND tenant_id = $2
	`
	var rc models.Receipt
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&rc.ID, &rc.TenantID, &rc.ChallengeID, &rc.Decision, &rc.ReceiptHashHex, &rc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get receipt by id: %w", err)
	}
	return &rc, nil
}

// Query runs a prepared statement built by internal/query and scans
// the resulting rows, joined with their challenge for purpose/action
// hash fields (§4.6).
func (r *ReceiptRepository) Query(ctx context.Context, sql string, args []interface{}) ([]models.Receipt, []models.Challenge, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("repository: query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	var challenges []models.Challenge
	for rows.Next() {
		var rc models.Receipt
		var c models.Challenge
		if err := rows.Scan(
			&rc.ID, &rc.TenantID, &rc.ChallengeID, &rc.Decision, &rc.ReceiptHashHex, &rc.CreatedAt,
			&c.ID, &c.TenantID, &c.NonceB64URL, &c.Purpose, &c.ActionHashHex, &c.ExpiresAt, &c.UsedAt, &c.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("repository: scan receipt row: %w", err)
		}
		receipts = append(receipts, rc)
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("repository: iterate receipt rows: %w", err)
	}
	return receipts, challenges, nil
}
