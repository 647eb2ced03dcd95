package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository handles quota/usage accounting queries (C8).
type UsageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// SumUnitsForUpdate reads SUM(units) for (tenantId, monthKey, kind)
// inside tx — callers must already hold the tenant's advisory lock
// (§4.7 step 3).
func (r *UsageRepository) SumUnitsForUpdate(ctx context.Context, tx pgx.Tx, tenantID, monthKey, kind string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(units), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND month_key = $2 AND kind = $3
	`
	var used int64
	if err := tx.QueryRow(ctx, query, tenantID, monthKey, kind).Scan(&used); err != nil {
		return 0, fmt.Errorf("repository: sum usage units: %w", err)
	}
	return used, nil
}

// InsertUnit appends a single-unit usage event inside tx (§4.7 step 5).
func (r *UsageRepository) InsertUnit(ctx context.Context, tx pgx.Tx, tenantID, monthKey, kind string) error {
	query := `
		INSERT INTO usage_events (tenant_id, month_key, kind, units)
		VALUES ($1, $2, $3, 1)
	`
	if _, err := tx.Exec(ctx, query, tenantID, monthKey, kind); err != nil {
		return fmt.Errorf("repository: insert usage event: %w", err)
	}
	return nil
}

// MonthlyUsage returns committed usage for a tenant/month, by kind —
// used by GET /v1/billing/usage (outside the advisory-lock path, since
// it's a read of already-committed data).
func (r *UsageRepository) MonthlyUsage(ctx context.Context, tenantID, monthKey string) (map[string]int64, error) {
	query := `
		SELECT kind, SUM(units)
		FROM usage_events
		WHERE tenant_id = $1 AND month_key = $2
		GROUP BY kind
	`
	rows, err := r.db.Query(ctx, query, tenantID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("repository: monthly usage: %w", err)
	}
	defer rows.Close()

	result := map[string]int64{}
	for rows.Next() {
		var kind string
		var sum int64
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, fmt.Errorf("repository: scan monthly usage row: %w", err)
		}
		result[kind] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate monthly usage rows: %w", err)
	}
	return result, nil
}
