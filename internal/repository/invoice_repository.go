package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

// InvoiceRepository handles read access to per-tenant invoices. Invoice
// generation itself is an out-of-scope external collaborator
// (spec.md §1's Stripe subscription sync); this repository only
// serves GET /v1/billing/invoices over rows a separate billing
// process would populate.
type InvoiceRepository struct {
	db *pgxpool.Pool
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// ListByTenant returns a tenant's invoices, most recent month first.
func (r *InvoiceRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Invoice, error) {
	query := `
		SELECT id, tenant_id, month_key, amount_cents, status, created_at
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY month_key DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("repository: list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.MonthKey, &inv.AmountCents, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan invoice row: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate invoice rows: %w", err)
	}
	return invoices, nil
}
