package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/database"
)

// UsageSummer is the subset of UsageRepository the quota engine needs.
type UsageSummer interface {
	SumUnitsForUpdate(ctx context.Context, tx pgx.Tx, tenantID, monthKey, kind string) (int64, error)
	InsertUnit(ctx context.Context, tx pgx.Tx, tenantID, monthKey, kind string) error
}

// DebitResult is the outcome of a quota debit attempt (spec.md §4.7).
type DebitResult struct {
	OK        bool
	MonthKey  string
	Used      int64 // pre-debit usage, populated on both success and failure
	UsedAfter int64 // post-debit usage, populated only when OK
	Quota     int64
}

// QuotaService enforces the per-tenant-per-month, charge-on-success
// quota contract (spec.md §4.7, C8).
type QuotaService struct {
	db    *database.DB
	usage UsageSummer
	now   func() time.Time
}

// NewQuotaService creates a new QuotaService. now defaults to time.Now.
func NewQuotaService(db *database.DB, usage UsageSummer, now func() time.Time) *QuotaService {
	if now == nil {
		now = time.Now
	}
	return &QuotaService{db: db, usage: usage, now: now}
}

// MonthKey returns the UTC YYYY-MM bucket for t.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Debit attempts to charge one unit of kind against tenantID's
// quotaPerMonth for the current UTC month, serialized per-tenant via a
// Postgres advisory lock (spec.md §4.7 steps 1-5). Quota exhaustion is
// reported as {ok:false} rather than an error — callers translate that
// into quota_exceeded (402).
func (s *QuotaService) Debit(ctx context.Context, tenantID, kind string, quotaPerMonth int64) (DebitResult, error) {
	monthKey := MonthKey(s.now())
	result := DebitResult{MonthKey: monthKey, Quota: quotaPerMonth}

	err := database.WithTenantAdvisoryLock(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		used, err := s.usage.SumUnitsForUpdate(ctx, tx, tenantID, monthKey, kind)
		if err != nil {
			return fmt.Errorf("services: sum usage for debit: %w", err)
		}
		result.Used = used

		if used+1 > quotaPerMonth {
			result.OK = false
			return nil
		}

		if err := s.usage.InsertUnit(ctx, tx, tenantID, monthKey, kind); err != nil {
			return fmt.Errorf("services: insert usage unit: %w", err)
		}
		result.OK = true
		result.UsedAfter = used + 1
		return nil
	})
	if err != nil {
		return DebitResult{}, err
	}
	return result, nil
}
