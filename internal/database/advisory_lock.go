package database

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// TenantLockKey derives the 64-bit advisory lock key for a tenant id
// (§4.7: "acquire a per-tenant advisory lock (64-bit hash of
// tenantId)"). FNV-1a gives a stable, collision-resistant-enough hash
// without a round-trip to Postgres' own hashtext().
func TenantLockKey(tenantID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tenantID))
	return int64(h.Sum64())
}

// WithTenantAdvisoryLock runs fn inside a transaction holding the
// tenant's advisory lock for the transaction's lifetime
// (pg_advisory_xact_lock releases automatically on commit/rollback),
// serializing concurrent quota debits for the same tenant across
// processes (§4.7/§5).
func WithTenantAdvisoryLock(ctx context.Context, db *DB, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key := TenantLockKey(tenantID)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("database: acquire advisory lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: commit tx: %w", err)
	}
	return nil
}
