package database

import (
	"context"
	"fmt"
)

// statements bootstraps the seven tables named in spec.md §6, with the
// secondary indices the query planner and quota engine depend on. It
// is idempotent (CREATE ... IF NOT EXISTS) so it can run on every
// process start, matching the teacher's "RunMigrations at boot" idiom
// without requiring a separate migration-file toolchain.
var statements = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		label TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'pending',
		monthly_quota BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT true,
		scopes TEXT[],
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS pbi_challenges (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL REFERENCES api_keys(id),
		nonce_b64url TEXT NOT NULL,
		purpose TEXT NOT NULL,
		action_hash_hex CHAR(64) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pbi_challenges_tenant_expires
		ON pbi_challenges (tenant_id, expires_at)`,

	`CREATE TABLE IF NOT EXISTS pbi_receipts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL REFERENCES api_keys(id),
		challenge_id UUID NOT NULL REFERENCES pbi_challenges(id),
		decision TEXT NOT NULL,
		receipt_hash_hex CHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pbi_receipts_tenant_created
		ON pbi_receipts (tenant_id, created_at, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_pbi_receipts_verified_challenge
		ON pbi_receipts (challenge_id)
		WHERE decision = 'PBI_VERIFIED'`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL REFERENCES api_keys(id),
		month_key CHAR(7) NOT NULL,
		kind TEXT NOT NULL,
		units BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_month_kind
		ON usage_events (tenant_id, month_key, kind)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL REFERENCES api_keys(id),
		month_key CHAR(7) NOT NULL,
		amount_cents BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_tenant_month
		ON invoices (tenant_id, month_key)`,

	`CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL REFERENCES api_keys(id),
		url TEXT NOT NULL,
		events TEXT[] NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		secret_ciphertext_b64 TEXT NOT NULL,
		secret_nonce_b64 TEXT NOT NULL,
		secret_hash_hex CHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_tenant
		ON webhook_endpoints (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		endpoint_id UUID NOT NULL REFERENCES webhook_endpoints(id),
		event TEXT NOT NULL,
		receipt_id UUID NOT NULL REFERENCES pbi_receipts(id),
		payload_json JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		delivered_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_claim
		ON webhook_deliveries (status, next_attempt_at)`,
}

// Bootstrap runs the idempotent schema DDL. Safe to call on every
// process start.
func Bootstrap(ctx context.Context, db *DB) error {
	for i, stmt := range statements {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database: bootstrap statement %d: %w", i, err)
		}
	}
	return nil
}
