package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

// WebhookRepository handles webhook endpoint CRUD and delivery queue
// operations (C11).
type WebhookRepository struct {
	db *pgxpool.Pool
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(db *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// CreateEndpoint persists a new webhook endpoint.
func (r *WebhookRepository) CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	query := `
		INSERT INTO webhook_endpoints (id, tenant_id, url, events, enabled, secret_ciphertext_b64, secret_nonce_b64, secret_hash_hex, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.TenantID, e.URL, pq.Array(e.Events), e.Enabled,
		e.SecretCiphertextB64, e.SecretNonceB64, e.SecretHashHex, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: create webhook endpoint: %w", err)
	}
	return nil
}

// GetEndpoint loads an endpoint scoped to tenant.
func (r *WebhookRepository) GetEndpoint(ctx context.Context, tenantID, id string) (*models.WebhookEndpoint, error) {
	query := `
		SELECT id, tenant_id, url, events, enabled, secret_ciphertext_b64, secret_nonce_b64, secret_hash_hex, created_at
		FROM webhook_endpoints
		WHERE id = $1 AND tenant_id = $2
	`
	return r.scanEndpoint(r.db.QueryRow(ctx, query, id, tenantID))
}

// GetEndpointByID loads an endpoint without tenant scoping, for the
// delivery worker which only has an endpointId off the delivery queue
// row (§4.10 step 1).
func (r *WebhookRepository) GetEndpointByID(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	query := `
		SELECT id, tenant_id, url, events, enabled, secret_ciphertext_b64, secret_nonce_b64, secret_hash_hex, created_at
		FROM webhook_endpoints
		WHERE id = $1
	`
	return r.scanEndpoint(r.db.QueryRow(ctx, query, id))
}

// ListEndpoints returns every endpoint registered by a tenant, for the
// admin-facing `GET /v1/webhooks/endpoints` listing.
func (r *WebhookRepository) ListEndpoints(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error) {
	query := `
		SELECT id, tenant_id, url, events, enabled, secret_ciphertext_b64, secret_nonce_b64, secret_hash_hex, created_at
		FROM webhook_endpoints
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("repository: list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.WebhookEndpoint
	for rows.Next() {
		e, err := r.scanEndpointRow(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate webhook endpoints: %w", err)
	}
	return endpoints, nil
}

// DeleteEndpoint removes a tenant-scoped endpoint, reporting whether a
// row was actually deleted.
func (r *WebhookRepository) DeleteEndpoint(ctx context.Context, tenantID, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("repository: delete webhook endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateEndpointSecret persists a rotated secret envelope for a
// tenant-scoped endpoint.
func (r *WebhookRepository) UpdateEndpointSecret(ctx context.Context, tenantID string, e *models.WebhookEndpoint) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE webhook_endpoints
		SET secret_ciphertext_b64 = $3, secret_nonce_b64 = $4, secret_hash_hex = $5
		WHERE id = $1 AND tenant_id = $2
	`, e.ID, tenantID, e.SecretCiphertextB64, e.SecretNonceB64, e.SecretHashHex)
	if err != nil {
		return fmt.Errorf("repository: update webhook endpoint secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndpointsSubscribedToEvent returns enabled endpoints for a tenant
// subscribed to the given event, used at enqueue time (§4.10).
func (r *WebhookRepository) EndpointsSubscribedToEvent(ctx context.Context, tx pgx.Tx, tenantID, event string) ([]models.WebhookEndpoint, error) {
	query := `
		SELECT id, tenant_id, url, events, enabled, secret_ciphertext_b64, secret_nonce_b64, secret_hash_hex, created_at
		FROM webhook_endpoints
		WHERE tenant_id = $1 AND enabled = true AND $2 = ANY(events)
	`
	rows, err := tx.Query(ctx, query, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("repository: list subscribed endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.WebhookEndpoint
	for rows.Next() {
		e, err := r.scanEndpointRow(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate subscribed endpoints: %w", err)
	}
	return endpoints, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *WebhookRepository) scanEndpoint(row pgx.Row) (*models.WebhookEndpoint, error) {
	e, err := r.scanEndpointRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *WebhookRepository) scanEndpointRow(row rowScanner) (*models.WebhookEndpoint, error) {
	var e models.WebhookEndpoint
	var events pq.StringArray
	err := row.Scan(
		&e.ID, &e.TenantID, &e.URL, &events, &e.Enabled,
		&e.SecretCiphertextB64, &e.SecretNonceB64, &e.SecretHashHex, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: scan webhook endpoint: %w", err)
	}
	e.Events = []string(events)
	return &e, nil
}

// EnqueueDelivery inserts a pending delivery row inside tx (§4.10).
func (r *WebhookRepository) EnqueueDelivery(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, endpoint_id, event, receipt_id, payload_json, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)
	`
	_, err := tx.Exec(ctx, query, d.ID, d.EndpointID, d.Event, d.ReceiptID, d.PayloadJSON, d.NextAttemptAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: enqueue webhook delivery: %w", err)
	}
	return nil
}

// ClaimBatch pulls up to limit pending, due deliveries using
// SELECT ... FOR UPDATE SKIP LOCKED so multiple worker replicas can
// run against the same table without double-claiming (§4.10/§5).
func (r *WebhookRepository) ClaimBatch(ctx context.Context, limit int) ([]models.WebhookDelivery, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		SELECT id, endpoint_id, event, receipt_id, payload_json, status, attempts, next_attempt_at, delivered_at, last_error, created_at
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: claim deliveries: %w", err)
	}
	var deliveries []models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		if err := rows.Scan(
			&d.ID, &d.EndpointID, &d.Event, &d.ReceiptID, &d.PayloadJSON, &d.Status,
			&d.Attempts, &d.NextAttemptAt, &d.DeliveredAt, &d.LastError, &d.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: scan claimed delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("repository: iterate claimed deliveries: %w", err)
	}
	rows.Close()

	// Re-mark next_attempt_at slightly forward as a claim fence so a
	// second concurrent tick (same process, different goroutine) won't
	// re-select these rows before this batch finishes processing; the
	// row lock from FOR UPDATE already prevents cross-process races
	// while this transaction is open, but we want the rows visible
	// again quickly if this process dies mid-batch, so we keep the
	// fence short.
	if len(deliveries) > 0 {
		ids := make([]string, len(deliveries))
		for i, d := range deliveries {
			ids[i] = d.ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE webhook_deliveries SET next_attempt_at = now() + interval '30 seconds'
			WHERE id = ANY($1)
		`, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("repository: fence claimed deliveries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: commit claim tx: %w", err)
	}
	return deliveries, nil
}

// MarkDelivered transitions a delivery to its terminal success state.
func (r *WebhookRepository) MarkDelivered(ctx context.Context, id string, attempts int, now time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempts = $2, delivered_at = $3, last_error = NULL
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, attempts, now)
	if err != nil {
		return fmt.Errorf("repository: mark delivery delivered: %w", err)
	}
	return nil
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *WebhookRepository) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE webhook_deliveries
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, attempts, nextAttemptAt, lastError)
	if err != nil {
		return fmt.Errorf("repository: mark delivery retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a delivery to its terminal failure state
// after attempts >= maxAttempts.
func (r *WebhookRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, attempts, lastError)
	if err != nil {
		return fmt.Errorf("repository: mark delivery failed: %w", err)
	}
	return nil
}

// CountPending reports queue depth for the worker gauge.
func (r *WebhookRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository: count pending deliveries: %w", err)
	}
	return count, nil
}

// GetDelivery fetches a single tenant-scoped delivery by id, for the
// per-delivery status endpoint (SPEC_FULL.md supplemented feature).
func (r *WebhookRepository) GetDelivery(ctx context.Context, tenantID, id string) (*models.WebhookDelivery, error) {
	query := `
		SELECT d.id, d.endpoint_id, d.event, d.receipt_id, d.payload_json, d.status, d.attempts, d.next_attempt_at, d.delivered_at, d.last_error, d.created_at
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE e.tenant_id = $1 AND d.id = $2
	`
	var d models.WebhookDelivery
	err := r.db.QueryRow(ctx, query, tenantID, id).Scan(
		&d.ID, &d.EndpointID, &d.Event, &d.ReceiptID, &d.PayloadJSON, &d.Status,
		&d.Attempts, &d.NextAttemptAt, &d.DeliveredAt, &d.LastError, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get delivery: %w", err)
	}
	return &d, nil
}

// ListFailed returns terminal-failed deliveries for a tenant's
// dead-letter visibility endpoint (SPEC_FULL.md supplemented feature).
func (r *WebhookRepository) ListFailed(ctx context.Context, tenantID string, limit int) ([]models.WebhookDelivery, error) {
	query := `
		SELECT d.id, d.endpoint_id, d.event, d.receipt_id, d.payload_json, d.status, d.attempts, d.next_attempt_at, d.delivered_at, d.last_error, d.created_at
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE e.tenant_id = $1 AND d.status = 'failed'
		ORDER BY d.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list failed deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		if err := rows.Scan(
			&d.ID, &d.EndpointID, &d.Event, &d.ReceiptID, &d.PayloadJSON, &d.Status,
			&d.Attempts, &d.NextAttemptAt, &d.DeliveredAt, &d.LastError, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: scan failed delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate failed deliveries: %w", err)
	}
	return deliveries, nil
}
