package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/cache"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/metrics"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

// batchLeaseKey is the SETNX key guarding a single tick's claim
// against another worker replica's concurrent tick (best-effort; the
// DB's SKIP LOCKED is the authoritative guard, see §5).
const batchLeaseKey = "pbi:webhook:batch-lease"

// EventReceiptCreated is the only event kind webhooks currently
// subscribe to (spec.md §3, §4.10).
const EventReceiptCreated = "receipt.created"

// WebhookEndpointLister/Enqueuer/Claimer/Finisher split WebhookRepository
// into the capabilities WebhookService actually calls, so the enqueue
// path (run inside a caller-owned tx) and the delivery path (its own
// tx per batch) can each depend on only what they need.
type WebhookEndpointLister interface {
	EndpointsSubscribedToEvent(ctx context.Context, tx pgx.Tx, tenantID, event string) ([]models.WebhookEndpoint, error)
}

type WebhookEnqueuer interface {
	EnqueueDelivery(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error
}

type WebhookClaimer interface {
	ClaimBatch(ctx context.Context, limit int) ([]models.WebhookDelivery, error)
}

type WebhookEndpointGetter interface {
	GetEndpointByID(ctx context.Context, id string) (*models.WebhookEndpoint, error)
}

type WebhookFinisher interface {
	MarkDelivered(ctx context.Context, id string, attempts int, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
}

// WebhookConfig configures delivery attempt and backoff behavior
// (spec.md §4.9/§4.10).
type WebhookConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	SecretKey32    []byte // AES-GCM key decrypting endpoint secrets at rest
}

// WebhookService enqueues deliveries on receipt mint and drives the
// delivery attempt logic the worker loop calls per claimed batch
// (spec.md §4.9, §4.10, C11).
type WebhookService struct {
	endpoints WebhookEndpointLister
	enqueuer  WebhookEnqueuer
	claimer   WebhookClaimer
	getter    WebhookEndpointGetter
	finisher  WebhookFinisher
	cfg       WebhookConfig
	client    *http.Client
	now       func() time.Time
	cache     *cache.Client  // optional; nil disables the soft lease
	pool      *pgxpool.Pool // used only by Enqueue's self-contained transaction
}

// WithCache attaches the optional Redis soft-lease cache.
func (s *WebhookService) WithCache(c *cache.Client) *WebhookService {
	s.cache = c
	return s
}

// WithPool attaches the connection pool Enqueue uses to open its own
// transaction, decoupling callers (the attestation orchestrator) from
// transaction management for the enqueue-on-receipt step.
func (s *WebhookService) WithPool(pool *pgxpool.Pool) *WebhookService {
	s.pool = pool
	return s
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(
	endpoints WebhookEndpointLister,
	enqueuer WebhookEnqueuer,
	claimer WebhookClaimer,
	getter WebhookEndpointGetter,
	finisher WebhookFinisher,
	cfg WebhookConfig,
	now func() time.Time,
) *WebhookService {
	if now == nil {
		now = time.Now
	}
	return &WebhookService{
		endpoints: endpoints,
		enqueuer:  enqueuer,
		claimer:   claimer,
		getter:    getter,
		finisher:  finisher,
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		now:       now,
	}
}

// receiptCreatedPayload is the envelope delivered for the
// receipt.created event (spec.md §4.10).
type receiptCreatedPayload struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	CreatedAt string      `json:"createdAt"`
	Data      interface{} `json:"data"`
}

// EnqueueReceiptCreated fans the event out to every enabled endpoint
// subscribed to it, inside the caller's transaction (spec.md §4.10
// "Enqueue"). The challenge is marked used and the receipt is inserted
// before this runs, outside tx, so the receipt row already exists.
func (s *WebhookService) EnqueueReceiptCreated(ctx context.Context, tx pgx.Tx, tenantID string, receipt *models.Receipt, challenge *models.Challenge) error {
	endpoints, err := s.endpoints.EndpointsSubscribedToEvent(ctx, tx, tenantID, EventReceiptCreated)
	if err != nil {
		return fmt.Errorf("services: list subscribed endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	deliveryID := uuid.NewString()
	now := s.now()
	payload := receiptCreatedPayload{
		ID:        deliveryID,
		Type:      EventReceiptCreated,
		CreatedAt: now.UTC().Format(time.RFC3339),
		Data: map[string]interface{}{
			"receipt": receipt,
			"challenge": map[string]interface{}{
				"id":            challenge.ID,
				"purpose":       challenge.Purpose,
				"actionHashHex": challenge.ActionHashHex,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("services: marshal webhook payload: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &models.WebhookDelivery{
			ID:            uuid.NewString(),
			EndpointID:    endpoint.ID,
			Event:         EventReceiptCreated,
			ReceiptID:     receipt.ID,
			PayloadJSON:   body,
			Status:        models.DeliveryStatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		}
		if err := s.enqueuer.EnqueueDelivery(ctx, tx, delivery); err != nil {
			return fmt.Errorf("services: enqueue delivery for endpoint %s: %w", endpoint.ID, err)
		}
	}
	return nil
}

// Enqueue wraps EnqueueReceiptCreated in its own self-contained
// transaction, for callers (the attestation orchestrator) that don't
// already hold one open against the same pool.
func (s *WebhookService) Enqueue(ctx context.Context, tenantID string, receipt *models.Receipt, challenge *models.Challenge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("services: begin webhook enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.EnqueueReceiptCreated(ctx, tx, tenantID, receipt, challenge); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("services: commit webhook enqueue tx: %w", err)
	}
	return nil
}

// ProcessBatch claims up to limit due deliveries and attempts each in
// turn, returning the number attempted (spec.md §4.10 "Worker loop").
// When a cache is attached, a short SETNX soft lease skips this tick
// entirely if a sibling replica is already mid-batch; on a cache miss
// or Redis outage it proceeds straight to the authoritative SKIP
// LOCKED claim, so correctness never depends on the lease succeeding.
func (s *WebhookService) ProcessBatch(ctx context.Context, limit int) (int, error) {
	if s.cache != nil {
		leased, err := s.cache.SetNX(ctx, batchLeaseKey, "1", s.cfg.RequestTimeout)
		if err == nil && !leased {
			return 0, nil
		}
	}

	deliveries, err := s.claimer.ClaimBatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("services: claim delivery batch: %w", err)
	}
	for i := range deliveries {
		s.attempt(ctx, &deliveries[i])
	}
	return len(deliveries), nil
}

func (s *WebhookService) attempt(ctx context.Context, d *models.WebhookDelivery) {
	start := time.Now()
	endpoint, err := s.getter.GetEndpointByID(ctx, d.EndpointID)
	if err != nil {
		s.retryOrFail(ctx, d, "", fmt.Sprintf("load endpoint: %v", err))
		metrics.WebhookDeliveryTotal.WithLabelValues("error").Inc()
		return
	}

	secret, err := pbicrypto.AESGCMDecrypt(s.cfg.SecretKey32, pbicrypto.EncryptedSecret{
		CiphertextB64: endpoint.SecretCiphertextB64,
		NonceB64:      endpoint.SecretNonceB64,
	})
	if err != nil {
		s.retryOrFail(ctx, d, endpoint.TenantID, fmt.Sprintf("decrypt endpoint secret: %v", err))
		metrics.WebhookDeliveryTotal.WithLabelValues("error").Inc()
		return
	}

	status, postErr := s.post(ctx, endpoint.URL, d, secret)
	outcome := "delivered"
	if postErr != nil || status < 200 || status >= 300 {
		outcome = "failed_attempt"
	}
	metrics.WebhookDeliveryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if postErr == nil && status >= 200 && status < 300 {
		attempts := d.Attempts + 1
		if err := s.finisher.MarkDelivered(ctx, d.ID, attempts, s.now()); err != nil {
			metrics.WebhookDeliveryTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.WebhookDeliveryTotal.WithLabelValues("delivered").Inc()
		return
	}

	reason := fmt.Sprintf("http status %d", status)
	if postErr != nil {
		reason = postErr.Error()
	}
	s.retryOrFail(ctx, d, endpoint.TenantID, reason)
}

func (s *WebhookService) retryOrFail(ctx context.Context, d *models.WebhookDelivery, tenantID, lastError string) {
	attempts := d.Attempts + 1
	if attempts >= s.cfg.MaxAttempts {
		if err := s.finisher.MarkFailed(ctx, d.ID, attempts, lastError); err == nil {
			metrics.WebhookDeadLetterTotal.WithLabelValues(tenantID).Inc()
			metrics.WebhookDeliveryTotal.WithLabelValues("failed").Inc()
		}
		return
	}
	next := s.now().Add(backoff(attempts, s.cfg.BaseBackoff, s.cfg.MaxBackoff))
	if err := s.finisher.MarkRetry(ctx, d.ID, attempts, next, lastError); err == nil {
		metrics.WebhookDeliveryTotal.WithLabelValues("retry").Inc()
	}
}

// post sends the signed delivery (spec.md §4.9) and returns the HTTP
// status code, or an error if the request never completed.
func (s *WebhookService) post(ctx context.Context, url string, d *models.WebhookDelivery, secret []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(d.PayloadJSON))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}

	ts := s.now().UTC().Unix()
	baseString := strconv.FormatInt(ts, 10) + "." + d.ID + "." + string(d.PayloadJSON)
	sig := pbicrypto.HMACSHA256Hex(secret, []byte(baseString))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PBI-Event", d.Event)
	req.Header.Set("X-PBI-Delivery-Id", d.ID)
	req.Header.Set("X-PBI-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-PBI-Signature", "v1="+sig)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// backoff computes min(cap, base*2^(attempts-1)) * (1 ± 20%) per
// spec.md §4.10 step 5.
func backoff(attempts int, base, backoffCap time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := base
	for i := 1; i < attempts; i++ {
		if exp >= backoffCap {
			exp = backoffCap
			break
		}
		exp *= 2
	}
	if exp > backoffCap {
		exp = backoffCap
	}

	jitterRange := int64(exp) * 40 / 100 // ±20% of exp == a 40%-wide window
	if jitterRange <= 0 {
		return exp
	}
	n, err := rand.Int(rand.Reader, big.NewInt(jitterRange))
	offset := jitterRange / 2
	if err == nil {
		offset = n.Int64()
	}
	return exp - time.Duration(jitterRange/2) + time.Duration(offset)
}
