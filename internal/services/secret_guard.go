package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
)

// ReceiptGetter is the subset of ReceiptRepository the secret guard's
// re-verification path needs.
type ReceiptGetter interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Receipt, error)
}

// WebhookEndpointInserter is the subset of WebhookRepository the
// admin-facing endpoint create/rotate path needs.
type WebhookEndpointInserter interface {
	CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
}

// SecretGuardService implements C13: offline re-verification of a
// receipt by id+hash, and AES-GCM encryption of webhook secrets at
// rest (spec.md §3 "Webhook endpoint", §4.1, §6 `/v1/pbi/receipts/verify`).
type SecretGuardService struct {
	receipts ReceiptGetter
	key32    []byte // AES-GCM key decrypting/encrypting webhook endpoint secrets
	now      func() time.Time
}

// NewSecretGuardService creates a new SecretGuardService. now defaults
// to time.Now.
func NewSecretGuardService(receipts ReceiptGetter, key32 []byte, now func() time.Time) *SecretGuardService {
	if now == nil {
		now = time.Now
	}
	return &SecretGuardService{receipts: receipts, key32: key32, now: now}
}

// VerifyReceipt loads the tenant's receipt and constant-time compares
// its stored receiptHashHex against the caller-supplied value, per
// spec.md §6's `POST /v1/pbi/receipts/verify` (404 if the receipt
// doesn't exist or doesn't belong to the tenant; ok:false rather than
// an error if the hash doesn't match — a mismatch is a valid answer,
// not a failure of the lookup itself).
func (s *SecretGuardService) VerifyReceipt(ctx context.Context, tenantID, receiptID, receiptHashHex string) (*models.Receipt, bool, error) {
	receipt, err := s.receipts.GetByID(ctx, tenantID, receiptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperr.New(apperr.KindNotFound, "receipt not found")
	}
	if err != nil {
		return nil, false, apperr.Wrap(err, "failed to load receipt")
	}
	return receipt, pbicrypto.HMACEqual(receipt.ReceiptHashHex, receiptHashHex), nil
}

// NewEndpointSecret generates a fresh raw webhook secret, AES-GCM
// encrypts it under the guard's key for storage, and returns both the
// ciphertext envelope and a SHA-256 identification hash (never the raw
// secret itself — the caller is responsible for returning the raw
// value to the tenant exactly once, per spec.md §3's "Webhook
// endpoint" invariant).
func (s *SecretGuardService) NewEndpointSecret() (rawSecret string, enc pbicrypto.EncryptedSecret, hashHex string, err error) {
	raw, err := pbicrypto.RandomBytes(32)
	if err != nil {
		return "", pbicrypto.EncryptedSecret{}, "", apperr.Wrap(err, "failed to generate webhook secret")
	}
	rawSecret = "whsec_" + pbicrypto.Base64URLEncode(raw)

	enc, err = pbicrypto.AESGCMEncrypt(s.key32, []byte(rawSecret))
	if err != nil {
		return "", pbicrypto.EncryptedSecret{}, "", apperr.Wrap(err, "failed to encrypt webhook secret")
	}
	hashHex = pbicrypto.SHA256Hex([]byte(rawSecret))
	return rawSecret, enc, hashHex, nil
}

// RotateEndpointSecret builds the updated WebhookEndpoint fields for a
// secret rotation, leaving everything else about the endpoint
// untouched; callers persist the returned envelope via their own
// repository update (SPEC_FULL.md's rotate-secret admin operation).
func (s *SecretGuardService) RotateEndpointSecret(endpoint *models.WebhookEndpoint) (rawSecret string, err error) {
	raw, enc, hashHex, err := s.NewEndpointSecret()
	if err != nil {
		return "", err
	}
	endpoint.SecretCiphertextB64 = enc.CiphertextB64
	endpoint.SecretNonceB64 = enc.NonceB64
	endpoint.SecretHashHex = hashHex
	return raw, nil
}

// NewWebhookEndpoint builds a fully-populated WebhookEndpoint with a
// freshly minted, encrypted secret, ready for CreateEndpoint. The raw
// secret is returned alongside for the one-time create response.
func (s *SecretGuardService) NewWebhookEndpoint(tenantID, url string, events []string) (*models.WebhookEndpoint, string, error) {
	raw, enc, hashHex, err := s.NewEndpointSecret()
	if err != nil {
		return nil, "", err
	}
	endpoint := &models.WebhookEndpoint{
		ID:                  uuid.NewString(),
		TenantID:            tenantID,
		URL:                 url,
		Events:              events,
		Enabled:             true,
		SecretCiphertextB64: enc.CiphertextB64,
		SecretNonceB64:      enc.NonceB64,
		SecretHashHex:       hashHex,
		CreatedAt:           s.now(),
	}
	return endpoint, raw, nil
}
