package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

// ReceiptInserter is the subset of ReceiptRepository the mint path needs.
type ReceiptInserter interface {
	Insert(ctx context.Context, rc *models.Receipt) error
}

// ReceiptService mints and persists append-only receipts (spec.md §3, C6).
type ReceiptService struct {
	repo          ReceiptInserter
	receiptSecret []byte
	now           func() time.Time
}

// NewReceiptService creates a new ReceiptService. now defaults to time.Now.
func NewReceiptService(repo ReceiptInserter, receiptSecret []byte, now func() time.Time) *ReceiptService {
	if now == nil {
		now = time.Now
	}
	return &ReceiptService{repo: repo, receiptSecret: receiptSecret, now: now}
}

// Mint computes receiptHashHex = HMAC-SHA-256(receiptSecret,
// "receipt:"+id+":challenge:"+challengeId+":decision:"+decision) and
// appends the receipt (spec.md §3 Receipt invariant).
func (s *ReceiptService) Mint(ctx context.Context, tenantID, challengeID, decision string) (*models.Receipt, error) {
	id := uuid.NewString()
	message := "receipt:" + id + ":challenge:" + challengeID + ":decision:" + decision
	hashHex := pbicrypto.HMACSHA256Hex(s.receiptSecret, []byte(message))

	receipt := &models.Receipt{
		ID:             id,
		TenantID:       tenantID,
		ChallengeID:    challengeID,
		Decision:       decision,
		ReceiptHashHex: hashHex,
		CreatedAt:      s.now(),
	}

	if err := s.repo.Insert(ctx, receipt); err != nil {
		return nil, apperr.Wrap(err, "failed to persist receipt")
	}
	return receipt, nil
}
