package services

import (
	"context"
	"errors"
	"time"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/policy"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/webauthn"
)

// ChallengeStore is the subset of ChallengeRepository the orchestrator needs.
type ChallengeStore interface {
	GetByID(ctx context.Context, id string) (*models.Challenge, error)
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)
}

// QuotaDebiter is the interface *QuotaService satisfies, narrowed so
// the orchestrator can be driven by a fake in tests without a live
// Postgres advisory lock.
type QuotaDebiter interface {
	Debit(ctx context.Context, tenantID, kind string, quotaPerMonth int64) (DebitResult, error)
}

// ChallengeMinter is the interface *ChallengeService satisfies.
type ChallengeMinter interface {
	Mint(ctx context.Context, tenantID, purpose, actionHashHex string, ttlSeconds int) (*models.Challenge, error)
}

// ReceiptMinter is the interface *ReceiptService satisfies.
type ReceiptMinter interface {
	Mint(ctx context.Context, tenantID, challengeID, decision string) (*models.Receipt, error)
}

// ReceiptWebhookEnqueuer is the interface *WebhookService satisfies for
// the orchestrator's enqueue-on-verify step. It owns its own
// transaction, so the orchestrator never needs a pool of its own.
type ReceiptWebhookEnqueuer interface {
	Enqueue(ctx context.Context, tenantID string, receipt *models.Receipt, challenge *models.Challenge) error
}

// Metering accompanies every challenge/verify response (spec.md §6's
// HTTP surface table).
type Metering struct {
	MonthKey string `json:"monthKey"`
	Used     int64  `json:"used"`
	Quota    int64  `json:"quota"`
}

// VerifyOutcome is the result of Verify, mapping 1:1 onto the response
// shape in spec.md §6's HTTP surface table.
type VerifyOutcome struct {
	Decision       string
	ReceiptID      string
	ReceiptHashHex string
	Challenge      *models.Challenge
	Metering       Metering
}

// AttestationService sequences C3(caller-authenticated)→C4→C5→C8→C6→C11
// per the state machine in spec.md §4.5 (C9).
type AttestationService struct {
	challenges ChallengeStore
	minter     ChallengeMinter
	quota      QuotaDebiter
	receipts   ReceiptMinter
	webhooks   ReceiptWebhookEnqueuer
	policy     *policy.Document // optional; nil disables purpose_mismatch + per-purpose origin scoping
	origins    map[string]bool  // process-wide fallback allowlist (spec.md §6 allowedOrigins)
	now        func() time.Time
}

// NewAttestationService creates a new AttestationService.
func NewAttestationService(
	challenges ChallengeStore,
	minter ChallengeMinter,
	quota QuotaDebiter,
	receipts ReceiptMinter,
	webhooks ReceiptWebhookEnqueuer,
	pol *policy.Document,
	origins map[string]bool,
	now func() time.Time,
) *AttestationService {
	if now == nil {
		now = time.Now
	}
	return &AttestationService{
		challenges: challenges,
		minter:     minter,
		quota:      quota,
		receipts:   receipts,
		webhooks:   webhooks,
		policy:     pol,
		origins:    origins,
		now:        now,
	}
}

// ChallengeOutcome pairs a minted challenge with its metering snapshot
// (spec.md §6's `/v1/pbi/challenge` response shape).
type ChallengeOutcome struct {
	Challenge *models.Challenge
	Metering  Metering
}

// MintChallenge sequences auth(handled by the caller)→quota debit→mint,
// per spec.md §2's `POST /challenge` control flow. Challenge units are
// debited unconditionally at mint time, unlike verify units which are
// charged only on cryptographic success (spec.md §4.7 "Charge-on-success
// policy").
func (s *AttestationService) MintChallenge(ctx context.Context, tenant *models.Tenant, purpose, actionHashHex string, ttlSeconds int) (*ChallengeOutcome, error) {
	debit, err := s.quota.Debit(ctx, tenant.ID, models.UsageKindChallenge, tenant.MonthlyQuota)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to debit challenge quota")
	}
	if !debit.OK {
		return nil, apperr.New(apperr.KindQuotaExceeded, "monthly challenge quota exhausted")
	}

	challenge, err := s.minter.Mint(ctx, tenant.ID, purpose, actionHashHex, ttlSeconds)
	if err != nil {
		return nil, err
	}

	return &ChallengeOutcome{
		Challenge: challenge,
		Metering:  Metering{MonthKey: debit.MonthKey, Used: debit.UsedAfter, Quota: debit.Quota},
	}, nil
}

// Verify runs the full state machine described in spec.md §4.5.
func (s *AttestationService) Verify(ctx context.Context, tenant *models.Tenant, challengeID string, bundle webauthn.AssertionBundle) (*VerifyOutcome, error) {
	challenge, err := s.challenges.GetByID(ctx, challengeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindUnknownChallenge, "challenge not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load challenge")
	}
	if challenge.TenantID != tenant.ID {
		return nil, apperr.New(apperr.KindUnknownChallenge, "challenge not found")
	}

	now := s.now()
	if challenge.IsExpired(now) {
		return nil, apperr.New(apperr.KindExpired, "challenge has expired")
	}
	if challenge.IsUsed() {
		return nil, apperr.New(apperr.KindReplayed, "challenge has already been consumed")
	}

	allowedOrigins, err := s.allowedOriginsFor(challenge.Purpose)
	if err != nil {
		return nil, err
	}

	if err := webauthn.Verify(challenge.NonceB64URL, bundle, allowedOrigins); err != nil {
		return nil, err
	}

	debit, err := s.quota.Debit(ctx, tenant.ID, models.UsageKindVerify, tenant.MonthlyQuota)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to debit verify quota")
	}
	if !debit.OK {
		return nil, apperr.New(apperr.KindQuotaExceeded, "monthly verify quota exhausted")
	}

	used, err := s.challenges.MarkUsed(ctx, challenge.ID, now)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to mark challenge used")
	}
	if !used {
		// Lost a race against a concurrent verify for the same challenge;
		// the quota unit we just debited is not refunded (spec.md §9's
		// charge-on-success policy covers the success path only).
		return nil, apperr.New(apperr.KindReplayed, "challenge has already been consumed")
	}

	receipt, err := s.receipts.Mint(ctx, tenant.ID, challenge.ID, models.DecisionVerified)
	if err != nil {
		return nil, err
	}

	if err := s.webhooks.Enqueue(ctx, tenant.ID, receipt, challenge); err != nil {
		// Webhook fan-out is best-effort relative to the receipt itself
		// (at-least-once delivery semantics, spec.md §4.10); a failure
		// here must not roll back an already-minted receipt.
		_ = err
	}

	return &VerifyOutcome{
		Decision:       models.DecisionVerified,
		ReceiptID:      receipt.ID,
		ReceiptHashHex: receipt.ReceiptHashHex,
		Challenge:      challenge,
		Metering:       Metering{MonthKey: debit.MonthKey, Used: debit.UsedAfter, Quota: debit.Quota},
	}, nil
}

func (s *AttestationService) allowedOriginsFor(purpose string) (map[string]bool, error) {
	if s.policy == nil {
		return s.origins, nil
	}
	p, err := s.policy.ForPurpose(purpose)
	if errors.Is(err, policy.ErrPurposeMismatch) {
		return nil, apperr.New(apperr.KindPurposeMismatch, "no policy entry for purpose "+purpose)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "failed to evaluate policy")
	}
	return p.OriginAllowlistSet(), nil
}
