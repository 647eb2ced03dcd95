package services

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

var actionHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

const (
	minChallengeTTLSeconds     = 10
	maxChallengeTTLSeconds     = 600
	defaultChallengeTTLSeconds = 120
)

// ChallengeInserter is the subset of ChallengeRepository the mint path needs.
type ChallengeInserter interface {
	Insert(ctx context.Context, c *models.Challenge) error
}

// ChallengeService mints and validates PBI challenges (spec.md §4.3, C4).
type ChallengeService struct {
	repo ChallengeInserter
	now  func() time.Time
}

// NewChallengeService creates a new ChallengeService. now defaults to time.Now.
func NewChallengeService(repo ChallengeInserter, now func() time.Time) *ChallengeService {
	if now == nil {
		now = time.Now
	}
	return &ChallengeService{repo: repo, now: now}
}

// Mint validates inputs, generates a fresh id and 256-bit nonce, and
// persists a new challenge (spec.md §4.3 mint, §3 TTL bounds).
func (s *ChallengeService) Mint(ctx context.Context, tenantID, purpose, actionHashHex string, ttlSeconds int) (*models.Challenge, error) {
	if !models.ValidPurposes[purpose] {
		return nil, apperr.FieldError("purpose", "unknown purpose")
	}
	if !actionHashPattern.MatchString(actionHashHex) {
		return nil, apperr.FieldError("actionHashHex", "must be 64 lowercase hex characters")
	}

	if ttlSeconds == 0 {
		ttlSeconds = defaultChallengeTTLSeconds
	}
	if ttlSeconds < minChallengeTTLSeconds || ttlSeconds > maxChallengeTTLSeconds {
		return nil, apperr.FieldError("ttlSeconds", "must be between 10 and 600 seconds")
	}

	nonce, err := pbicrypto.NewNonceB64URL()
	if err != nil {
		return nil, apperr.Wrap(err, "failed to generate challenge nonce")
	}

	now := s.now()
	challenge := &models.Challenge{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		NonceB64URL:   nonce,
		Purpose:       purpose,
		ActionHashHex: actionHashHex,
		ExpiresAt:     now.Add(time.Duration(ttlSeconds) * time.Second),
		CreatedAt:     now,
	}

	if err := s.repo.Insert(ctx, challenge); err != nil {
		return nil, apperr.Wrap(err, "failed to persist challenge")
	}
	return challenge, nil
}
