package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/middleware"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/repository"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
)

type fakeChallengeStore struct {
	byID      map[string]*models.Challenge
	markUsed  bool
	markCalls int
}

func (f *fakeChallengeStore) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}
func (f *fakeChallengeStore) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	f.markCalls++
	return f.markUsed, nil
}

type fakeQuotaDebiter struct {
	result services.DebitResult
	err    error
}

func (f *fakeQuotaDebiter) Debit(ctx context.Context, tenantID, kind string, quotaPerMonth int64) (services.DebitResult, error) {
	return f.result, f.err
}

type fakeChallengeMinter struct {
	challenge *models.Challenge
	err       error
}

func (f *fakeChallengeMinter) Mint(ctx context.Context, tenantID, purpose, actionHashHex string, ttlSeconds int) (*models.Challenge, error) {
	return f.challenge, f.err
}

type fakeReceiptMinter struct {
	receipt *models.Receipt
}

func (f *fakeReceiptMinter) Mint(ctx context.Context, tenantID, challengeID, decision string) (*models.Receipt, error) {
	return f.receipt, nil
}

type fakeWebhookEnqueuer struct{}

func (f *fakeWebhookEnqueuer) Enqueue(ctx context.Context, tenantID string, receipt *models.Receipt, challenge *models.Challenge) error {
	return nil
}

func newTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func withTenant(c *gin.Context, tenant *models.Tenant) {
	c.Set(middleware.TenantContextKey, tenant)
}

func TestChallengeHandler_Mint_Success(t *testing.T) {
	now := time.Now()
	challenge := &models.Challenge{ID: "ch1", Purpose: "login", ActionHashHex: "ab", ExpiresAt: now.Add(time.Minute)}
	svc := services.NewAttestationService(
		&fakeChallengeStore{},
		&fakeChallengeMinter{challenge: challenge},
		&fakeQuotaDebiter{result: services.DebitResult{OK: true, MonthKey: "2026-07", UsedAfter: 1, Quota: 100}},
		&fakeReceiptMinter{},
		&fakeWebhookEnqueuer{},
		nil,
		map[string]bool{"https://example.com": true},
		func() time.Time { return now },
	)
	h := NewChallengeHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/challenge", mintChallengeRequest{Purpose: "login", ActionHashHex: "ab", TTLSeconds: 60})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Mint(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if _, ok := resp["challenge"]; !ok {
		t.Error("expected challenge field in response")
	}
	if _, ok := resp["metering"]; !ok {
		t.Error("expected metering field in response")
	}
}

func TestChallengeHandler_Mint_QuotaExhausted(t *testing.T) {
	svc := services.NewAttestationService(
		&fakeChallengeStore{},
		&fakeChallengeMinter{},
		&fakeQuotaDebiter{result: services.DebitResult{OK: false, MonthKey: "2026-07", UsedAfter: 100, Quota: 100}},
		&fakeReceiptMinter{},
		&fakeWebhookEnqueuer{},
		nil,
		nil,
		nil,
	)
	h := NewChallengeHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/challenge", mintChallengeRequest{Purpose: "login", ActionHashHex: "ab", TTLSeconds: 60})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Mint(c)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChallengeHandler_Mint_NoTenant(t *testing.T) {
	h := NewChallengeHandler(services.NewAttestationService(&fakeChallengeStore{}, &fakeChallengeMinter{}, &fakeQuotaDebiter{}, &fakeReceiptMinter{}, &fakeWebhookEnqueuer{}, nil, nil, nil))

	c, w := newTestContext(http.MethodPost, "/v1/pbi/challenge", mintChallengeRequest{Purpose: "login", ActionHashHex: "ab", TTLSeconds: 60})

	h.Mint(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
