package handlers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/services"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/webauthn"
)

type ecdsaSignature struct {
	R, S *big.Int
}

// signedAssertion builds a genuinely ES256-valid AssertionBundle, so the
// happy-path test exercises the real webauthn verifier rather than a stub.
func signedAssertion(t *testing.T, challengeB64, origin string) webauthn.AssertionBundle {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	cd := struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{Type: "webauthn.get", Challenge: challengeB64, Origin: origin}
	clientDataJSON, err := json.Marshal(cd)
	if err != nil {
		t.Fatal(err)
	}

	authData := make([]byte, 37)
	authData[32] = 0x01 | 0x04

	clientDataHash := sha256.Sum256(clientDataJSON)
	signedBytes := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signedBytes)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	sigDER, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
	if err != nil {
		t.Fatal(err)
	}

	return webauthn.AssertionBundle{
		AuthenticatorDataB64Url: pbicrypto.Base64URLEncode(authData),
		ClientDataJSONB64Url:    pbicrypto.Base64URLEncode(clientDataJSON),
		SignatureB64Url:         pbicrypto.Base64URLEncode(sigDER),
		PubKeyPem:               string(pubPEM),
	}
}

func toAssertionDTO(b webauthn.AssertionBundle) assertionDTO {
	return assertionDTO{
		AuthenticatorDataB64Url: b.AuthenticatorDataB64Url,
		ClientDataJSONB64Url:    b.ClientDataJSONB64Url,
		SignatureB64Url:         b.SignatureB64Url,
		CredIDB64Url:            b.CredIDB64Url,
		PubKeyPem:               b.PubKeyPem,
	}
}

func TestVerifyHandler_UnknownChallenge(t *testing.T) {
	svc := services.NewAttestationService(&fakeChallengeStore{byID: map[string]*models.Challenge{}}, nil, nil, nil, nil, nil, nil, nil)
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "missing"})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Verify(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["decision"] != "FAILED" || resp["reason"] != "unknown_challenge" {
		t.Errorf("unexpected body: %v", resp)
	}
}

func TestVerifyHandler_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	challenges := &fakeChallengeStore{byID: map[string]*models.Challenge{
		"c1": {ID: "c1", TenantID: "t1", ExpiresAt: now.Add(-time.Second)},
	}}
	svc := services.NewAttestationService(challenges, nil, nil, nil, nil, nil, nil, func() time.Time { return now })
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "c1"})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Verify(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp) != 1 || resp["decision"] != "EXPIRED" {
		t.Errorf("expected bare {decision:EXPIRED}, got %v", resp)
	}
}

func TestVerifyHandler_Replayed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	usedAt := now.Add(-time.Second)
	challenges := &fakeChallengeStore{byID: map[string]*models.Challenge{
		"c1": {ID: "c1", TenantID: "t1", ExpiresAt: now.Add(time.Minute), UsedAt: &usedAt},
	}}
	svc := services.NewAttestationService(challenges, nil, nil, nil, nil, nil, nil, func() time.Time { return now })
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "c1"})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Verify(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp) != 1 || resp["decision"] != "REPLAYED" {
		t.Errorf("expected bare {decision:REPLAYED}, got %v", resp)
	}
}

func TestVerifyHandler_QuotaExceeded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	origin := "https://example.com"
	bundle := signedAssertion(t, "abc", origin)
	challenges := &fakeChallengeStore{byID: map[string]*models.Challenge{
		"c1": {ID: "c1", TenantID: "t1", Purpose: models.PurposeActionCommit, ExpiresAt: now.Add(time.Minute), NonceB64URL: "abc"},
	}}
	quota := &fakeQuotaDebiter{result: services.DebitResult{OK: false, MonthKey: "2026-01", UsedAfter: 100, Quota: 100}}
	svc := services.NewAttestationService(challenges, nil, quota, nil, nil, nil, map[string]bool{origin: true}, func() time.Time { return now })
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "c1", Assertion: toAssertionDTO(bundle)})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Verify(c)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["decision"] != "FAILED" || resp["reason"] != "quota_exceeded" {
		t.Errorf("unexpected body: %v", resp)
	}
}

func TestVerifyHandler_HappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	origin := "https://example.com"
	bundle := signedAssertion(t, "abc", origin)
	challenges := &fakeChallengeStore{
		byID: map[string]*models.Challenge{
			"c1": {ID: "c1", TenantID: "t1", Purpose: models.PurposeActionCommit, ExpiresAt: now.Add(time.Minute), NonceB64URL: "abc"},
		},
		markUsed: true,
	}
	quota := &fakeQuotaDebiter{result: services.DebitResult{OK: true, MonthKey: "2026-01", UsedAfter: 6, Quota: 100}}
	receipts := &fakeReceiptMinter{receipt: &models.Receipt{ID: "r1", ReceiptHashHex: "deadbeef"}}
	webhooks := &fakeWebhookEnqueuer{}

	svc := services.NewAttestationService(challenges, nil, quota, receipts, webhooks, nil, map[string]bool{origin: true}, func() time.Time { return now })
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "c1", Assertion: toAssertionDTO(bundle)})
	withTenant(c, &models.Tenant{ID: "t1", MonthlyQuota: 100, Active: true})

	h.Verify(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["decision"] != models.DecisionVerified {
		t.Errorf("expected %s decision, got %v", models.DecisionVerified, resp["decision"])
	}
	if resp["ok"] != true {
		t.Errorf("expected ok:true, got %v", resp["ok"])
	}
}

func TestVerifyHandler_NoTenant(t *testing.T) {
	svc := services.NewAttestationService(&fakeChallengeStore{byID: map[string]*models.Challenge{}}, nil, nil, nil, nil, nil, nil, nil)
	h := NewVerifyHandler(svc)

	c, w := newTestContext(http.MethodPost, "/v1/pbi/verify", verifyRequest{ChallengeID: "c1"})

	h.Verify(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
