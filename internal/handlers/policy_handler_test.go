package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/policy"
)

func TestPolicyHandler_Get_NoDocument(t *testing.T) {
	h := NewPolicyHandler(nil)
	c, w := newTestContext(http.MethodGet, "/v1/policy", nil)

	h.Get(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPolicyHandler_Get_WithDocument(t *testing.T) {
	doc, err := policy.Parse([]byte(`{
		"schema": "pbi-policy-1.0",
		"issuedAt": "2026-01-01T00:00:00Z",
		"issuer": "test",
		"purposes": [
			{"purpose": "ACTION_COMMIT", "rpIdAllowList": ["example.com"], "originAllowList": ["https://example.com"], "requireUP": true, "requireUV": true}
		]
	}`))
	if err != nil {
		t.Fatal(err)
	}

	h := NewPolicyHandler(doc)
	c, w := newTestContext(http.MethodGet, "/v1/policy", nil)

	h.Get(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp policy.Document
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Schema != "pbi-policy-1.0" {
		t.Errorf("expected schema echoed back, got %s", resp.Schema)
	}
}
