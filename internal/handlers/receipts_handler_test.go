package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/query"
)

func TestParseFilter_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/pbi/receipts", http.NoBody)

	f, err := parseFilter(c, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.TenantID != "t1" {
		t.Errorf("expected tenant t1, got %s", f.TenantID)
	}
	if f.Order != query.OrderDesc {
		t.Errorf("expected default order desc, got %s", f.Order)
	}
	if f.Limit != 0 {
		t.Errorf("expected zero limit when unset, got %d", f.Limit)
	}
}

func TestParseFilter_InvalidLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/pbi/receipts?limit=-5", http.NoBody)

	_, err := parseFilter(c, "t1")
	if err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func TestParseFilter_InvalidCursor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/pbi/receipts?cursor=not-base64url-json", http.NoBody)

	_, err := parseFilter(c, "t1")
	if err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestParseFilter_ValidCursorAndCreatedRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	encoded, err := query.EncodeCursor(query.Cursor{CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ID: "r1"})
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/pbi/receipts?cursor="+encoded+"&createdAfter=2026-01-01T00:00:00Z&createdBefore=2026-02-01T00:00:00Z&limit=25&order=asc", http.NoBody)

	f, err := parseFilter(c, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Cursor == nil || f.Cursor.ID != "r1" {
		t.Errorf("expected decoded cursor with id r1, got %+v", f.Cursor)
	}
	if f.Limit != 25 {
		t.Errorf("expected limit 25, got %d", f.Limit)
	}
	if f.Order != query.OrderAsc {
		t.Errorf("expected order asc, got %s", f.Order)
	}
	if f.CreatedAfter == nil || f.CreatedBefore == nil {
		t.Error("expected both createdAfter and createdBefore to be set")
	}
}

func TestParseFilter_MalformedCreatedAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/pbi/receipts?createdAfter=not-a-date", http.NoBody)

	_, err := parseFilter(c, "t1")
	if err == nil {
		t.Fatal("expected error for malformed createdAfter")
	}
}

func TestReceiptsHandler_List_NoTenant(t *testing.T) {
	h := NewReceiptsHandler(nil, nil, nil, nil, nil)
	c, w := newTestContext(http.MethodGet, "/v1/pbi/receipts", nil)

	h.List(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestReceiptsHandler_VerifyReceipt_NoTenant(t *testing.T) {
	h := NewReceiptsHandler(nil, nil, nil, nil, nil)
	c, w := newTestContext(http.MethodPost, "/v1/pbi/receipts/verify", verifyReceiptRequest{ReceiptID: "r1", ReceiptHashHex: "ab"})

	h.VerifyReceipt(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
