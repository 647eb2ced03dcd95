// Package models defines the persisted entities of spec.md §3.
package models

import "time"

// Tenant is an API key holder (spec.md §3 "Tenant (API key)").
type Tenant struct {
	ID           string
	Label        string
	KeyHash      string
	Plan         string
	MonthlyQuota int64
	Active       bool
	Scopes       []string // nil means "all scopes granted"
	CreatedAt    time.Time
}

// HasScope reports whether t is authorized for the given scope. A nil
// Scopes slice grants every scope (spec.md §3).
func (t Tenant) HasScope(scope string) bool {
	if t.Scopes == nil {
		return true
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Challenge purposes (spec.md §3).
const (
	PurposeActionCommit        = "ACTION_COMMIT"
	PurposeArtifactAuthorship  = "ARTIFACT_AUTHORSHIP"
	PurposeEvidenceSubmit      = "EVIDENCE_SUBMIT"
	PurposeAdminDangerousOp    = "ADMIN_DANGEROUS_OP"
)

// ValidPurposes enumerates the closed purpose set for schema validation.
var ValidPurposes = map[string]bool{
	PurposeActionCommit:       true,
	PurposeArtifactAuthorship: true,
	PurposeEvidenceSubmit:     true,
	PurposeAdminDangerousOp:   true,
}

// Challenge is a one-shot nonce bound to a tenant and action (spec.md §3).
type Challenge struct {
	ID            string
	TenantID      string
	NonceB64URL   string
	Purpose       string
	ActionHashHex string
	ExpiresAt     time.Time
	UsedAt        *time.Time
	CreatedAt     time.Time
}

// IsExpired reports whether the challenge has aged out as of now.
func (c Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsUsed reports whether the challenge has already been consumed.
func (c Challenge) IsUsed() bool {
	return c.UsedAt != nil
}

// Receipt decisions (spec.md §3).
const (
	DecisionVerified = "PBI_VERIFIED"
	DecisionFailed   = "FAILED"
	DecisionExpired  = "EXPIRED"
	DecisionReplayed = "REPLAYED"
)

// Receipt is an append-only record of a verify outcome (spec.md §3).
type Receipt struct {
	ID             string
	TenantID       string
	ChallengeID    string
	Decision       string
	ReceiptHashHex string
	CreatedAt      time.Time
}

// Usage event kinds (spec.md §3).
const (
	UsageKindChallenge = "challenge"
	UsageKindVerify    = "verify"
)

// UsageEvent is an append-only quota debit record (spec.md §3).
type UsageEvent struct {
	ID        string
	TenantID  string
	MonthKey  string // UTC YYYY-MM
	Kind      string
	Units     int64
	CreatedAt time.Time
}

// Invoice is a per-tenant-per-month billing summary.
type Invoice struct {
	ID          string
	TenantID    string
	MonthKey    string
	AmountCents int64
	Status      string
	CreatedAt   time.Time
}

// WebhookEndpoint is a tenant-registered delivery target (spec.md §3).
type WebhookEndpoint struct {
	ID                  string
	TenantID            string
	URL                 string
	Events              []string
	Enabled             bool
	SecretCiphertextB64 string
	SecretNonceB64      string
	SecretHashHex       string // identifies the raw secret without storing it
	CreatedAt           time.Time
}

// SubscribesTo reports whether the endpoint is enabled and subscribed
// to the given event.
func (e WebhookEndpoint) SubscribesTo(event string) bool {
	if !e.Enabled {
		return false
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// Webhook delivery statuses (spec.md §3).
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// WebhookDelivery is one queued/attempted webhook POST (spec.md §3).
type WebhookDelivery struct {
	ID            string
	EndpointID    string
	Event         string
	ReceiptID     string
	PayloadJSON   []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	DeliveredAt   *time.Time
	LastError     string
	CreatedAt     time.Time
}
