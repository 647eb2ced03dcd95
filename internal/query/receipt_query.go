// Package query builds the filtered, stably paginated SQL for the
// receipt query planner (spec.md §4.6, C7).
package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the opaque pagination token (spec.md §3): a
// (createdAt, id) tuple serialized as base64url JSON.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// EncodeCursor serializes c as base64url(JSON).
func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("query: marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("query: decode cursor base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("query: unmarshal cursor json: %w", err)
	}
	return c, nil
}

// Order is the pagination direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filter is the full set of inputs the planner accepts (spec.md §4.6).
type Filter struct {
	TenantID      string
	Limit         int
	Order         Order
	Cursor        *Cursor
	ActionHashHex string
	ChallengeID   string
	Purpose       string
	Decision      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Plan is the prepared statement text plus its positional arguments.
type Plan struct {
	SQL  string
	Args []interface{}
}

// Build composes the filtered, paginated query described in spec.md
// §4.6: ordering by (created_at, id) with a matching direction on both
// columns so equal timestamps get a deterministic tiebreak, and a
// cursor predicate that is stable across inserts: in descending order
// any row newly inserted at or after the cursor's createdAt sorts on
// the already-emitted side of the cursor; in ascending order it sorts
// after the cursor and appears on a later page.
func Build(f Filter) (Plan, error) {
	if f.TenantID == "" {
		return Plan{}, fmt.Errorf("query: tenantId is required")
	}
	order := f.Order
	if order == "" {
		order = OrderDesc
	}
	if order != OrderAsc && order != OrderDesc {
		return Plan{}, fmt.Errorf("query: invalid order %q", order)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, fmt.Sprintf("r.tenant_id = %s", arg(f.TenantID)))

	if f.ActionHashHex != "" {
		where = append(where, fmt.Sprintf("c.action_hash_hex = %s", arg(f.ActionHashHex)))
	}
	if f.ChallengeID != "" {
		where = append(where, fmt.Sprintf("r.challenge_id = %s", arg(f.ChallengeID)))
	}
	if f.Purpose != "" {
		where = append(where, fmt.Sprintf("c.purpose = %s", arg(f.Purpose)))
	}
	if f.Decision != "" {
		where = append(where, fmt.Sprintf("r.decision = %s", arg(f.Decision)))
	}
	if f.CreatedAfter != nil {
		where = append(where, fmt.Sprintf("r.created_at >= %s", arg(*f.CreatedAfter)))
	}
	if f.CreatedBefore != nil {
		where = append(where, fmt.Sprintf("r.created_at < %s", arg(*f.CreatedBefore)))
	}

	if f.Cursor != nil {
		cmp := "<"
		if order == OrderAsc {
			cmp = ">"
		}
		createdAtArg := arg(f.Cursor.CreatedAt)
		idArg := arg(f.Cursor.ID)
		where = append(where, fmt.Sprintf(
			"(r.created_at %s %s OR (r.created_at = %s AND r.id %s %s))",
			cmp, createdAtArg, createdAtArg, cmp, idArg,
		))
	}

	limitArg := arg(limit)

	sqlText := fmt.Sprintf(`
		SELECT r.id, r.tenant_id, r.challenge_id, r.decision, r.receipt_hash_hex, r.created_at,
		       c.id, c.tenant_id, c.nonce_b64url, c.purpose, c.action_hash_hex, c.expires_at, c.used_at, c.created_at
		FROM pbi_receipts r
		JOIN pbi_challenges c ON c.id = r.challenge_id
		WHERE %s
		ORDER BY r.created_at %s, r.id %s
		LIMIT %s
	`, strings.Join(where, " AND "), order, order, limitArg)

	return Plan{SQL: sqlText, Args: args}, nil
}
