package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Now().UTC().Truncate(time.Microsecond), ID: uuid.NewString()}
	encoded, err := EncodeCursor(c)
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestBuild_DefaultsOrderAndLimit(t *testing.T) {
	plan, err := Build(Filter{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "ORDER BY r.created_at desc, r.id desc")
	assert.Contains(t, plan.SQL, "LIMIT $2")
	assert.Equal(t, []interface{}{"tenant-1", 50}, plan.Args)
}

func TestBuild_RejectsInvalidOrder(t *testing.T) {
	_, err := Build(Filter{TenantID: "tenant-1", Order: "sideways"})
	assert.Error(t, err)
}

func TestBuild_RejectsMissingTenant(t *testing.T) {
	_, err := Build(Filter{})
	assert.Error(t, err)
}

func TestBuild_CursorPredicateUsesDescComparator(t *testing.T) {
	now := time.Now().UTC()
	cursor := Cursor{CreatedAt: now, ID: "r3"}
	plan, err := Build(Filter{TenantID: "t1", Order: OrderDesc, Cursor: &cursor})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "r.created_at < $2")
	assert.Contains(t, plan.SQL, "r.id < $3")
}

func TestBuild_CursorPredicateUsesAscComparatorForAsc(t *testing.T) {
	now := time.Now().UTC()
	cursor := Cursor{CreatedAt: now, ID: "r1"}
	plan, err := Build(Filter{TenantID: "t1", Order: OrderAsc, Cursor: &cursor})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "r.created_at > $2")
	assert.Contains(t, plan.SQL, "r.id > $3")
}

func TestBuild_AppliesAllFilters(t *testing.T) {
	after := time.Now().Add(-time.Hour)
	before := time.Now()
	plan, err := Build(Filter{
		TenantID:      "t1",
		ActionHashHex: "ab",
		ChallengeID:   "c1",
		Purpose:       "ACTION_COMMIT",
		Decision:      "PBI_VERIFIED",
		CreatedAfter:  &after,
		CreatedBefore: &before,
	})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "c.action_hash_hex = $2")
	assert.Contains(t, plan.SQL, "r.challenge_id = $3")
	assert.Contains(t, plan.SQL, "c.purpose = $4")
	assert.Contains(t, plan.SQL, "r.decision = $5")
	assert.Contains(t, plan.SQL, "r.created_at >= $6")
	assert.Contains(t, plan.SQL, "r.created_at < $7")
}
