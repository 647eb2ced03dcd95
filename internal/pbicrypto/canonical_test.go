package pbicrypto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	v := map[string]interface{}{
		"zebra": 1,
		"apple": 2,
		"mango": map[string]interface{}{"b": 1, "a": 2},
	}
	out, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":{"a":2,"b":1},"zebra":1}`, string(out))
}

func TestCanonicalize_Deterministic(t *testing.T) {
	v := map[string]interface{}{"c": 3, "a": 1, "b": 2}
	out1, err := Canonicalize(v)
	require.NoError(t, err)
	out2, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestCanonicalize_OmitsNullFields(t *testing.T) {
	v := map[string]interface{}{"present": "x", "absent": nil}
	out, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"present":"x"}`, string(out))
}

func TestCanonicalizeStruct_RoundTripsThroughParse(t *testing.T) {
	type manifest struct {
		Version     string         `json:"version"`
		GeneratedAt string         `json:"generatedAt"`
		TotalCount  int            `json:"totalCount"`
		Files       map[string]int `json:"files"`
	}
	m := manifest{
		Version:     "1.0",
		GeneratedAt: "2026-01-01T00:00:00Z",
		TotalCount:  3,
		Files:       map[string]int{"receipts.ndjson": 128, "policy.snapshot.json": 64},
	}
	out, err := CanonicalizeStruct(m)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "1.0", parsed["version"])
	assert.Equal(t, float64(3), parsed["totalCount"])
}

func TestCanonicalize_ArrayPreservesOrder(t *testing.T) {
	v := map[string]interface{}{"items": []interface{}{"c", "a", "b"}}
	out, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"items":["c","a","b"]}`, string(out))
}
