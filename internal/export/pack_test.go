package export

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_ManifestSignatureVerifiesAndHashesMatch(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	in := BuildInput{
		ReceiptRows: []map[string]interface{}{
			{"id": "r1", "decision": "PBI_VERIFIED"},
			{"id": "r2", "decision": "PBI_VERIFIED"},
		},
		Filters:        map[string]string{"decision": "PBI_VERIFIED"},
		PolicySnapshot: map[string]interface{}{"schema": "pbi-policy-1.0"},
		SigningKey:     priv,
		Now:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	pack, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, 2, pack.Manifest.TotalCount)

	files := map[string][]byte{
		"receipts.ndjson":      pack.ReceiptsNDJSON,
		"policy.snapshot.json": pack.PolicySnapshot,
	}

	ok, err := VerifyManifestSignature(pack.Manifest, files, pack.Signature)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyManifestSignature_DetectsTamperedFile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	in := BuildInput{
		ReceiptRows:    []map[string]interface{}{{"id": "r1"}},
		Filters:        map[string]string{},
		PolicySnapshot: map[string]interface{}{"schema": "pbi-policy-1.0"},
		SigningKey:     priv,
		Now:            time.Now(),
	}
	pack, err := Build(in)
	require.NoError(t, err)

	files := map[string][]byte{
		"receipts.ndjson":      []byte(`{"id":"tampered"}` + "\n"),
		"policy.snapshot.json": pack.PolicySnapshot,
	}

	ok, err := VerifyManifestSignature(pack.Manifest, files, pack.Signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyManifestSignature_DetectsWrongSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	in := BuildInput{
		ReceiptRows:    []map[string]interface{}{{"id": "r1"}},
		PolicySnapshot: map[string]interface{}{"schema": "pbi-policy-1.0"},
		SigningKey:     priv,
		Now:            time.Now(),
	}
	pack, err := Build(in)
	require.NoError(t, err)

	otherPack, err := Build(BuildInput{
		ReceiptRows:    in.ReceiptRows,
		PolicySnapshot: in.PolicySnapshot,
		SigningKey:     otherPriv,
		Now:            in.Now,
	})
	require.NoError(t, err)

	files := map[string][]byte{
		"receipts.ndjson":      pack.ReceiptsNDJSON,
		"policy.snapshot.json": pack.PolicySnapshot,
	}
	// Keep pack's own public key but carry a signature made by another key.
	forged := pack.Signature
	forged.SignatureB64Url = otherPack.Signature.SignatureB64Url
	ok, err := VerifyManifestSignature(pack.Manifest, files, forged)
	require.NoError(t, err)
	assert.False(t, ok)
}
