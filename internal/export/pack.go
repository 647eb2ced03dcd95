// Package export builds and verifies signed offline export packs
// (spec.md §4.8, C10).
package export

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

// FileEntry is one file's integrity record inside the manifest.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

// Manifest is the canonicalized, signed description of a pack's contents.
type Manifest struct {
	Version     string               `json:"version"`
	GeneratedAt string               `json:"generatedAt"`
	Filters     map[string]string    `json:"filters"`
	TotalCount  int                  `json:"totalCount"`
	Files       map[string]FileEntry `json:"files"`
}

// SignatureRecord accompanies the manifest as manifest.sig.json.
type SignatureRecord struct {
	Algorithm      string `json:"algorithm"`
	PublicKeyPem   string `json:"publicKeyPem"`
	SignatureB64Url string `json:"signatureB64Url"`
	ManifestSha256 string `json:"manifestSha256"`
	SignedAt       string `json:"signedAt"`
}

// Pack is the full set of files produced for an export (spec.md §4.8).
type Pack struct {
	ReceiptsNDJSON []byte
	PolicySnapshot []byte
	TrustSnapshot  []byte // optional, may be nil
	Manifest       Manifest
	ManifestBytes  []byte // canonical JSON bytes that were signed
	Signature      SignatureRecord
}

// BuildInput gathers everything needed to assemble a pack.
type BuildInput struct {
	ReceiptRows    []map[string]interface{} // one JSON object per receipt+challenge
	Filters        map[string]string
	PolicySnapshot interface{} // pretty-printed as policy.snapshot.json
	TrustSnapshot  interface{} // optional
	SigningKey     ed25519.PrivateKey
	Now            time.Time
}

// Build assembles receipts.ndjson, policy.snapshot.json, an optional
// trust.snapshot.json, a canonical manifest, and its Ed25519 signature
// (spec.md §4.8).
func Build(in BuildInput) (*Pack, error) {
	ndjson, err := buildNDJSON(in.ReceiptRows)
	if err != nil {
		return nil, fmt.Errorf("export: build receipts.ndjson: %w", err)
	}

	policyBytes, err := json.MarshalIndent(in.PolicySnapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal policy snapshot: %w", err)
	}

	files := map[string]FileEntry{
		"receipts.ndjson":     fileEntry(ndjson),
		"policy.snapshot.json": fileEntry(policyBytes),
	}

	var trustBytes []byte
	if in.TrustSnapshot != nil {
		trustBytes, err = json.MarshalIndent(in.TrustSnapshot, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("export: marshal trust snapshot: %w", err)
		}
		files["trust.snapshot.json"] = fileEntry(trustBytes)
	}

	manifest := Manifest{
		Version:     "1.0",
		GeneratedAt: in.Now.UTC().Format(time.RFC3339),
		Filters:     in.Filters,
		TotalCount:  len(in.ReceiptRows),
		Files:       files,
	}

	manifestBytes, err := pbicrypto.CanonicalizeStruct(manifest)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize manifest: %w", err)
	}

	sig := pbicrypto.SignEd25519(in.SigningKey, manifestBytes)
	pubKeyPEM, err := pbicrypto.EncodeEd25519PublicKeyPEM(in.SigningKey.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("export: encode public key: %w", err)
	}

	sigRecord := SignatureRecord{
		Algorithm:       "Ed25519",
		PublicKeyPem:    pubKeyPEM,
		SignatureB64Url: pbicrypto.Base64URLEncode(sig),
		ManifestSha256:  pbicrypto.SHA256Hex(manifestBytes),
		SignedAt:        in.Now.UTC().Format(time.RFC3339),
	}

	return &Pack{
		ReceiptsNDJSON: ndjson,
		PolicySnapshot: policyBytes,
		TrustSnapshot:  trustBytes,
		Manifest:       manifest,
		ManifestBytes:  manifestBytes,
		Signature:      sigRecord,
	}, nil
}

func buildNDJSON(rows []map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func fileEntry(data []byte) FileEntry {
	return FileEntry{SHA256: pbicrypto.SHA256Hex(data), Bytes: len(data)}
}

// VerifyManifestSignature is the offline consumer-side check from
// spec.md §4.8: canonicalize the manifest, recompute each file's
// SHA-256, compare against the manifest entries, and Ed25519-verify
// the signature against the embedded public key.
func VerifyManifestSignature(manifest Manifest, files map[string][]byte, sig SignatureRecord) (bool, error) {
	manifestBytes, err := pbicrypto.CanonicalizeStruct(manifest)
	if err != nil {
		return false, fmt.Errorf("export: canonicalize manifest: %w", err)
	}
	if pbicrypto.SHA256Hex(manifestBytes) != sig.ManifestSha256 {
		return false, nil
	}

	for name, entry := range manifest.Files {
		content, ok := files[name]
		if !ok {
			return false, fmt.Errorf("export: missing file %q referenced by manifest", name)
		}
		if pbicrypto.SHA256Hex(content) != entry.SHA256 || len(content) != entry.Bytes {
			return false, nil
		}
	}

	pub, err := pbicrypto.ParseEd25519PublicKeyPEM([]byte(sig.PublicKeyPem))
	if err != nil {
		return false, fmt.Errorf("export: parse signature public key: %w", err)
	}
	sigBytes, err := pbicrypto.Base64URLDecode(sig.SignatureB64Url)
	if err != nil {
		return false, fmt.Errorf("export: decode signature: %w", err)
	}

	return pbicrypto.VerifyEd25519(pub, manifestBytes, sigBytes), nil
}
