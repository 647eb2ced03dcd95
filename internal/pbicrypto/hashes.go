package pbicrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the raw SHA-256 digest of data.
func SHA256Bytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACSHA256Hex computes HMAC-SHA-256(key, message) as lowercase hex.
// Used for receipt fingerprints (§4.1) and webhook delivery signatures
// (§4.9), both of which are specified as lowercase-hex HMAC output.
func HMACSHA256Hex(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACEqual constant-time compares two lowercase-hex HMAC values,
// guarding receipt re-verification and webhook signature checks
// against timing side channels.
func HMACEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("pbicrypto: read random bytes: %w", err)
	}
	return buf, nil
}

// Base64URLEncode encodes data without padding, as used throughout the
// wire format (challenge nonces, assertion fields, cursors).
func Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Base64URLDecode decodes a base64url string, tolerating both padded
// and unpadded input since clients may send either.
func Base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// NewNonceB64URL generates a 256-bit (32-byte) random nonce and
// returns its base64url encoding, per spec.md §3's challenge nonce
// definition.
func NewNonceB64URL() (string, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return Base64URLEncode(b), nil
}
