package pbicrypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Ed25519KeyPair holds a parsed signing keypair for export-pack manifests.
type Ed25519KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// ParseEd25519PrivateKeyPEM decodes a PKCS8 PEM-encoded Ed25519 private key.
func ParseEd25519PrivateKeyPEM(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("pbicrypto: no PEM block found for ed25519 private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: parse PKCS8 private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pbicrypto: key is not ed25519 (got %T)", key)
	}
	return priv, nil
}

// ParseEd25519PublicKeyPEM decodes an SPKI PEM-encoded Ed25519 public key.
func ParseEd25519PublicKeyPEM(pemBytes []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("pbicrypto: no PEM block found for ed25519 public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: parse SPKI public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("pbicrypto: key is not ed25519 (got %T)", key)
	}
	return pub, nil
}

// EncodeEd25519PublicKeyPEM re-encodes pub as SPKI PEM, used to embed
// publicKeyPem in the export-pack signature record (§4.8).
func EncodeEd25519PublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("pbicrypto: marshal SPKI public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// SignEd25519 signs message with priv, returning the raw 64-byte signature.
func SignEd25519(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// VerifyEd25519 verifies sig over message with pub.
func VerifyEd25519(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}
