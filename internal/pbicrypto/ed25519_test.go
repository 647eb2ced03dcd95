package pbicrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519_SignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("canonical manifest bytes")
	sig := SignEd25519(priv, msg)
	assert.True(t, VerifyEd25519(pub, msg, sig))
	assert.False(t, VerifyEd25519(pub, []byte("tampered"), sig))
}

func TestEd25519_PublicKeyPEMRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemStr, err := EncodeEd25519PublicKeyPEM(pub)
	require.NoError(t, err)

	parsed, err := ParseEd25519PublicKeyPEM([]byte(pemStr))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestParseEd25519PrivateKeyPEM(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseEd25519PrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, priv, parsed)
}
