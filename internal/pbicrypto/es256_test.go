package pbicrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateP256PEM(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, pemBytes
}

func signES256(t *testing.T, priv *ecdsa.PrivateKey, signedBytes []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(signedBytes)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	der, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
	require.NoError(t, err)
	return der
}

func TestVerifyES256_ValidSignature(t *testing.T) {
	priv, pubPEM := generateP256PEM(t)
	signedBytes := []byte("authData||clientDataHash")
	sig := signES256(t, priv, signedBytes)

	ok, err := VerifyES256(pubPEM, signedBytes, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyES256_RejectsTamperedBytes(t *testing.T) {
	priv, pubPEM := generateP256PEM(t)
	sig := signES256(t, priv, []byte("original"))

	ok, err := VerifyES256(pubPEM, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseES256PublicKeyPEM_RejectsNonP256Curve(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	_, err = ParseES256PublicKeyPEM(pemBytes)
	assert.ErrorIs(t, err, ErrNotP256)
}

func TestVerifyES256_MalformedSignatureErrors(t *testing.T) {
	_, pubPEM := generateP256PEM(t)
	_, err := VerifyES256(pubPEM, []byte("x"), []byte("not-der"))
	assert.Error(t, err)
}

func TestVerifyES256_ZeroRSRejected(t *testing.T) {
	_, pubPEM := generateP256PEM(t)
	der, err := asn1.Marshal(ecdsaSignature{R: big.NewInt(0), S: big.NewInt(0)})
	require.NoError(t, err)
	ok, err := VerifyES256(pubPEM, []byte("x"), der)
	require.NoError(t, err)
	assert.False(t, ok)
}
