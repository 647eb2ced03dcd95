package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

type ecdsaSig struct{ R, S *big.Int }

func buildAssertion(t *testing.T, challenge, origin, clientType string, up, uv bool) (AssertionBundle, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	cd := clientData{Type: clientType, Challenge: challenge, Origin: origin}
	cdJSON, err := json.Marshal(cd)
	require.NoError(t, err)

	authData := make([]byte, 37)
	var flags byte
	if up {
		flags |= flagUserPresent
	}
	if uv {
		flags |= flagUserVerified
	}
	authData[32] = flags

	clientDataHash := sha256.Sum256(cdJSON)
	signedBytes := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signedBytes)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	sigDER, err := asn1.Marshal(ecdsaSig{R: r, S: s})
	require.NoError(t, err)

	return AssertionBundle{
		AuthenticatorDataB64Url: pbicrypto.Base64URLEncode(authData),
		ClientDataJSONB64Url:    pbicrypto.Base64URLEncode(cdJSON),
		SignatureB64Url:         pbicrypto.Base64URLEncode(sigDER),
		PubKeyPem:               string(pubPEM),
	}, priv
}

func TestVerify_HappyPath(t *testing.T) {
	challenge := "expected-challenge-b64url"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.get", true, true)

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	assert.NoError(t, err)
}

func TestVerify_BadOrigin(t *testing.T) {
	challenge := "expected-challenge-b64url"
	bundle, _ := buildAssertion(t, challenge, "https://evil.example", "webauthn.get", true, true)

	err := Verify(challenge, bundle, map[string]bool{"https://app.example.com": true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadOrigin))
}

func TestVerify_BadChallenge(t *testing.T) {
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, "wrong-challenge", origin, "webauthn.get", true, true)

	err := Verify("expected-challenge", bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadChallenge))
}

func TestVerify_MissingUserPresence(t *testing.T) {
	challenge := "expected-challenge"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.get", false, true)

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingUP))
}

func TestVerify_MissingUserVerification(t *testing.T) {
	challenge := "expected-challenge"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.get", true, false)

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingUV))
}

func TestVerify_WrongClientDataType(t *testing.T) {
	challenge := "expected-challenge"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.create", true, true)

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadClientData))
}

func TestVerify_TamperedSignatureFails(t *testing.T) {
	challenge := "expected-challenge"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.get", true, true)

	// Corrupt the client data after signing, so the signed bytes no longer match.
	bundle.ClientDataJSONB64Url = pbicrypto.Base64URLEncode([]byte(`{"type":"webauthn.get","challenge":"expected-challenge","origin":"https://app.example.com","extra":"x"}`))

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadSignature))
}

func TestVerify_ShortAuthenticatorData(t *testing.T) {
	challenge := "expected-challenge"
	origin := "https://app.example.com"
	bundle, _ := buildAssertion(t, challenge, origin, "webauthn.get", true, true)
	bundle.AuthenticatorDataB64Url = pbicrypto.Base64URLEncode(make([]byte, 10))

	err := Verify(challenge, bundle, map[string]bool{origin: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadClientData))
}
