// Package webauthn implements the stateless PBI assertion verifier
// (spec.md §4.4, C5): it parses clientDataJSON, enforces the
// type/challenge/origin policy, checks authenticator-data flags, and
// ES256-verifies the signature. It neither reads nor writes the
// challenge store.
package webauthn

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
	"github.com/kojibai/pbi-enterprise-api-sub002/internal/pbicrypto"
)

// AssertionBundle carries the base64url-encoded fields a client
// submits with a verify request (spec.md §4.4).
type AssertionBundle struct {
	AuthenticatorDataB64Url string
	ClientDataJSONB64Url    string
	SignatureB64Url         string
	CredIDB64Url            string
	PubKeyPem               string
}

// clientData is the subset of WebAuthn's clientDataJSON this verifier cares about.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

const (
	flagUserPresent  byte = 0x01
	flagUserVerified byte = 0x04
)

// Verify runs the eight-step procedure from spec.md §4.4 against an
// expected challenge and an allowed-origins allowlist. On any check
// failure it returns an *apperr.Error carrying the specific crypto
// reason code (BAD_CLIENT_DATA, BAD_ORIGIN, BAD_CHALLENGE, MISSING_UP,
// MISSING_UV, BAD_SIGNATURE); the first failing check wins.
func Verify(expectedChallengeB64Url string, bundle AssertionBundle, allowedOrigins map[string]bool) error {
	authData, err := pbicrypto.Base64URLDecode(bundle.AuthenticatorDataB64Url)
	if err != nil {
		return apperr.New(apperr.KindBadClientData, "invalid authenticatorData encoding")
	}
	clientDataJSON, err := pbicrypto.Base64URLDecode(bundle.ClientDataJSONB64Url)
	if err != nil {
		return apperr.New(apperr.KindBadClientData, "invalid clientDataJSON encoding")
	}
	signature, err := pbicrypto.Base64URLDecode(bundle.SignatureB64Url)
	if err != nil {
		return apperr.New(apperr.KindBadClientData, "invalid signature encoding")
	}

	var cd clientData
	if err := json.Unmarshal(clientDataJSON, &cd); err != nil {
		return apperr.New(apperr.KindBadClientData, "clientDataJSON is not valid JSON")
	}
	if cd.Type == "" || cd.Challenge == "" || cd.Origin == "" {
		return apperr.New(apperr.KindBadClientData, "clientDataJSON missing required fields")
	}

	if cd.Type != "webauthn.get" {
		return apperr.New(apperr.KindBadClientData, fmt.Sprintf("unexpected clientData type %q", cd.Type))
	}

	if cd.Challenge != expectedChallengeB64Url {
		return apperr.New(apperr.KindBadChallenge, "clientData challenge does not match the minted challenge")
	}

	if !allowedOrigins[cd.Origin] {
		return apperr.New(apperr.KindBadOrigin, fmt.Sprintf("origin %q is not allowed", cd.Origin))
	}

	if len(authData) <= 32 {
		return apperr.New(apperr.KindBadClientData, "authenticatorData too short")
	}
	flags := authData[32]
	if flags&flagUserPresent == 0 {
		return apperr.New(apperr.KindMissingUP, "authenticator did not assert user presence")
	}
	if flags&flagUserVerified == 0 {
		return apperr.New(apperr.KindMissingUV, "authenticator did not assert user verification")
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	signedBytes := append(append([]byte{}, authData...), clientDataHash[:]...)

	ok, err := pbicrypto.VerifyES256([]byte(bundle.PubKeyPem), signedBytes, signature)
	if err != nil {
		return apperr.New(apperr.KindBadSignature, "malformed signature or public key")
	}
	if !ok {
		return apperr.New(apperr.KindBadSignature, "signature verification failed")
	}

	return nil
}
