package pbicrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// EncryptedSecret is the at-rest representation of a webhook endpoint
// secret (spec.md §3): AES-GCM ciphertext plus the nonce used to seal
// it. The tag is appended to the ciphertext by cipher.AEAD.Seal.
type EncryptedSecret struct {
	CiphertextB64 string
	NonceB64      string
}

// AESGCMEncrypt seals plaintext under a 32-byte key, returning the
// ciphertext (with appended GCM tag) and the nonce, both base64
// standard-encoded for storage in text columns.
func AESGCMEncrypt(key32 []byte, plaintext []byte) (EncryptedSecret, error) {
	block, err := aes.NewCipher(key32)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("pbicrypto: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("pbicrypto: new GCM: %w", err)
	}
	nonce, err := RandomBytes(gcm.NonceSize())
	if err != nil {
		return EncryptedSecret{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return EncryptedSecret{
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// AESGCMDecrypt opens a value produced by AESGCMEncrypt.
func AESGCMDecrypt(key32 []byte, enc EncryptedSecret) ([]byte, error) {
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: new GCM: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc.CiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: decode nonce: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: decrypt: %w", err)
	}
	return plaintext, nil
}
