package pbicrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCM_EncryptDecryptRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)

	plaintext := []byte("webhook-endpoint-secret-value")
	enc, err := AESGCMEncrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEmpty(t, enc.CiphertextB64)
	assert.NotEmpty(t, enc.NonceB64)

	decrypted, err := AESGCMDecrypt(key, enc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCM_WrongKeyFailsToDecrypt(t *testing.T) {
	key1, err := RandomBytes(32)
	require.NoError(t, err)
	key2, err := RandomBytes(32)
	require.NoError(t, err)

	enc, err := AESGCMEncrypt(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = AESGCMDecrypt(key2, enc)
	assert.Error(t, err)
}
