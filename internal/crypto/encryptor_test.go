package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := enc.Wrap(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, plaintext, wrapped)
	assert.Equal(t, byte(0x01), wrapped[0], "wrapped values carry the format version byte")

	unwrapped, err := enc.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unwrapped)
}

func TestUnwrapTamperedCiphertext(t *testing.T) {
	enc, err := NewEncryptor("test-key-material")
	require.NoError(t, err)

	wrapped, err := enc.WrapString("super secret api hash")
	require.NoError(t, err)

	wrapped[len(wrapped)-1] ^= 0xFF

	_, err = enc.Unwrap(wrapped)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCredentialDecrypt)
}

func TestUnwrapUnknownVersion(t *testing.T) {
	enc, err := NewEncryptor("test-key-material")
	require.NoError(t, err)

	wrapped, err := enc.Wrap([]byte("payload"))
	require.NoError(t, err)

	wrapped[0] = 0x7F
	_, err = enc.Unwrap(wrapped)
	assert.ErrorIs(t, err, apperrors.ErrCredentialDecrypt)
}

func TestUnwrapTruncated(t *testing.T) {
	enc, err := NewEncryptor("test-key-material")
	require.NoError(t, err)

	_, err = enc.Unwrap([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, apperrors.ErrCredentialDecrypt)

	_, err = enc.Unwrap(nil)
	assert.ErrorIs(t, err, apperrors.ErrCredentialDecrypt)
}

func TestWrongKeyFailsDecrypt(t *testing.T) {
	encA, err := NewEncryptor("key-a")
	require.NoError(t, err)
	encB, err := NewEncryptor("key-b")
	require.NoError(t, err)

	wrapped, err := encA.WrapString("session bytes")
	require.NoError(t, err)

	_, err = encB.Unwrap(wrapped)
	assert.ErrorIs(t, err, apperrors.ErrCredentialDecrypt)
}

func TestNewEncryptorRequiresKey(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)
}

func TestWrapStringHelpers(t *testing.T) {
	enc, err := NewEncryptor("test-key-material")
	require.NoError(t, err)

	wrapped, err := enc.WrapString("deadbeef")
	require.NoError(t, err)

	out, err := enc.UnwrapString(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", out)
}
