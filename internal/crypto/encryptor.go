package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// formatVersion is the leading byte of every wrapped value. It exists so a
// future key rotation can distinguish old ciphertexts from new ones.
const formatVersion byte = 0x01

// Encryptor wraps sensitive values (api_hash, Telegram session blobs) with
// AES-256-GCM before they touch the database. Plaintext only ever lives in
// memory.
type Encryptor struct {
	key []byte
}

// NewEncryptor creates an encryptor from a base64-encoded 32-byte key.
// Raw key material of any other shape is hashed down to 32 bytes.
func NewEncryptor(encoded string) (*Encryptor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("encryption key is required: set ENCRYPTION_KEY")
	}

	var key []byte
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(encoded))
		key = hash[:]
	}

	return &Encryptor{key: key}, nil
}

// Wrap encrypts plaintext and prepends the format version byte.
func (e *Encryptor) Wrap(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Layout: version || nonce || ciphertext
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Unwrap decrypts a value produced by Wrap. Tampered or truncated input
// yields ErrCredentialDecrypt.
func (e *Encryptor) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < 1 || wrapped[0] != formatVersion {
		return nil, apperrors.Wrap(apperrors.ErrCredentialDecrypt, fmt.Errorf("unknown wrapping version"))
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	body := wrapped[1:]
	nonceSize := gcm.NonceSize()
	if len(body) < nonceSize {
		return nil, apperrors.Wrap(apperrors.ErrCredentialDecrypt, fmt.Errorf("ciphertext too short"))
	}

	nonce, ciphertext := body[:nonceSize], body[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCredentialDecrypt, err)
	}

	return plaintext, nil
}

// WrapString encrypts a string value.
func (e *Encryptor) WrapString(plaintext string) ([]byte, error) {
	return e.Wrap([]byte(plaintext))
}

// UnwrapString decrypts a value produced by WrapString.
func (e *Encryptor) UnwrapString(wrapped []byte) (string, error) {
	plaintext, err := e.Unwrap(wrapped)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte key encoded for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
