package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.Generate(42, "+391234567890")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "+391234567890", claims.Phone)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewJWTService("secret", -time.Minute)

	token, err := svc.Generate(42, "+391234567890")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Generate(42, "+391234567890")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).Validate(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	_, err := svc.Validate("not-a-token")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestDefaultTTL(t *testing.T) {
	svc := NewJWTService("secret", 0)
	assert.Equal(t, DefaultTokenTTL, svc.TokenTTL())
}
