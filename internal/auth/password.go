package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// HashPassword hashes a login password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password against its stored hash; mismatches
// yield ErrInvalidPassword.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperrors.ErrInvalidPassword
	}
	return nil
}
