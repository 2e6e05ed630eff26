package database

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "logging_sessions_one_active"}

	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(dup, "logging_sessions_one_active"))
	assert.False(t, isUniqueViolation(dup, "users_phone_key"))
	assert.True(t, isUniqueViolation(dup, "users_phone_key", "logging_sessions_one_active"))
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestUserHasCredentials(t *testing.T) {
	assert.False(t, (&User{}).HasCredentials())
	assert.False(t, (&User{APIID: 1}).HasCredentials())
	assert.True(t, (&User{APIID: 1, APIHash: []byte{0x01}}).HasCredentials())
}
