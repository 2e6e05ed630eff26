package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// User is a registered platform account. APIHash and TelegramSession hold
// ciphertext produced by the credential store; the plaintext never touches
// this package.
type User struct {
	ID              int64
	Phone           string
	PasswordHash    string
	APIID           int
	APIHash         []byte
	TelegramSession []byte
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLogin       *time.Time
}

// HasCredentials reports whether the user has stored Telegram API
// credentials.
func (u *User) HasCredentials() bool {
	return u.APIID != 0 && len(u.APIHash) > 0
}

// CreateUser registers a new account. A duplicate phone yields
// ErrDuplicateUser.
func (d *DB) CreateUser(ctx context.Context, phone, passwordHash string, apiID int, apiHash []byte) (*User, error) {
	var user User
	err := d.QueryRow(ctx, `
		INSERT INTO users (phone, password_hash, api_id, api_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, phone, password_hash, api_id, api_hash, is_active, created_at, updated_at
	`, phone, passwordHash, apiID, apiHash).Scan(
		&user.ID, &user.Phone, &user.PasswordHash, &user.APIID, &user.APIHash,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users_phone_key") {
			return nil, apperrors.ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// GetUserByPhone looks a user up by phone number. Missing users yield
// ErrUnknownUser.
func (d *DB) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	return d.getUser(ctx, `WHERE phone = $1`, phone)
}

// GetUserByID looks a user up by id. Missing users yield ErrUnknownUser.
func (d *DB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return d.getUser(ctx, `WHERE id = $1`, id)
}

func (d *DB) getUser(ctx context.Context, where string, arg any) (*User, error) {
	var user User
	var lastLogin *time.Time
	err := d.QueryRow(ctx, `
		SELECT id, phone, password_hash, COALESCE(api_id, 0), api_hash, telegram_session,
		       is_active, created_at, updated_at, last_login
		FROM users `+where,
		arg,
	).Scan(
		&user.ID, &user.Phone, &user.PasswordHash, &user.APIID, &user.APIHash,
		&user.TelegramSession, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &lastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.LastLogin = lastLogin
	return &user, nil
}

// TouchLastLogin records a successful login.
func (d *DB) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := d.Exec(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the Telegram API credentials and invalidates
// the stored session blob, which was bound to the old credentials.
func (d *DB) UpdateCredentials(ctx context.Context, userID int64, apiID int, apiHash []byte) error {
	tag, err := d.Exec(ctx, `
		UPDATE users SET api_id = $2, api_hash = $3, telegram_session = NULL
		WHERE id = $1
	`, userID, apiID, apiHash)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUnknownUser
	}
	return nil
}

// UpdatePasswordHash rotates the login password hash.
func (d *DB) UpdatePasswordHash(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := d.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUnknownUser
	}
	return nil
}

// SaveTelegramSession persists the wrapped session blob for a phone.
func (d *DB) SaveTelegramSession(ctx context.Context, phone string, wrapped []byte) error {
	tag, err := d.Exec(ctx, `UPDATE users SET telegram_session = $2 WHERE phone = $1`, phone, wrapped)
	if err != nil {
		return fmt.Errorf("failed to save telegram session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUnknownUser
	}
	return nil
}

// ClearTelegramSession drops the stored session blob, forcing a fresh
// authentication. Used when Telegram reports the authorization revoked.
func (d *DB) ClearTelegramSession(ctx context.Context, phone string) error {
	_, err := d.Exec(ctx, `UPDATE users SET telegram_session = NULL WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("failed to clear telegram session: %w", err)
	}
	return nil
}
