package auth

import (
	"context"
	"fmt"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserContextKey is the key used to store the authenticated identity
	// in the request context
	UserContextKey contextKey = "user"
)

// Identity is the authenticated caller in request context.
type Identity struct {
	UserID int64  `json:"user_id"`
	Phone  string `json:"phone"`
}

// GetIdentity extracts the authenticated identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	identity, ok := ctx.Value(UserContextKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) (int64, error) {
	identity := GetIdentity(ctx)
	if identity == nil {
		return -1, fmt.Errorf("could not extract user from request context")
	}
	return identity.UserID, nil
}

// SetIdentity returns a new context carrying the identity.
func SetIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, UserContextKey, identity)
}
