package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// Middleware provides the JWT bearer authentication for protected routes.
type Middleware struct {
	jwt *JWTService
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(jwt *JWTService) *Middleware {
	return &Middleware{jwt: jwt}
}

// RequireAuth validates the bearer token and stores the caller's identity
// in the request context.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearerToken(c)
		if token == "" {
			return apperrors.ErrUnauthorized
		}

		claims, err := m.jwt.Validate(token)
		if err != nil {
			return err
		}

		ctx := SetIdentity(c.Request().Context(), &Identity{
			UserID: claims.UserID,
			Phone:  claims.Phone,
		})
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// extractBearerToken pulls the token out of the Authorization header.
// Expects format: "Bearer <token>".
func extractBearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
