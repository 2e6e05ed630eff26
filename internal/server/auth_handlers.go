package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/auth"
	"github.com/Gimmi17/Solanagram/internal/authflow"
)

// RegisterRequest creates a new platform account.
type RegisterRequest struct {
	Phone    string `json:"phone" validate:"required,e164"`
	Password string `json:"password" validate:"required,min=8"`
	APIID    int    `json:"api_id" validate:"required,gt=0"`
	APIHash  string `json:"api_hash" validate:"required,len=32"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	wrappedHash, err := s.enc.WrapString(req.APIHash)
	if err != nil {
		return err
	}

	user, err := s.users.CreateUser(c.Request().Context(), normalizePhone(req.Phone), passwordHash, req.APIID, wrappedHash)
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"phone":   user.Phone,
	})
}

// LoginRequest triggers send-code (or reports a reusable cached code).
type LoginRequest struct {
	PhoneNumber  string `json:"phone_number" validate:"required"`
	Password     string `json:"password" validate:"required"`
	ForceNewCode bool   `json:"force_new_code"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	phone := normalizePhone(req.PhoneNumber)

	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		return err
	}

	status, err := s.flow.SendCode(ctx, phone, req.ForceNewCode)
	if err != nil {
		return err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn("failed to record login time", zap.Error(err))
	}

	payload := map[string]any{"message": status}
	if status == authflow.StatusAlreadyAuthorized {
		token, err := s.jwt.Generate(user.ID, user.Phone)
		if err != nil {
			return err
		}
		payload["session_token"] = token
	}
	return respond(c, http.StatusOK, payload)
}

// VerifyCodeRequest completes sign-in with the SMS code and optional 2FA
// password.
type VerifyCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Code        string `json:"code" validate:"required"`
	Password    string `json:"password"`
}

func (s *Server) handleVerifyCode(c echo.Context) error {
	var req VerifyCodeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	phone := normalizePhone(req.PhoneNumber)

	if err := s.flow.VerifyCode(ctx, phone, req.Code, req.Password); err != nil {
		return err
	}

	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	token, err := s.jwt.Generate(user.ID, user.Phone)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{"session_token": token})
}

func (s *Server) handleCheckCachedCode(c echo.Context) error {
	phone := normalizePhone(c.QueryParam("phone"))
	if phone == "" {
		return apperrors.ErrInvalidPhone
	}

	has, code, err := s.flow.CheckCachedCode(c.Request().Context(), phone)
	if err != nil {
		return err
	}

	payload := map[string]any{"has_cached_code": has}
	if has {
		payload["cached_code"] = code
	}
	return respond(c, http.StatusOK, payload)
}

// ClearCachedCodeRequest invalidates the pending code of a phone.
type ClearCachedCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
}

func (s *Server) handleClearCachedCode(c echo.Context) error {
	var req ClearCachedCodeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.flow.ClearCachedCode(c.Request().Context(), normalizePhone(req.PhoneNumber)); err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{"message": "cache cleared"})
}

func (s *Server) handleValidateSession(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())
	user, err := s.users.GetUserByID(c.Request().Context(), identity.UserID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{
		"session_valid": user.IsActive,
		"phone":         user.Phone,
	})
}

func (s *Server) handleReactivateSession(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())

	status, err := s.flow.SendCode(c.Request().Context(), identity.Phone, true)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{"message": status})
}

// VerifySessionCodeRequest completes a session reactivation.
type VerifySessionCodeRequest struct {
	Code     string `json:"code" validate:"required"`
	Password string `json:"password"`
}

func (s *Server) handleVerifySessionCode(c echo.Context) error {
	var req VerifySessionCodeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	if err := s.flow.VerifyCode(c.Request().Context(), identity.Phone, req.Code, req.Password); err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{"message": "session reactivated"})
}

// UpdateCredentialsRequest replaces the Telegram API credential pair.
type UpdateCredentialsRequest struct {
	APIID   int    `json:"api_id" validate:"required,gt=0"`
	APIHash string `json:"api_hash" validate:"required,len=32"`
}

func (s *Server) handleUpdateCredentials(c echo.Context) error {
	var req UpdateCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	identity := auth.GetIdentity(ctx)

	wrappedHash, err := s.enc.WrapString(req.APIHash)
	if err != nil {
		return err
	}
	if err := s.users.UpdateCredentials(ctx, identity.UserID, req.APIID, wrappedHash); err != nil {
		return err
	}

	// The cached client and pending code were built with the old
	// credentials; drop both.
	s.flow.Disconnect(ctx, identity.Phone)
	if err := s.flow.ClearCachedCode(ctx, identity.Phone); err != nil {
		s.log.Warn("failed to clear cached code", zap.Error(err))
	}

	return respond(c, http.StatusOK, map[string]any{"message": "credentials updated"})
}

// ChangePasswordRequest rotates the login password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (s *Server) handleChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	identity := auth.GetIdentity(ctx)

	user, err := s.users.GetUserByID(ctx, identity.UserID)
	if err != nil {
		return err
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return err
	}

	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, identity.UserID, newHash); err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{"message": "password changed"})
}

func (s *Server) handleLogout(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())
	s.flow.Disconnect(c.Request().Context(), identity.Phone)
	return respond(c, http.StatusOK, map[string]any{"message": "logged out"})
}

// normalizePhone strips spacing so lookups and cache keys agree on one
// representation.
func normalizePhone(phone string) string {
	return strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
}
