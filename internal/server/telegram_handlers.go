package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Gimmi17/Solanagram/internal/auth"
)

// handleGetChats returns the caller's dialogs: groups, channels, users and
// bots. Error codes TELEGRAM_SESSION_EXPIRED and API_CREDENTIALS_NOT_SET
// tell the frontend which recovery flow to start.
func (s *Server) handleGetChats(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())

	chats, err := s.browser.GetChats(c.Request().Context(), identity.Phone)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{
		"chats": chats,
		"count": len(chats),
	})
}
