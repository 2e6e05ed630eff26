package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/auth"
	"github.com/Gimmi17/Solanagram/internal/database"
)

func (s *Server) handleListLoggingSessions(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())

	sessions, err := s.logging.ListLoggingSessions(c.Request().Context(), identity.UserID)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{
		"sessions": sessionViews(sessions),
		"count":    len(sessions),
	})
}

// StartLoggingRequest starts a capture worker for one chat.
type StartLoggingRequest struct {
	ChatID       int64  `json:"chat_id" validate:"required"`
	ChatTitle    string `json:"chat_title"`
	ChatUsername string `json:"chat_username"`
	ChatType     string `json:"chat_type"`
}

func (s *Server) handleStartLogging(c echo.Context) error {
	var req StartLoggingRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())

	session, err := s.fleet.StartLogging(c.Request().Context(), identity.UserID, identity.Phone, ChatRef{
		ChatID:   req.ChatID,
		Title:    req.ChatTitle,
		Username: req.ChatUsername,
		Type:     req.ChatType,
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, map[string]any{
		"session_id":     session.ID,
		"container_name": session.ContainerName,
		"status":         session.ContainerStatus,
	})
}

func (s *Server) handleStopLogging(c echo.Context) error {
	sessionID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	if err := s.fleet.StopLogging(c.Request().Context(), sessionID, identity.UserID); err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{"message": "session stopped"})
}

func (s *Server) handleRemoveLogging(c echo.Context) error {
	sessionID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	if err := s.fleet.RemoveLogging(c.Request().Context(), sessionID, identity.UserID); err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{"message": "session removed"})
}

func (s *Server) handleListMessages(c echo.Context) error {
	sessionID, err := paramID(c, "session_id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	ctx := c.Request().Context()

	// Ownership check before touching the messages.
	if _, err := s.logging.GetLoggingSession(ctx, sessionID, identity.UserID); err != nil {
		return err
	}

	filter := database.MessageLogFilter{
		MessageType: c.QueryParam("message_type"),
		Search:      c.QueryParam("search"),
		Limit:       queryUint(c, "limit"),
		Offset:      queryUint(c, "offset"),
	}
	if senderID, err := strconv.ParseInt(c.QueryParam("sender_id"), 10, 64); err == nil {
		filter.SenderID = senderID
	}

	messages, err := s.logging.ListMessageLogs(ctx, sessionID, identity.UserID, filter)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

func (s *Server) handleChatStatus(c echo.Context) error {
	chatID, err := paramID(c, "chat_id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	ctx := c.Request().Context()

	session, err := s.logging.GetActiveSessionForChat(ctx, identity.UserID, chatID)
	if err != nil {
		return err
	}
	stats, err := s.logging.GetChatStats(ctx, identity.UserID, chatID)
	if err != nil {
		return err
	}

	payload := map[string]any{"active": session != nil}
	if session != nil {
		payload["session"] = sessionView(session)
	}
	if stats != nil {
		payload["stats"] = stats
	}
	return respond(c, http.StatusOK, payload)
}

// sessionView is the JSON shape of one logging session.
type sessionViewBody struct {
	ID              int64  `json:"id"`
	ChatID          int64  `json:"chat_id"`
	ChatTitle       string `json:"chat_title"`
	ChatUsername    string `json:"chat_username,omitempty"`
	ChatType        string `json:"chat_type,omitempty"`
	IsActive        bool   `json:"is_active"`
	ContainerName   string `json:"container_name,omitempty"`
	ContainerStatus string `json:"container_status"`
	MessagesLogged  int64  `json:"messages_logged"`
	ErrorsCount     int64  `json:"errors_count"`
	LastError       string `json:"last_error,omitempty"`
}

func sessionView(s *database.LoggingSession) sessionViewBody {
	return sessionViewBody{
		ID:              s.ID,
		ChatID:          s.ChatID,
		ChatTitle:       s.ChatTitle,
		ChatUsername:    s.ChatUsername,
		ChatType:        s.ChatType,
		IsActive:        s.IsActive,
		ContainerName:   s.ContainerName,
		ContainerStatus: s.ContainerStatus,
		MessagesLogged:  s.MessagesLogged,
		ErrorsCount:     s.ErrorsCount,
		LastError:       s.LastError,
	}
}

func sessionViews(sessions []database.LoggingSession) []sessionViewBody {
	views := make([]sessionViewBody, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionView(&sessions[i]))
	}
	return views
}

// paramID parses a path parameter as int64.
func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	return id, nil
}

// queryUint parses an optional unsigned query parameter, 0 when absent.
func queryUint(c echo.Context, name string) uint64 {
	v, err := strconv.ParseUint(c.QueryParam(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
