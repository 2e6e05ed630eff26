package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/auth"
	"github.com/Gimmi17/Solanagram/internal/database"
)

func (s *Server) handleListListeners(c echo.Context) error {
	identity := auth.GetIdentity(c.Request().Context())

	ctx := c.Request().Context()
	listeners, err := s.listeners.ListListeners(ctx, identity.UserID)
	if err != nil {
		return err
	}
	summaries, err := s.listeners.ListActiveListenerSummaries(ctx, identity.UserID)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]any{
		"listeners": listenerViews(listeners),
		"active":    summaries,
		"count":     len(listeners),
	})
}

// StartListenerRequest creates a listener pipeline on a source chat,
// optionally with an immediate redirect target.
type StartListenerRequest struct {
	SourceChatID int64  `json:"source_chat_id" validate:"required"`
	ChatTitle    string `json:"chat_title"`
	ChatUsername string `json:"chat_username"`
	ChatType     string `json:"chat_type"`
	TargetChatID int64  `json:"target_chat_id"`
}

func (s *Server) handleStartListener(c echo.Context) error {
	var req StartListenerRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())

	listener, err := s.fleet.StartListener(c.Request().Context(), identity.UserID, identity.Phone, ChatRef{
		ChatID:   req.SourceChatID,
		Title:    req.ChatTitle,
		Username: req.ChatUsername,
		Type:     req.ChatType,
	}, req.TargetChatID)
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, map[string]any{
		"listener_id":    listener.ID,
		"container_name": listener.ContainerName,
		"status":         listener.ContainerStatus,
	})
}

func (s *Server) handleStopListener(c echo.Context) error {
	listenerID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	if err := s.fleet.StopListener(c.Request().Context(), listenerID, identity.UserID); err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{"message": "listener stopped"})
}

func (s *Server) handleRemoveListener(c echo.Context) error {
	listenerID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	identity := auth.GetIdentity(c.Request().Context())
	if err := s.fleet.RemoveListener(c.Request().Context(), listenerID, identity.UserID); err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{"message": "listener removed"})
}

func (s *Server) handleListElaborations(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}

	elaborations, err := s.listeners.ListElaborations(c.Request().Context(), listener.ID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{
		"elaborations": elaborationViews(elaborations),
		"count":        len(elaborations),
	})
}

// CreateElaborationRequest adds a processing rule to a listener.
type CreateElaborationRequest struct {
	Type     string          `json:"type" validate:"required,oneof=extractor redirect"`
	Name     string          `json:"name" validate:"required,min=1,max=64"`
	Config   json.RawMessage `json:"config"`
	Priority int             `json:"priority"`
}

func (s *Server) handleCreateElaboration(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}

	var req CreateElaborationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()

	// The database's partial unique index is the hard wall; checking here
	// produces the friendlier conflict answer.
	if req.Type == database.ElaborationRedirect {
		exists, err := s.listeners.HasRedirect(ctx, listener.ID)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrRedirectExists
		}
	}

	elaboration, err := s.listeners.CreateElaboration(ctx, listener.ID, req.Type, req.Name, req.Config, req.Priority)
	if err != nil {
		return err
	}

	s.relaunchListener(c, listener.ID)

	return respond(c, http.StatusCreated, map[string]any{
		"elaboration": elaborationView(elaboration),
	})
}

// UpdateElaborationRequest replaces the mutable fields of a rule.
type UpdateElaborationRequest struct {
	Config   json.RawMessage `json:"config"`
	IsActive bool            `json:"is_active"`
	Priority int             `json:"priority"`
}

func (s *Server) handleUpdateElaboration(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}
	elaborationID, err := paramID(c, "eid")
	if err != nil {
		return err
	}

	var req UpdateElaborationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	}

	if err := s.listeners.UpdateElaboration(c.Request().Context(), elaborationID, listener.ID, req.Config, req.IsActive, req.Priority); err != nil {
		return err
	}

	s.relaunchListener(c, listener.ID)

	return respond(c, http.StatusOK, map[string]any{"message": "elaboration updated"})
}

func (s *Server) handleDeleteElaboration(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}
	elaborationID, err := paramID(c, "eid")
	if err != nil {
		return err
	}

	if err := s.listeners.DeleteElaboration(c.Request().Context(), elaborationID, listener.ID); err != nil {
		return err
	}

	s.relaunchListener(c, listener.ID)

	return respond(c, http.StatusOK, map[string]any{"message": "elaboration deleted"})
}

func (s *Server) handleListSavedMessages(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}

	messages, err := s.listeners.ListSavedMessages(c.Request().Context(), listener.ID, queryUint(c, "limit"), queryUint(c, "offset"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

func (s *Server) handleListExtractions(c echo.Context) error {
	listener, err := s.ownedListener(c)
	if err != nil {
		return err
	}

	values, err := s.listeners.ListExtractedValues(c.Request().Context(), listener.ID, queryUint(c, "limit"), queryUint(c, "offset"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]any{
		"extractions": values,
		"count":       len(values),
	})
}

// ownedListener resolves the :id path parameter to a listener owned by the
// caller.
func (s *Server) ownedListener(c echo.Context) (*database.Listener, error) {
	listenerID, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	identity := auth.GetIdentity(c.Request().Context())
	return s.listeners.GetListener(c.Request().Context(), listenerID, identity.UserID)
}

// relaunchListener restarts the worker of an active listener so it picks
// up the changed rule set. Failures are logged, not surfaced: the rule
// change itself already committed.
func (s *Server) relaunchListener(c echo.Context, listenerID int64) {
	ctx := c.Request().Context()
	identity := auth.GetIdentity(ctx)

	listener, err := s.listeners.GetListener(ctx, listenerID, identity.UserID)
	if err != nil || !listener.IsActive {
		return
	}
	if _, err := s.fleet.RestartListener(ctx, listenerID, identity.UserID, identity.Phone); err != nil {
		s.log.Warn("failed to relaunch listener worker",
			zap.Int64("listener_id", listenerID), zap.Error(err))
	}
}

type listenerViewBody struct {
	ID              int64  `json:"id"`
	SourceChatID    int64  `json:"source_chat_id"`
	ChatTitle       string `json:"chat_title"`
	ChatUsername    string `json:"chat_username,omitempty"`
	ChatType        string `json:"chat_type,omitempty"`
	IsActive        bool   `json:"is_active"`
	ContainerName   string `json:"container_name,omitempty"`
	ContainerStatus string `json:"container_status"`
	MessagesSaved   int64  `json:"messages_saved"`
	ErrorsCount     int64  `json:"errors_count"`
	LastError       string `json:"last_error,omitempty"`
}

func listenerView(l *database.Listener) listenerViewBody {
	return listenerViewBody{
		ID:              l.ID,
		SourceChatID:    l.SourceChatID,
		ChatTitle:       l.ChatTitle,
		ChatUsername:    l.ChatUsername,
		ChatType:        l.ChatType,
		IsActive:        l.IsActive,
		ContainerName:   l.ContainerName,
		ContainerStatus: l.ContainerStatus,
		MessagesSaved:   l.MessagesSaved,
		ErrorsCount:     l.ErrorsCount,
		LastError:       l.LastError,
	}
}

func listenerViews(listeners []database.Listener) []listenerViewBody {
	views := make([]listenerViewBody, 0, len(listeners))
	for i := range listeners {
		views = append(views, listenerView(&listeners[i]))
	}
	return views
}

type elaborationViewBody struct {
	ID                int64           `json:"id"`
	Type              string          `json:"type"`
	Name              string          `json:"name"`
	Config            json.RawMessage `json:"config"`
	IsActive          bool            `json:"is_active"`
	Priority          int             `json:"priority"`
	MessagesProcessed int64           `json:"messages_processed"`
	ErrorsCount       int64           `json:"errors_count"`
}

func elaborationView(e *database.Elaboration) elaborationViewBody {
	return elaborationViewBody{
		ID:                e.ID,
		Type:              e.Type,
		Name:              e.Name,
		Config:            e.Config,
		IsActive:          e.IsActive,
		Priority:          e.Priority,
		MessagesProcessed: e.MessagesProcessed,
		ErrorsCount:       e.ErrorsCount,
	}
}

func elaborationViews(elaborations []database.Elaboration) []elaborationViewBody {
	views := make([]elaborationViewBody, 0, len(elaborations))
	for i := range elaborations {
		views = append(views, elaborationView(&elaborations[i]))
	}
	return views
}
