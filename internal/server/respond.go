package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// errorResponse is the JSON envelope of every failed request.
type errorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// errorHandler maps every error onto the platform envelope. Typed errors
// carry their own status and code; anything else becomes an opaque 500
// with a correlation id so the log line can be found without leaking
// internals to the client.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp := errorResponse{
			Error:     appErr.Message,
			ErrorCode: appErr.ErrorCode,
		}
		if appErr.RetryAfter > 0 {
			resp.RetryAfter = int64(appErr.RetryAfter.Seconds())
		}
		if appErr.Err != nil {
			s.log.Warn("request failed",
				zap.String("path", c.Path()),
				zap.String("error_code", appErr.ErrorCode),
				zap.Error(appErr.Err))
		}
		_ = c.JSON(appErr.Code, resp)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = c.JSON(httpErr.Code, errorResponse{Error: http.StatusText(httpErr.Code)})
		return
	}

	requestID := uuid.NewString()
	s.log.Error("unhandled error",
		zap.String("path", c.Path()),
		zap.String("request_id", requestID),
		zap.Error(err))
	_ = c.JSON(http.StatusInternalServerError, errorResponse{
		Error:     apperrors.ErrInternal.Message,
		ErrorCode: apperrors.ErrInternal.ErrorCode,
		RequestID: requestID,
	})
}

// respond writes the success envelope with the given payload fields.
func respond(c echo.Context, status int, payload map[string]any) error {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	return c.JSON(status, body)
}
