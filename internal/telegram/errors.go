package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// transportMarkers are substrings of gotd/mtproto errors that indicate the
// connection died under us. This is the only error class the orchestrator
// recovers from automatically (evict + one retry).
var transportMarkers = []string{
	"engine was closed",
	"connection dead",
	"connection closed",
	"cannot send",
	"not connected",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"no route to host",
	"connection refused",
}

// Classify maps a raw client library error onto the orchestrator's typed
// error taxonomy. nil passes through.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	// Already classified errors pass through untouched.
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return apperrors.NewFloodWait(d)
	}

	if errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
		return apperrors.Wrap(apperrors.ErrNeeds2FA, err)
	}

	switch {
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return apperrors.Wrap(apperrors.ErrCodeInvalid, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return apperrors.Wrap(apperrors.ErrCodeExpired, err)
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return apperrors.Wrap(apperrors.ErrPasswordInvalid, err)
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED"):
		return apperrors.Wrap(apperrors.ErrAuthorizationLost, err)
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD", "API_HASH_INVALID"):
		return apperrors.Wrap(apperrors.ErrCredentialsInvalid, err)
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED"):
		return apperrors.Wrap(apperrors.ErrInvalidPhone, err)
	}

	if isTransport(err) {
		return apperrors.Wrap(apperrors.ErrTransportDisconnected, err)
	}

	return apperrors.Wrap(apperrors.ErrTelegram, err)
}

// IsTransport reports whether err (possibly already classified) is the
// transport-disconnect class.
func IsTransport(err error) bool {
	return errors.Is(err, apperrors.ErrTransportDisconnected) || isTransport(err)
}

// IsAuthorizationLost reports whether err signals a revoked Telegram
// authorization.
func IsAuthorizationLost(err error) bool {
	return errors.Is(err, apperrors.ErrAuthorizationLost) || auth.IsKeyUnregistered(err)
}

func isTransport(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transportMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
