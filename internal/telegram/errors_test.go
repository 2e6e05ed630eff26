package telegram

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassifyFloodWait(t *testing.T) {
	err := Classify(tgerr.New(420, "FLOOD_WAIT_3600"))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "FLOOD_WAIT", appErr.ErrorCode)
	assert.Equal(t, 3600*time.Second, appErr.RetryAfter)
	assert.ErrorIs(t, err, apperrors.ErrFloodWait)
}

func TestClassifyProtocolErrors(t *testing.T) {
	cases := []struct {
		raw    error
		mapped *apperrors.AppError
	}{
		{tgerr.New(400, "PHONE_CODE_INVALID"), apperrors.ErrCodeInvalid},
		{tgerr.New(400, "PHONE_CODE_EXPIRED"), apperrors.ErrCodeExpired},
		{tgerr.New(401, "SESSION_PASSWORD_NEEDED"), apperrors.ErrNeeds2FA},
		{auth.ErrPasswordAuthNeeded, apperrors.ErrNeeds2FA},
		{tgerr.New(400, "PASSWORD_HASH_INVALID"), apperrors.ErrPasswordInvalid},
		{tgerr.New(401, "AUTH_KEY_UNREGISTERED"), apperrors.ErrAuthorizationLost},
		{tgerr.New(401, "SESSION_REVOKED"), apperrors.ErrAuthorizationLost},
		{tgerr.New(400, "API_ID_INVALID"), apperrors.ErrCredentialsInvalid},
		{tgerr.New(400, "PHONE_NUMBER_INVALID"), apperrors.ErrInvalidPhone},
	}

	for _, tc := range cases {
		t.Run(tc.mapped.ErrorCode, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tc.raw), tc.mapped)
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	cases := []error{
		errors.New("engine was closed"),
		errors.New("connection dead"),
		fmt.Errorf("send: %w", errors.New("cannot send while disconnected")),
		io.EOF,
	}

	for _, raw := range cases {
		assert.ErrorIs(t, Classify(raw), apperrors.ErrTransportDisconnected, "%v", raw)
	}
}

func TestClassifyUnknownBecomesTelegramError(t *testing.T) {
	err := Classify(tgerr.New(400, "SOMETHING_ODD"))
	assert.ErrorIs(t, err, apperrors.ErrTelegram)
}

func TestClassifyPassesThroughAppErrors(t *testing.T) {
	flood := apperrors.NewFloodWait(30 * time.Second)
	assert.Equal(t, flood, Classify(flood))

	wrapped := apperrors.Wrap(apperrors.ErrCodeInvalid, errors.New("raw"))
	assert.ErrorIs(t, Classify(wrapped), apperrors.ErrCodeInvalid)
}

func TestIsAuthorizationLost(t *testing.T) {
	assert.True(t, IsAuthorizationLost(tgerr.New(401, "AUTH_KEY_UNREGISTERED")))
	assert.True(t, IsAuthorizationLost(apperrors.ErrAuthorizationLost))
	assert.False(t, IsAuthorizationLost(tgerr.New(400, "PHONE_CODE_INVALID")))
}

func TestIsTransport(t *testing.T) {
	assert.True(t, IsTransport(errors.New("broken pipe")))
	assert.True(t, IsTransport(apperrors.Wrap(apperrors.ErrTransportDisconnected, errors.New("x"))))
	assert.False(t, IsTransport(tgerr.New(420, "FLOOD_WAIT_10")))
}
