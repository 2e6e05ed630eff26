package authflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/manager"
	"github.com/Gimmi17/Solanagram/internal/metrics"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

// Send-code outcomes.
const (
	StatusCodeSent            = "code_sent"
	StatusCachedCodeAvailable = "cached_code_available"
	StatusAlreadyAuthorized   = "already_authorized"
)

// SessionStore is the slice of the persistence layer the controller needs
// to persist and clear wrapped session blobs.
type SessionStore interface {
	SaveTelegramSession(ctx context.Context, phone string, wrapped []byte) error
	ClearTelegramSession(ctx context.Context, phone string) error
}

// Controller drives the per-phone authentication state machine:
//
//	IDLE → CODE_SENT → (AUTHORIZED | NEEDS_2FA → AUTHORIZED)
//
// All transitions for one phone run under the registry's per-phone lock;
// different phones proceed in parallel.
type Controller struct {
	mgr      *manager.Manager
	codes    CodeStore
	sessions SessionStore
	enc      *crypto.Encryptor
	login    *metrics.LoginMetrics
	log      *zap.Logger
}

// New creates the controller.
func New(mgr *manager.Manager, codes CodeStore, sessions SessionStore, enc *crypto.Encryptor, login *metrics.LoginMetrics, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		mgr:      mgr,
		codes:    codes,
		sessions: sessions,
		enc:      enc,
		login:    login,
		log:      log,
	}
}

// SendCode asks Telegram for a login code unless a still-valid one is
// already cached (and forceNew is not set).
func (c *Controller) SendCode(ctx context.Context, phone string, forceNew bool) (status string, err error) {
	started := time.Now()
	defer func() { c.login.Record(time.Since(started), err == nil) }()

	unlock := c.mgr.Registry().Lock(phone)
	defer unlock()

	if !forceNew {
		pending, err := c.codes.Get(ctx, phone)
		if err != nil {
			return "", err
		}
		if pending != nil {
			return StatusCachedCodeAvailable, nil
		}
	}

	var codeHash string
	err = c.mgr.WithClient(ctx, phone, func(ctx context.Context, cl manager.TelegramClient) error {
		var sendErr error
		codeHash, sendErr = cl.SendCode(ctx, phone)
		return sendErr
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrFloodWait) {
			c.log.Warn("send code rate limited", zap.String("phone", phone))
		}
		return "", err
	}

	// An empty hash means the session was already authorized and Telegram
	// short-circuited the code round-trip.
	if codeHash == "" {
		if persistErr := c.persistSession(ctx, phone); persistErr != nil {
			return "", persistErr
		}
		return StatusAlreadyAuthorized, nil
	}

	if err := c.codes.Put(ctx, &PendingCode{
		Phone:     phone,
		CodeHash:  codeHash,
		ExpiresAt: time.Now().Add(CodeTTL),
	}); err != nil {
		return "", err
	}

	c.log.Info("login code sent", zap.String("phone", phone))
	return StatusCodeSent, nil
}

// VerifyCode completes sign-in with the SMS code, handling the 2FA branch
// when a password is supplied. On success the wrapped session blob is
// persisted and the pending code marked verified so it stays reusable for
// the rest of its validity window.
func (c *Controller) VerifyCode(ctx context.Context, phone, code, password string) (err error) {
	started := time.Now()
	defer func() { c.login.Record(time.Since(started), err == nil) }()

	unlock := c.mgr.Registry().Lock(phone)
	defer unlock()

	pending, err := c.codes.Get(ctx, phone)
	if err != nil {
		return err
	}
	if pending == nil {
		return apperrors.ErrNoPendingCode
	}

	// A code that already passed verification lets the caller back in
	// without a new Telegram round-trip, as long as the stored session
	// still holds.
	if pending.Verified && pending.Code == code {
		return c.reactivate(ctx, phone)
	}

	err = c.mgr.WithClient(ctx, phone, func(ctx context.Context, cl manager.TelegramClient) error {
		signErr := cl.SignIn(ctx, phone, code, pending.CodeHash)
		if signErr == nil {
			return nil
		}
		classified := tgclient.Classify(signErr)
		if !errors.Is(classified, apperrors.ErrNeeds2FA) {
			return signErr
		}
		if password == "" {
			return classified
		}
		return cl.Password(ctx, password)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCodeInvalid) {
			pending.Attempts++
			if putErr := c.codes.Put(ctx, pending); putErr != nil {
				c.log.Warn("failed to record code attempt", zap.Error(putErr))
			}
		}
		if errors.Is(err, apperrors.ErrCodeExpired) {
			if delErr := c.codes.Delete(ctx, phone); delErr != nil {
				c.log.Warn("failed to drop expired code", zap.Error(delErr))
			}
		}
		return err
	}

	if err := c.persistSession(ctx, phone); err != nil {
		return err
	}

	pending.Verified = true
	pending.Code = code
	if err := c.codes.Put(ctx, pending); err != nil {
		c.log.Warn("failed to cache verified code", zap.Error(err))
	}

	c.log.Info("telegram sign-in completed", zap.String("phone", phone))
	return nil
}

// Reactivate rehydrates a client from the persisted session blob and
// probes it. A revoked authorization clears the stored blob and surfaces
// AuthorizationLost.
func (c *Controller) Reactivate(ctx context.Context, phone string) error {
	unlock := c.mgr.Registry().Lock(phone)
	defer unlock()
	return c.reactivate(ctx, phone)
}

func (c *Controller) reactivate(ctx context.Context, phone string) error {
	err := c.mgr.WithClient(ctx, phone, func(ctx context.Context, cl manager.TelegramClient) error {
		_, probeErr := cl.Self(ctx)
		return probeErr
	})
	if err != nil {
		if tgclient.IsAuthorizationLost(err) {
			return c.authorizationLost(ctx, phone, err)
		}
		return err
	}
	return c.persistSession(ctx, phone)
}

// AuthorizationLost clears the stored session blob and evicts the cached
// client after Telegram revoked the authorization mid-operation.
func (c *Controller) AuthorizationLost(ctx context.Context, phone string, cause error) error {
	unlock := c.mgr.Registry().Lock(phone)
	defer unlock()
	return c.authorizationLost(ctx, phone, cause)
}

func (c *Controller) authorizationLost(ctx context.Context, phone string, cause error) error {
	c.log.Warn("telegram authorization lost", zap.String("phone", phone), zap.Error(cause))
	if err := c.sessions.ClearTelegramSession(ctx, phone); err != nil {
		c.log.Error("failed to clear stored session", zap.String("phone", phone), zap.Error(err))
	}
	c.mgr.Dispose(phone)
	return apperrors.Wrap(apperrors.ErrAuthorizationLost, cause)
}

// CheckCachedCode reports whether a still-valid, already verified code is
// cached for phone and exposes it for replay. A pending code that has not
// been verified yet reads as absent, since its value is not known.
func (c *Controller) CheckCachedCode(ctx context.Context, phone string) (bool, string, error) {
	pending, err := c.codes.Get(ctx, phone)
	if err != nil {
		return false, "", err
	}
	if pending == nil || pending.Code == "" {
		return false, "", nil
	}
	return true, pending.Code, nil
}

// ClearCachedCode invalidates the pending code for phone.
func (c *Controller) ClearCachedCode(ctx context.Context, phone string) error {
	return c.codes.Delete(ctx, phone)
}

// Disconnect evicts the cached client for phone, returning it to IDLE.
// The persisted session blob survives for the next reactivation.
func (c *Controller) Disconnect(ctx context.Context, phone string) {
	unlock := c.mgr.Registry().Lock(phone)
	defer unlock()
	c.mgr.Dispose(phone)
}

// persistSession wraps the client's current session blob and stores it.
func (c *Controller) persistSession(ctx context.Context, phone string) error {
	h, err := c.mgr.EnsureConnected(ctx, phone)
	if err != nil {
		return err
	}

	blob := manager.Client(h).SessionBytes()
	if len(blob) == 0 {
		return nil
	}

	wrapped, err := c.enc.Wrap(blob)
	if err != nil {
		return err
	}
	return c.sessions.SaveTelegramSession(ctx, phone, wrapped)
}
