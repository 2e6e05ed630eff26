package authflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/manager"
	"github.com/Gimmi17/Solanagram/internal/metrics"
	"github.com/Gimmi17/Solanagram/internal/registry"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

const testPhone = "+391234567890"

// script controls the behavior of every client the factory hands out.
type script struct {
	mu            sync.Mutex
	sendCodeErrs  []error
	signInErr     error
	passwordErr   error
	selfErr       error
	sendCodeCalls int32
	signInCalls   int32
	passwordCalls int32
	selfCalls     int32
}

func (s *script) nextSendCodeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendCodeErrs) == 0 {
		return nil
	}
	err := s.sendCodeErrs[0]
	s.sendCodeErrs = s.sendCodeErrs[1:]
	return err
}

// scriptedClient implements manager.TelegramClient against a shared script.
type scriptedClient struct {
	s         *script
	connected bool
	auth      bool
	mu        sync.Mutex
}

func (c *scriptedClient) Connect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedClient) Close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *scriptedClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *scriptedClient) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *scriptedClient) Self(ctx context.Context) (*tg.User, error) {
	atomic.AddInt32(&c.s.selfCalls, 1)
	if c.s.selfErr != nil {
		return nil, c.s.selfErr
	}
	c.mu.Lock()
	c.auth = true
	c.mu.Unlock()
	return &tg.User{ID: 7}, nil
}

func (c *scriptedClient) SendCode(ctx context.Context, phone string) (string, error) {
	atomic.AddInt32(&c.s.sendCodeCalls, 1)
	if err := c.s.nextSendCodeErr(); err != nil {
		return "", err
	}
	return "code-hash-1", nil
}

func (c *scriptedClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	atomic.AddInt32(&c.s.signInCalls, 1)
	if c.s.signInErr != nil {
		return c.s.signInErr
	}
	c.mu.Lock()
	c.auth = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedClient) Password(ctx context.Context, password string) error {
	atomic.AddInt32(&c.s.passwordCalls, 1)
	if c.s.passwordErr != nil {
		return c.s.passwordErr
	}
	c.mu.Lock()
	c.auth = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedClient) SessionBytes() []byte {
	return []byte("opaque-session-bytes")
}

func (c *scriptedClient) GetChats(ctx context.Context) ([]tgclient.ChatInfo, error) {
	return nil, nil
}

// fakeSessions records persisted and cleared session blobs.
type fakeSessions struct {
	mu      sync.Mutex
	saved   map[string][]byte
	cleared []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string][]byte)}
}

func (f *fakeSessions) SaveTelegramSession(ctx context.Context, phone string, wrapped []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[phone] = wrapped
	return nil
}

func (f *fakeSessions) ClearTelegramSession(ctx context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, phone)
	f.cleared = append(f.cleared, phone)
	return nil
}

type staticCreds struct{}

func (staticCreds) CredentialsForPhone(ctx context.Context, phone string) (*manager.Credentials, error) {
	return &manager.Credentials{UserID: 1, Phone: phone, APIID: 25128314, APIHash: "deadbeef"}, nil
}

type fixture struct {
	ctrl     *Controller
	script   *script
	sessions *fakeSessions
	enc      *crypto.Encryptor
	login    *metrics.LoginMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := &script{}
	reg := registry.New(time.Minute, nil)
	mgr := manager.New(reg, staticCreds{}, func(creds *manager.Credentials) (manager.TelegramClient, error) {
		return &scriptedClient{s: s}, nil
	}, manager.Config{RetryInterval: time.Millisecond}, nil)

	enc, err := crypto.NewEncryptor("test-key")
	require.NoError(t, err)

	sessions := newFakeSessions()
	login := metrics.NewLoginMetrics()

	return &fixture{
		ctrl:     New(mgr, NewMemoryCodeStore(), sessions, enc, login, nil),
		script:   s,
		sessions: sessions,
		enc:      enc,
		login:    login,
	}
}

func TestSendCodeCachesPendingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCodeSent, status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.sendCodeCalls))

	// Second login within the validity window reuses the pending code.
	status, err = f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCachedCodeAvailable, status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.sendCodeCalls),
		"cached pending code must not hit Telegram again")
}

func TestSendCodeForceNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	status, err := f.ctrl.SendCode(ctx, testPhone, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCodeSent, status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.script.sendCodeCalls))
}

func TestSendCodeFloodWaitSurfacesWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.script.sendCodeErrs = []error{tgerr.New(420, "FLOOD_WAIT_3600")}

	_, err := f.ctrl.SendCode(context.Background(), testPhone, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFloodWait)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 3600*time.Second, appErr.RetryAfter)

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.sendCodeCalls),
		"flood-wait is never retried")
	assert.Equal(t, int64(1), f.login.Snapshot().FailedRequests)
}

func TestSendCodeRecoversFromOneDisconnect(t *testing.T) {
	f := newFixture(t)
	f.script.sendCodeErrs = []error{tgerr.New(500, "Cannot send requests while disconnected")}

	status, err := f.ctrl.SendCode(context.Background(), testPhone, false)
	require.NoError(t, err, "a single transport disconnect is recovered transparently")
	assert.Equal(t, StatusCodeSent, status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.script.sendCodeCalls))
	assert.Equal(t, int64(1), f.login.Snapshot().SuccessfulRequests)
	assert.Greater(t, f.login.RecentAverage(), 0.0)
}

func TestVerifyCodePersistsWrappedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.VerifyCode(ctx, testPhone, "12345", ""))

	wrapped := f.sessions.saved[testPhone]
	require.NotEmpty(t, wrapped, "session blob must be persisted")
	assert.NotEqual(t, []byte("opaque-session-bytes"), wrapped, "persisted blob must be ciphertext")

	plain, err := f.enc.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque-session-bytes"), plain)
}

func TestVerifyCodeWithoutPendingCode(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.VerifyCode(context.Background(), testPhone, "12345", "")
	assert.ErrorIs(t, err, apperrors.ErrNoPendingCode)
}

func TestVerifyCodeNeeds2FA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.script.signInErr = auth.ErrPasswordAuthNeeded

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	err = f.ctrl.VerifyCode(ctx, testPhone, "12345", "")
	assert.ErrorIs(t, err, apperrors.ErrNeeds2FA)
	assert.Zero(t, atomic.LoadInt32(&f.script.passwordCalls))
}

func TestVerifyCodeWith2FAPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.script.signInErr = auth.ErrPasswordAuthNeeded

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.VerifyCode(ctx, testPhone, "12345", "hunter2"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.passwordCalls))
	assert.NotEmpty(t, f.sessions.saved[testPhone])
}

func TestVerifyCodeInvalidCountsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.script.signInErr = tgerr.New(400, "PHONE_CODE_INVALID")

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	err = f.ctrl.VerifyCode(ctx, testPhone, "00000", "")
	assert.ErrorIs(t, err, apperrors.ErrCodeInvalid)

	pending, err := f.ctrl.codes.Get(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 1, pending.Attempts)

	// The pending code survives for a retry.
	status, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCachedCodeAvailable, status)
}

func TestCachedVerifiedCodeSkipsSecondSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.VerifyCode(ctx, testPhone, "12345", ""))

	has, code, err := f.ctrl.CheckCachedCode(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, "12345", code)

	// Replaying the verified code completes without another send-code or
	// sign-in round-trip.
	require.NoError(t, f.ctrl.VerifyCode(ctx, testPhone, "12345", ""))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.sendCodeCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.script.signInCalls))
}

func TestCheckCachedCodeBeforeVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)

	has, _, err := f.ctrl.CheckCachedCode(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, has, "the code value is unknown until the user submits it")
}

func TestClearCachedCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.ClearCachedCode(ctx, testPhone))

	err = f.ctrl.VerifyCode(ctx, testPhone, "12345", "")
	assert.ErrorIs(t, err, apperrors.ErrNoPendingCode)
}

func TestReactivateWithRevokedAuthorization(t *testing.T) {
	f := newFixture(t)
	f.script.selfErr = tgerr.New(401, "AUTH_KEY_UNREGISTERED")

	err := f.ctrl.Reactivate(context.Background(), testPhone)
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationLost)
	assert.Contains(t, f.sessions.cleared, testPhone, "stored session blob must be cleared")
}

func TestReactivateHappyPath(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Reactivate(context.Background(), testPhone))
	assert.NotEmpty(t, f.sessions.saved[testPhone])
}
