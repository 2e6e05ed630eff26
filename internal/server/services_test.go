package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/authflow"
	"github.com/Gimmi17/Solanagram/internal/bridge"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/manager"
	"github.com/Gimmi17/Solanagram/internal/metrics"
	"github.com/Gimmi17/Solanagram/internal/registry"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

// gatewayClient is a minimal scripted client for gateway-level tests.
type gatewayClient struct {
	mu        sync.Mutex
	connected bool
	chatsErr  error
}

func (c *gatewayClient) Connect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *gatewayClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *gatewayClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *gatewayClient) Authorized() bool { return true }

func (c *gatewayClient) Self(ctx context.Context) (*tg.User, error) {
	return &tg.User{ID: 1}, nil
}

func (c *gatewayClient) SendCode(ctx context.Context, phone string) (string, error) {
	return "hash", nil
}

func (c *gatewayClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	return nil
}

func (c *gatewayClient) Password(ctx context.Context, password string) error { return nil }

func (c *gatewayClient) SessionBytes() []byte { return []byte("session") }

func (c *gatewayClient) GetChats(ctx context.Context) ([]tgclient.ChatInfo, error) {
	if c.chatsErr != nil {
		return nil, c.chatsErr
	}
	return []tgclient.ChatInfo{{ID: -1001, Title: "Chan", Type: "channel"}}, nil
}

type gatewayCreds struct{}

func (gatewayCreds) CredentialsForPhone(ctx context.Context, phone string) (*manager.Credentials, error) {
	return &manager.Credentials{UserID: 1, Phone: phone, APIID: 1, APIHash: "h"}, nil
}

type gatewaySessions struct {
	mu      sync.Mutex
	saved   map[string][]byte
	cleared []string
}

func (g *gatewaySessions) SaveTelegramSession(ctx context.Context, phone string, wrapped []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved[phone] = wrapped
	return nil
}

func (g *gatewaySessions) ClearTelegramSession(ctx context.Context, phone string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = append(g.cleared, phone)
	return nil
}

func newGatewayFixture(t *testing.T, client *gatewayClient) (*Gateway, *gatewaySessions, *bridge.Bridge) {
	t.Helper()

	reg := registry.New(time.Minute, nil)
	mgr := manager.New(reg, gatewayCreds{}, func(creds *manager.Credentials) (manager.TelegramClient, error) {
		return client, nil
	}, manager.Config{RetryInterval: time.Millisecond}, nil)

	enc, err := crypto.NewEncryptor("key")
	require.NoError(t, err)

	sessions := &gatewaySessions{saved: make(map[string][]byte)}
	flow := authflow.New(mgr, authflow.NewMemoryCodeStore(), sessions, enc, metrics.NewLoginMetrics(), nil)

	b := bridge.New(10, nil)
	t.Cleanup(b.Stop)

	return NewGateway(b, mgr, flow, time.Second), sessions, b
}

func TestGatewayDispatchesAuthFlow(t *testing.T) {
	gw, _, _ := newGatewayFixture(t, &gatewayClient{})
	ctx := context.Background()

	status, err := gw.SendCode(ctx, testPhone, false)
	require.NoError(t, err)
	assert.Equal(t, authflow.StatusCodeSent, status)

	require.NoError(t, gw.VerifyCode(ctx, testPhone, "12345", ""))

	has, code, err := gw.CheckCachedCode(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, "12345", code)
}

func TestGatewayGetChats(t *testing.T) {
	gw, _, _ := newGatewayFixture(t, &gatewayClient{})

	chats, err := gw.GetChats(context.Background(), testPhone)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Chan", chats[0].Title)
}

func TestGatewayGetChatsAuthRevokedClearsSession(t *testing.T) {
	client := &gatewayClient{chatsErr: tgerr.New(401, "AUTH_KEY_UNREGISTERED")}
	gw, sessions, _ := newGatewayFixture(t, client)

	_, err := gw.GetChats(context.Background(), testPhone)
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationLost)
	assert.Contains(t, sessions.cleared, testPhone,
		"revoked authorization must clear the stored session blob")
}

func TestGatewayConcurrentOperationsSerialize(t *testing.T) {
	gw, _, _ := newGatewayFixture(t, &gatewayClient{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.GetChats(context.Background(), testPhone)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
