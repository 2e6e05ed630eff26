package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Client wraps a gotd MTProto client for one phone account. The session
// blob lives in memory only; persistence is the caller's concern.
type Client struct {
	apiID   int
	apiHash string
	log     *zap.Logger
	storage *memorySession
	updates telegram.UpdateHandler

	mu         sync.RWMutex
	client     *telegram.Client
	cancel     context.CancelFunc
	runDone    chan struct{}
	connected  bool
	authorized bool
}

// ClientConfig holds construction parameters for a Client.
type ClientConfig struct {
	APIID   int
	APIHash string
	// SessionBlob seeds the in-memory session storage; nil starts a fresh
	// unauthorized session.
	SessionBlob []byte
	Logger      *zap.Logger
	// UpdateHandler subscribes to server-side updates. When nil the
	// client runs in no-updates mode, which is what the orchestrator
	// wants; workers pass their dispatcher.
	UpdateHandler telegram.UpdateHandler
}

// NewClient creates a new Telegram client. It does not connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("telegram API ID and API hash are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		apiID:   cfg.APIID,
		apiHash: cfg.APIHash,
		log:     log,
		storage: &memorySession{data: cfg.SessionBlob},
		updates: cfg.UpdateHandler,
	}, nil
}

// Connect brings the MTProto engine up and blocks until it is ready or the
// timeout elapses. Technique from gotd/contrib bg.Connect: Run is started
// in its own goroutine and the inner callback parks until disconnect.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	client := telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.storage,
		// Keep the library quiet unless something is wrong.
		Logger:        c.log.WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
		UpdateHandler: c.updates,
		NoUpdates:     c.updates == nil,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	initDone := make(chan struct{})
	errC := make(chan error, 1)

	c.client = client
	c.cancel = cancel
	c.runDone = runDone
	c.mu.Unlock()

	go func() {
		defer close(runDone)
		err := client.Run(runCtx, func(ctx context.Context) error {
			close(initDone)
			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		})
		select {
		case errC <- err:
		default:
		}
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	connectCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()

	select {
	case <-connectCtx.Done():
		cancel()
		<-runDone
		return fmt.Errorf("timeout waiting for telegram client to connect: %w", connectCtx.Err())
	case err := <-errC:
		cancel()
		if err == nil {
			err = fmt.Errorf("engine stopped during startup")
		}
		return fmt.Errorf("telegram client failed to start: %w", err)
	case <-initDone:
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Close tears the engine down and waits for the run goroutine to exit.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	runDone := c.runDone
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if runDone != nil {
		select {
		case <-runDone:
		case <-time.After(5 * time.Second):
			c.log.Warn("timeout waiting for telegram client to disconnect")
		}
	}

	c.mu.Lock()
	c.connected = false
	c.client = nil
	c.mu.Unlock()
}

// IsConnected reports whether the MTProto engine is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Authorized reports the result of the last successful probe or sign-in.
func (c *Client) Authorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized
}

func (c *Client) setAuthorized(v bool) {
	c.mu.Lock()
	c.authorized = v
	c.mu.Unlock()
}

// Self performs the lightweight "who am I" probe. A successful reply marks
// the client authorized; an unauthorized reply marks it not authorized but
// is not an error for the caller to act on.
func (c *Client) Self(ctx context.Context) (*tg.User, error) {
	client := c.raw()
	if client == nil {
		return nil, fmt.Errorf("client not connected")
	}
	user, err := client.Self(ctx)
	if err != nil {
		if auth.IsUnauthorized(err) {
			c.setAuthorized(false)
		}
		return nil, err
	}
	c.setAuthorized(true)
	return user, nil
}

// SendCode requests a login code for phone and returns the code hash needed
// for sign-in.
func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	client := c.raw()
	if client == nil {
		return "", fmt.Errorf("client not connected")
	}

	sentCode, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}

	switch v := sentCode.(type) {
	case *tg.AuthSentCode:
		return v.PhoneCodeHash, nil
	case *tg.AuthSentCodeSuccess:
		// Already authorized on this session; no code round-trip needed.
		c.setAuthorized(true)
		return "", nil
	default:
		return "", fmt.Errorf("unexpected sent code type: %T", sentCode)
	}
}

// SignIn completes authentication with the SMS code. The gotd sentinel
// auth.ErrPasswordAuthNeeded passes through untouched for the flow
// controller to map.
func (c *Client) SignIn(ctx context.Context, phone, code, codeHash string) error {
	client := c.raw()
	if client == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return err
	}
	c.setAuthorized(true)
	return nil
}

// Password completes 2FA authentication with the cloud password.
func (c *Client) Password(ctx context.Context, password string) error {
	client := c.raw()
	if client == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := client.Auth().Password(ctx, password); err != nil {
		return err
	}
	c.setAuthorized(true)
	return nil
}

// SessionBytes returns the current opaque session blob, or nil when gotd
// has not produced one yet.
func (c *Client) SessionBytes() []byte {
	return c.storage.Bytes()
}

// API exposes the raw MTProto API surface.
func (c *Client) API() *tg.Client {
	client := c.raw()
	if client == nil {
		return nil
	}
	return client.API()
}

func (c *Client) raw() *telegram.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil
	}
	return c.client
}
