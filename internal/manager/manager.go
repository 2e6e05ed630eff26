package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/registry"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

// TelegramClient is the full client surface the orchestrator drives.
// *telegram.Client implements it; tests substitute fakes.
type TelegramClient interface {
	registry.Client
	Connect(ctx context.Context, timeout time.Duration) error
	Self(ctx context.Context) (*tg.User, error)
	SendCode(ctx context.Context, phone string) (string, error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	Password(ctx context.Context, password string) error
	SessionBytes() []byte
	GetChats(ctx context.Context) ([]tgclient.ChatInfo, error)
}

// Factory builds an unconnected client from resolved credentials.
type Factory func(creds *Credentials) (TelegramClient, error)

// Config carries the manager's timeouts.
type Config struct {
	ConnectTimeout time.Duration // per connect attempt
	RequestTimeout time.Duration // per API request inside WithClient
	ProbeTimeout   time.Duration // per who-am-I probe
	MaxAttempts    int
	RetryInterval  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 8 * time.Second
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 8 * time.Second
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 5 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = time.Second
	}
	return out
}

// Manager is the single entry point for "give me a usable client". It owns
// the connect/probe/retry dance and the error classification of the client
// library.
type Manager struct {
	reg     *registry.Registry
	creds   CredentialSource
	factory Factory
	cfg     Config
	log     *zap.Logger

	flights singleflight.Group
}

// New creates a manager. A nil factory defaults to the real gotd-backed
// client.
func New(reg *registry.Registry, creds CredentialSource, factory Factory, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		reg:     reg,
		creds:   creds,
		factory: factory,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
	if m.factory == nil {
		m.factory = func(creds *Credentials) (TelegramClient, error) {
			return tgclient.NewClient(tgclient.ClientConfig{
				APIID:       creds.APIID,
				APIHash:     creds.APIHash,
				SessionBlob: creds.SessionBlob,
				Logger:      log,
			})
		}
	}
	return m
}

// Registry exposes the underlying session registry.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Client extracts the typed client from a registry handle.
func Client(h *registry.Handle) TelegramClient {
	return h.Client.(TelegramClient)
}

// EnsureConnected returns a fresh connected handle for phone, building one
// when the registry has none. Concurrent callers for the same phone share
// a single construction; the losers observe the newly cached handle.
func (m *Manager) EnsureConnected(ctx context.Context, phone string) (*registry.Handle, error) {
	if h := m.reg.Get(phone); h != nil {
		return h, nil
	}

	v, err, _ := m.flights.Do(phone, func() (any, error) {
		// Re-check under the flight: a contender may have just cached one.
		if h := m.reg.Get(phone); h != nil {
			return h, nil
		}
		return m.connect(ctx, phone)
	})
	if err != nil {
		return nil, err
	}
	return v.(*registry.Handle), nil
}

// connect materializes, connects and probes a new client, up to
// MaxAttempts times.
func (m *Manager) connect(ctx context.Context, phone string) (*registry.Handle, error) {
	creds, err := m.creds.CredentialsForPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	wait := backoff.NewConstantBackOff(m.cfg.RetryInterval)
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConnectUnavailable, err)
		}

		client, err := m.factory(creds)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConnectUnavailable, err)
		}

		if err := client.Connect(ctx, m.cfg.ConnectTimeout); err != nil {
			client.Close()
			lastErr = err
			m.log.Warn("telegram connect attempt failed",
				zap.String("phone", phone), zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(wait.NextBackOff())
			continue
		}

		// Advisory probe: authorized or not, a connected client is usable
		// (send-code still works unauthorized). Only transport failures
		// count against the attempt budget.
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		_, probeErr := client.Self(probeCtx)
		cancel()
		if probeErr != nil && tgclient.IsTransport(probeErr) {
			client.Close()
			lastErr = probeErr
			m.log.Warn("telegram health probe failed",
				zap.String("phone", phone), zap.Int("attempt", attempt), zap.Error(probeErr))
			time.Sleep(wait.NextBackOff())
			continue
		}

		return m.reg.Put(phone, client), nil
	}

	return nil, apperrors.Wrap(apperrors.ErrConnectUnavailable, lastErr)
}

// Dispose evicts the handle for phone after an unrecoverable error class.
// Idempotent.
func (m *Manager) Dispose(phone string) {
	m.reg.Evict(phone)
}

// WithClient runs fn against a connected client for phone, bounding it
// with the per-request timeout and recovering from a transport disconnect
// exactly once by evicting the handle and rebuilding it. Every other error
// class surfaces classified.
func (m *Manager) WithClient(ctx context.Context, phone string, fn func(ctx context.Context, c TelegramClient) error) error {
	for attempt := 0; ; attempt++ {
		h, err := m.EnsureConnected(ctx, phone)
		if err != nil {
			return err
		}

		reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		err = tgclient.Classify(fn(reqCtx, Client(h)))
		cancel()
		if err == nil {
			return nil
		}
		if tgclient.IsTransport(err) {
			m.reg.Evict(phone)
			if attempt == 0 {
				m.log.Warn("transport disconnect, evicting client and retrying once",
					zap.String("phone", phone), zap.Error(err))
				continue
			}
			return apperrors.Wrap(apperrors.ErrConnectUnavailable, err)
		}
		if tgclient.IsAuthorizationLost(err) {
			m.reg.Evict(phone)
		}
		return err
	}
}
