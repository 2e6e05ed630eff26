package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gimmi17/Solanagram/internal/authflow"
	"github.com/Gimmi17/Solanagram/internal/bridge"
	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/manager"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

// ChatRef re-exports the supervisor's chat reference for the handlers.
type ChatRef = supervisor.ChatRef

// AuthFlow is the authentication state machine surface the handlers call.
type AuthFlow interface {
	SendCode(ctx context.Context, phone string, forceNew bool) (string, error)
	VerifyCode(ctx context.Context, phone, code, password string) error
	Reactivate(ctx context.Context, phone string) error
	CheckCachedCode(ctx context.Context, phone string) (bool, string, error)
	ClearCachedCode(ctx context.Context, phone string) error
	Disconnect(ctx context.Context, phone string)
}

// ChatBrowser lists the dialogs of a connected account.
type ChatBrowser interface {
	GetChats(ctx context.Context, phone string) ([]tgclient.ChatInfo, error)
}

// Fleet is the worker supervisor surface the handlers call.
type Fleet interface {
	StartLogging(ctx context.Context, userID int64, phone string, chat ChatRef) (*database.LoggingSession, error)
	StopLogging(ctx context.Context, sessionID, userID int64) error
	RemoveLogging(ctx context.Context, sessionID, userID int64) error
	StartListener(ctx context.Context, userID int64, phone string, chat ChatRef, targetChat int64) (*database.Listener, error)
	RestartListener(ctx context.Context, listenerID, userID int64, phone string) (*database.Listener, error)
	StopListener(ctx context.Context, listenerID, userID int64) error
	RemoveListener(ctx context.Context, listenerID, userID int64) error
}

// UserStore is the user slice of the persistence layer.
type UserStore interface {
	CreateUser(ctx context.Context, phone, passwordHash string, apiID int, apiHash []byte) (*database.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*database.User, error)
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	TouchLastLogin(ctx context.Context, userID int64) error
	UpdateCredentials(ctx context.Context, userID int64, apiID int, apiHash []byte) error
	UpdatePasswordHash(ctx context.Context, userID int64, passwordHash string) error
}

// LoggingStore is the read surface over logging sessions and captured
// messages.
type LoggingStore interface {
	ListLoggingSessions(ctx context.Context, userID int64) ([]database.LoggingSession, error)
	GetLoggingSession(ctx context.Context, sessionID, userID int64) (*database.LoggingSession, error)
	GetActiveSessionForChat(ctx context.Context, userID, chatID int64) (*database.LoggingSession, error)
	ListMessageLogs(ctx context.Context, sessionID, userID int64, filter database.MessageLogFilter) ([]database.MessageLog, error)
	GetChatStats(ctx context.Context, userID, chatID int64) (*database.ChatStats, error)
}

// ListenerStore is the read/write surface over listeners and their
// elaborations.
type ListenerStore interface {
	ListListeners(ctx context.Context, userID int64) ([]database.Listener, error)
	ListActiveListenerSummaries(ctx context.Context, userID int64) ([]database.ListenerSummary, error)
	GetListener(ctx context.Context, listenerID, userID int64) (*database.Listener, error)
	ListElaborations(ctx context.Context, listenerID int64) ([]database.Elaboration, error)
	CreateElaboration(ctx context.Context, listenerID int64, elabType, name string, config json.RawMessage, priority int) (*database.Elaboration, error)
	UpdateElaboration(ctx context.Context, elaborationID, listenerID int64, config json.RawMessage, isActive bool, priority int) error
	DeleteElaboration(ctx context.Context, elaborationID, listenerID int64) error
	HasRedirect(ctx context.Context, listenerID int64) (bool, error)
	ListSavedMessages(ctx context.Context, listenerID int64, limit, offset uint64) ([]database.SavedMessage, error)
	ListExtractedValues(ctx context.Context, listenerID int64, limit, offset uint64) ([]database.ExtractedValue, error)
}

// Gateway dispatches every Telegram-touching operation through the async
// bridge so all client objects stay confined to its owning worker. It is
// the production implementation of AuthFlow and ChatBrowser.
type Gateway struct {
	bridge  *bridge.Bridge
	mgr     *manager.Manager
	flow    *authflow.Controller
	timeout time.Duration
}

// NewGateway wires the bridge, manager and flow controller together.
func NewGateway(b *bridge.Bridge, mgr *manager.Manager, flow *authflow.Controller, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = bridge.DefaultTimeout
	}
	return &Gateway{bridge: b, mgr: mgr, flow: flow, timeout: timeout}
}

func (g *Gateway) SendCode(ctx context.Context, phone string, forceNew bool) (string, error) {
	var status string
	err := g.bridge.Run(ctx, g.timeout, func(ctx context.Context) error {
		var opErr error
		status, opErr = g.flow.SendCode(ctx, phone, forceNew)
		return opErr
	})
	return status, err
}

func (g *Gateway) VerifyCode(ctx context.Context, phone, code, password string) error {
	return g.bridge.Run(ctx, g.timeout, func(ctx context.Context) error {
		return g.flow.VerifyCode(ctx, phone, code, password)
	})
}

func (g *Gateway) Reactivate(ctx context.Context, phone string) error {
	return g.bridge.Run(ctx, g.timeout, func(ctx context.Context) error {
		return g.flow.Reactivate(ctx, phone)
	})
}

func (g *Gateway) CheckCachedCode(ctx context.Context, phone string) (bool, string, error) {
	return g.flow.CheckCachedCode(ctx, phone)
}

func (g *Gateway) ClearCachedCode(ctx context.Context, phone string) error {
	return g.flow.ClearCachedCode(ctx, phone)
}

func (g *Gateway) Disconnect(ctx context.Context, phone string) {
	_ = g.bridge.Run(ctx, g.timeout, func(ctx context.Context) error {
		g.flow.Disconnect(ctx, phone)
		return nil
	})
}

// GetChats lists the caller's dialogs. A revoked authorization clears the
// stored session blob before surfacing, so the frontend can restart the
// login flow.
func (g *Gateway) GetChats(ctx context.Context, phone string) ([]tgclient.ChatInfo, error) {
	var chats []tgclient.ChatInfo
	err := g.bridge.Run(ctx, g.timeout, func(ctx context.Context) error {
		opErr := g.mgr.WithClient(ctx, phone, func(ctx context.Context, cl manager.TelegramClient) error {
			var chatErr error
			chats, chatErr = cl.GetChats(ctx)
			return chatErr
		})
		if opErr != nil && tgclient.IsAuthorizationLost(opErr) {
			return g.flow.AuthorizationLost(ctx, phone, opErr)
		}
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}
