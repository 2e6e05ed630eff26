package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

const connectTimeout = 30 * time.Second

// Incoming is one message observed in the monitored chat, flattened for
// the sinks.
type Incoming struct {
	MessageID      int64
	ChatID         int64
	ChatTitle      string
	ChatUsername   string
	ChatType       string
	SenderID       *int64
	SenderName     string
	SenderUsername string
	Text           string
	MessageType    string
	Date           time.Time
}

// Sink consumes the messages of the monitored chat. Logger and listener
// workers plug different sinks into the same runtime.
type Sink interface {
	Handle(ctx context.Context, msg *Incoming) error
}

// Worker is the container-side runtime: one Telegram client locked to one
// chat, feeding one sink. It connects with the session blob supplied in
// its bundle and writes straight to Postgres; it never calls back into the
// orchestrator.
type Worker struct {
	bundle *Bundle
	log    *zap.Logger

	db     *database.DB
	client *tgclient.Client
	sink   Sink
}

// New creates a worker runtime from its bundle.
func New(bundle *Bundle, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{bundle: bundle, log: log}
}

// Run connects the database and the Telegram client, then consumes
// updates until ctx is cancelled. A revoked authorization is fatal: the
// worker exits and the orchestrator's reap loop marks the row.
func (w *Worker) Run(ctx context.Context) error {
	cfg := &w.bundle.Config

	db, err := database.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	w.db = db
	defer db.Close()

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		w.handleMessage(ctx, e, u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		w.handleMessage(ctx, e, u.Message)
		return nil
	})

	client, err := tgclient.NewClient(tgclient.ClientConfig{
		APIID:         cfg.APIID,
		APIHash:       w.bundle.APIHash,
		SessionBlob:   w.bundle.SessionBlob,
		Logger:        w.log,
		UpdateHandler: dispatcher,
	})
	if err != nil {
		return err
	}
	w.client = client
	defer client.Close()

	if err := client.Connect(ctx, connectTimeout); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	self, err := client.Self(ctx)
	if err != nil {
		return fmt.Errorf("session is not usable: %w", tgclient.Classify(err))
	}
	w.log.Info("worker connected",
		zap.Int64("telegram_id", self.ID),
		zap.Int64("chat_id", cfg.ChatID),
		zap.String("type", cfg.Type))

	switch cfg.Type {
	case supervisor.TypeLogger:
		w.sink = newLoggerSink(w.db, cfg, w.log)
	case supervisor.TypeListener, supervisor.TypeForwarder:
		sink, err := newListenerSink(ctx, w.db, w.client, cfg, w.log)
		if err != nil {
			return err
		}
		w.sink = sink
	default:
		return fmt.Errorf("unknown worker type %q", cfg.Type)
	}

	<-ctx.Done()
	return nil
}

// handleMessage filters updates down to the monitored chat and feeds the
// sink.
func (w *Worker) handleMessage(ctx context.Context, e tg.Entities, msg tg.MessageClass) {
	if w.sink == nil {
		return
	}

	message, ok := msg.(*tg.Message)
	if !ok {
		return
	}

	incoming := flatten(e, message)
	if incoming == nil || incoming.ChatID != w.bundle.Config.ChatID {
		return
	}

	if err := w.sink.Handle(ctx, incoming); err != nil {
		w.log.Error("failed to handle message",
			zap.Int64("message_id", incoming.MessageID), zap.Error(err))
	}
}

// flatten turns a raw message plus its entity bag into an Incoming,
// computing the conventional signed chat id.
func flatten(e tg.Entities, message *tg.Message) *Incoming {
	incoming := &Incoming{
		MessageID:   int64(message.ID),
		Text:        message.Message,
		MessageType: classifyMedia(message.Media),
		Date:        time.Unix(int64(message.Date), 0),
	}

	switch peer := message.PeerID.(type) {
	case *tg.PeerUser:
		incoming.ChatID = peer.UserID
		incoming.ChatType = "user"
		if user, ok := e.Users[peer.UserID]; ok {
			incoming.ChatTitle = userDisplayName(user)
			incoming.ChatUsername = user.Username
		}
	case *tg.PeerChat:
		incoming.ChatID = -peer.ChatID
		incoming.ChatType = "group"
		if chat, ok := e.Chats[peer.ChatID]; ok {
			incoming.ChatTitle = chat.Title
		}
	case *tg.PeerChannel:
		incoming.ChatID = -(1_000_000_000_000 + peer.ChannelID)
		incoming.ChatType = "channel"
		if channel, ok := e.Channels[peer.ChannelID]; ok {
			incoming.ChatTitle = channel.Title
			incoming.ChatUsername = channel.Username
			if !channel.Broadcast {
				incoming.ChatType = "supergroup"
			}
		}
	default:
		return nil
	}

	if fromID, ok := message.FromID.(*tg.PeerUser); ok {
		id := fromID.UserID
		incoming.SenderID = &id
		if user, ok := e.Users[id]; ok {
			incoming.SenderName = userDisplayName(user)
			incoming.SenderUsername = user.Username
		}
	} else if incoming.ChatType == "user" {
		id := incoming.ChatID
		incoming.SenderID = &id
		incoming.SenderName = incoming.ChatTitle
	}

	return incoming
}

func classifyMedia(media tg.MessageMediaClass) string {
	switch media.(type) {
	case nil, *tg.MessageMediaEmpty:
		return "text"
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		return "document"
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return "location"
	case *tg.MessageMediaContact:
		return "contact"
	case *tg.MessageMediaPoll:
		return "poll"
	case *tg.MessageMediaWebPage:
		return "webpage"
	default:
		return "other"
	}
}

func userDisplayName(user *tg.User) string {
	if user.FirstName != "" {
		if user.LastName != "" {
			return user.FirstName + " " + user.LastName
		}
		return user.FirstName
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("User %d", user.ID)
}
