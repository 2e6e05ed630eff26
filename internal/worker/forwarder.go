package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
	tgclient "github.com/Gimmi17/Solanagram/internal/telegram"
)

// listenerSink saves raw messages and runs the ordered elaborations:
// extractors harvest values, the single redirect forwards the text to the
// destination chat through the worker's own client.
type listenerSink struct {
	db     *database.DB
	cfg    *supervisor.WorkerConfig
	log    *zap.Logger
	sender *message.Sender

	extractors []*compiledExtractor
	target     tg.InputPeerClass
}

func newListenerSink(ctx context.Context, db *database.DB, client *tgclient.Client, cfg *supervisor.WorkerConfig, log *zap.Logger) (*listenerSink, error) {
	sink := &listenerSink{
		db:  db,
		cfg: cfg,
		log: log,
	}

	targetChat := cfg.TargetChat
	for _, rule := range cfg.Rules {
		switch rule.Type {
		case database.ElaborationExtractor:
			extractor, err := compileExtractor(rule.ID, rule.Config)
			if err != nil {
				return nil, err
			}
			sink.extractors = append(sink.extractors, extractor)
		case database.ElaborationRedirect:
			var redirectCfg struct {
				TargetChatID int64 `json:"target_chat_id"`
			}
			if err := json.Unmarshal(rule.Config, &redirectCfg); err == nil && redirectCfg.TargetChatID != 0 {
				targetChat = redirectCfg.TargetChatID
			}
		}
	}

	if targetChat != 0 {
		api := client.API()
		if api == nil {
			return nil, fmt.Errorf("client not connected")
		}
		peer, err := resolveInputPeer(ctx, api, targetChat)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve redirect target %d: %w", targetChat, err)
		}
		sink.target = peer
		sink.sender = message.NewSender(api)
	}

	return sink, nil
}

func (s *listenerSink) Handle(ctx context.Context, msg *Incoming) error {
	data, err := json.Marshal(map[string]any{
		"chat_title":      msg.ChatTitle,
		"chat_type":       msg.ChatType,
		"sender_username": msg.SenderUsername,
		"message_type":    msg.MessageType,
	})
	if err != nil {
		return err
	}

	savedID, inserted, err := s.db.InsertSavedMessage(ctx, &database.SavedMessage{
		ListenerID:  s.cfg.SessionID,
		MessageID:   msg.MessageID,
		Text:        msg.Text,
		Data:        data,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		MessageDate: msg.Date,
	})
	if err != nil {
		if bumpErr := s.db.BumpListenerCounters(ctx, s.cfg.SessionID, 0, 1); bumpErr != nil {
			s.log.Warn("failed to bump error counter", zap.Error(bumpErr))
		}
		return err
	}

	for _, extractor := range s.extractors {
		for _, extraction := range extractor.Extract(msg.Text) {
			if _, err := s.db.InsertExtractedValue(ctx, &database.ExtractedValue{
				ElaborationID:   extractor.ElaborationID,
				MessageID:       savedID,
				RuleName:        extraction.RuleName,
				ExtractedValue:  extraction.Value,
				OccurrenceIndex: extraction.OccurrenceIndex,
			}); err != nil {
				s.log.Error("failed to store extracted value",
					zap.String("rule", extraction.RuleName), zap.Error(err))
			}
		}
	}

	// Only first sightings are forwarded; replays already went out.
	if inserted && s.sender != nil && msg.Text != "" {
		if _, err := s.sender.To(s.target).Text(ctx, msg.Text); err != nil {
			s.log.Error("failed to forward message",
				zap.Int64("message_id", msg.MessageID), zap.Error(err))
			if bumpErr := s.db.BumpListenerCounters(ctx, s.cfg.SessionID, 0, 1); bumpErr != nil {
				s.log.Warn("failed to bump error counter", zap.Error(bumpErr))
			}
		}
	}

	if inserted {
		return s.db.BumpListenerCounters(ctx, s.cfg.SessionID, 1, 0)
	}
	return nil
}

// resolveInputPeer finds the input peer of a signed chat id by scanning
// the account's dialogs for the matching access hash.
func resolveInputPeer(ctx context.Context, api *tg.Client, chatID int64) (tg.InputPeerClass, error) {
	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      100,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, err
	}

	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	default:
		return nil, fmt.Errorf("unexpected dialogs type: %T", dialogs)
	}

	for _, chat := range chats {
		switch c := chat.(type) {
		case *tg.Chat:
			if -c.ID == chatID {
				return &tg.InputPeerChat{ChatID: c.ID}, nil
			}
		case *tg.Channel:
			if -(1_000_000_000_000+c.ID) == chatID {
				return &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}, nil
			}
		}
	}
	for _, user := range users {
		if u, ok := user.(*tg.User); ok && u.ID == chatID {
			return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}, nil
		}
	}

	return nil, fmt.Errorf("chat %d not found among dialogs", chatID)
}
