package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
)

// loggerSink persists every observed message into message_logs. Replays
// hit the unique triple and count as already-logged, not errors.
type loggerSink struct {
	db  *database.DB
	cfg *supervisor.WorkerConfig
	log *zap.Logger
}

func newLoggerSink(db *database.DB, cfg *supervisor.WorkerConfig, log *zap.Logger) *loggerSink {
	return &loggerSink{db: db, cfg: cfg, log: log}
}

func (s *loggerSink) Handle(ctx context.Context, msg *Incoming) error {
	inserted, err := s.db.InsertMessageLog(ctx, &database.MessageLog{
		UserID:           s.cfg.UserID,
		ChatID:           msg.ChatID,
		ChatTitle:        msg.ChatTitle,
		ChatUsername:     msg.ChatUsername,
		ChatType:         msg.ChatType,
		MessageID:        msg.MessageID,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		SenderUsername:   msg.SenderUsername,
		MessageText:      msg.Text,
		MessageType:      msg.MessageType,
		MessageDate:      msg.Date,
		LoggingSessionID: s.cfg.SessionID,
	})
	if err != nil {
		if bumpErr := s.db.BumpLoggingSessionCounters(ctx, s.cfg.SessionID, 0, 1); bumpErr != nil {
			s.log.Warn("failed to bump error counter", zap.Error(bumpErr))
		}
		return err
	}
	if !inserted {
		// Idempotent replay after a reconnect.
		return nil
	}

	return s.db.BumpLoggingSessionCounters(ctx, s.cfg.SessionID, 1, 0)
}
