package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// MessageLog is one captured message. The id column doubles as the global
// progressive number; its monotonicity is delegated to the database
// sequence and is not gap-free.
type MessageLog struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	ChatID           int64      `json:"chat_id"`
	ChatTitle        string     `json:"chat_title"`
	ChatUsername     string     `json:"chat_username,omitempty"`
	ChatType         string     `json:"chat_type"`
	MessageID        int64      `json:"message_id"`
	SenderID         *int64     `json:"sender_id,omitempty"`
	SenderName       string     `json:"sender_name"`
	SenderUsername   string     `json:"sender_username,omitempty"`
	MessageText      string     `json:"message_text"`
	MessageType      string     `json:"message_type"`
	MediaFileID      *string    `json:"media_file_id,omitempty"`
	MessageDate      time.Time  `json:"message_date"`
	LoggedAt         time.Time  `json:"logged_at"`
	LoggingSessionID int64      `json:"logging_session_id"`
}

// MessageLogFilter narrows ListMessageLogs. Zero values mean "no filter";
// a zero Limit, or one above 500, yields a page of 50.
type MessageLogFilter struct {
	SenderID    int64
	MessageType string
	Search      string
	Limit       uint64
	Offset      uint64
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// InsertMessageLog stores one message. A replayed (chat, message, session)
// triple is silently skipped; the returned flag reports whether a row was
// actually written.
func (d *DB) InsertMessageLog(ctx context.Context, m *MessageLog) (bool, error) {
	tag, err := d.Exec(ctx, `
		INSERT INTO message_logs (
			user_id, chat_id, chat_title, chat_username, chat_type,
			message_id, sender_id, sender_name, sender_username,
			message_text, message_type, media_file_id, message_date, logging_session_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (chat_id, message_id, logging_session_id) DO NOTHING
	`,
		m.UserID, m.ChatID, m.ChatTitle, m.ChatUsername, m.ChatType,
		m.MessageID, m.SenderID, m.SenderName, m.SenderUsername,
		m.MessageText, m.MessageType, m.MediaFileID, m.MessageDate, m.LoggingSessionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message log: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListMessageLogs returns the captured messages of one session, newest
// first, with optional filters and pagination.
func (d *DB) ListMessageLogs(ctx context.Context, sessionID, userID int64, filter MessageLogFilter) ([]MessageLog, error) {
	builder := psql.Select(
		"id", "user_id", "chat_id", "chat_title", "chat_username", "chat_type",
		"message_id", "sender_id", "sender_name", "sender_username",
		"message_text", "message_type", "media_file_id", "message_date", "logged_at",
		"logging_session_id",
	).
		From("message_logs").
		Where(sq.Eq{"logging_session_id": sessionID, "user_id": userID}).
		OrderBy("id DESC")

	if filter.SenderID != 0 {
		builder = builder.Where(sq.Eq{"sender_id": filter.SenderID})
	}
	if filter.MessageType != "" {
		builder = builder.Where(sq.Eq{"message_type": filter.MessageType})
	}
	if filter.Search != "" {
		builder = builder.Where(sq.ILike{"message_text": "%" + filter.Search + "%"})
	}
	limit := filter.Limit
	if limit == 0 || limit > 500 {
		limit = 50
	}
	builder = builder.Limit(limit).Offset(filter.Offset)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build message log query: %w", err)
	}

	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list message logs: %w", err)
	}
	defer rows.Close()

	var logs []MessageLog
	for rows.Next() {
		var m MessageLog
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.ChatID, &m.ChatTitle, &m.ChatUsername, &m.ChatType,
			&m.MessageID, &m.SenderID, &m.SenderName, &m.SenderUsername,
			&m.MessageText, &m.MessageType, &m.MediaFileID, &m.MessageDate, &m.LoggedAt,
			&m.LoggingSessionID,
		); err != nil {
			return nil, err
		}
		logs = append(logs, m)
	}
	return logs, rows.Err()
}

// ChatStats is one row of the chat_logging_stats view.
type ChatStats struct {
	ChatID        int64      `json:"chat_id"`
	ChatTitle     string     `json:"chat_title"`
	TotalMessages int64      `json:"total_messages"`
	FirstLoggedAt *time.Time `json:"first_logged_at,omitempty"`
	LastLoggedAt  *time.Time `json:"last_logged_at,omitempty"`
	LastMessageID int64      `json:"last_message_id"`
}

// GetChatStats aggregates the logging history of one chat for a user.
func (d *DB) GetChatStats(ctx context.Context, userID, chatID int64) (*ChatStats, error) {
	var s ChatStats
	err := d.QueryRow(ctx, `
		SELECT chat_id, chat_title, total_messages, first_logged_at, last_logged_at, last_message_id
		FROM chat_logging_stats
		WHERE user_id = $1 AND chat_id = $2
	`, userID, chatID).Scan(
		&s.ChatID, &s.ChatTitle, &s.TotalMessages, &s.FirstLoggedAt, &s.LastLoggedAt, &s.LastMessageID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat stats: %w", err)
	}
	return &s, nil
}

// PurgeMessageLogsOlderThan deletes captured messages older than the given
// retention window. Only invoked when the operator opts into a retention
// knob; the default is to keep everything.
func (d *DB) PurgeMessageLogsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := d.Exec(ctx, `DELETE FROM message_logs WHERE logged_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to purge message logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
