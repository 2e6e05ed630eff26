package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SavedMessage is one raw message captured by a listener before
// elaboration.
type SavedMessage struct {
	ID          int64           `json:"id"`
	ListenerID  int64           `json:"listener_id"`
	MessageID   int64           `json:"message_id"`
	Text        string          `json:"text"`
	Data        json.RawMessage `json:"data"`
	SenderID    *int64          `json:"sender_id,omitempty"`
	SenderName  string          `json:"sender_name"`
	MessageDate time.Time       `json:"message_date"`
	SavedAt     time.Time       `json:"saved_at"`
}

// ExtractedValue is one output of an extractor rule.
type ExtractedValue struct {
	ID              int64     `json:"id"`
	ElaborationID   int64     `json:"elaboration_id"`
	MessageID       int64     `json:"message_id"`
	RuleName        string    `json:"rule_name"`
	ExtractedValue  string    `json:"extracted_value"`
	OccurrenceIndex int       `json:"occurrence_index"`
	ExtractedAt     time.Time `json:"extracted_at"`
}

// InsertSavedMessage stores one raw message; replays of the same
// (listener, message) pair are skipped. Returns the row id (existing or
// new) and whether a row was written.
func (d *DB) InsertSavedMessage(ctx context.Context, m *SavedMessage) (int64, bool, error) {
	if len(m.Data) == 0 {
		m.Data = json.RawMessage(`{}`)
	}

	var id int64
	err := d.QueryRow(ctx, `
		INSERT INTO saved_messages (listener_id, message_id, text, data, sender_id, sender_name, message_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listener_id, message_id) DO NOTHING
		RETURNING id
	`, m.ListenerID, m.MessageID, m.Text, m.Data, m.SenderID, m.SenderName, m.MessageDate).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to insert saved message: %w", err)
	}

	// Conflict path: fetch the existing row id so extractors can still
	// reference it.
	err = d.QueryRow(ctx, `
		SELECT id FROM saved_messages WHERE listener_id = $1 AND message_id = $2
	`, m.ListenerID, m.MessageID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up saved message: %w", err)
	}
	return id, false, nil
}

// ListSavedMessages returns a page of a listener's captured messages,
// newest first.
func (d *DB) ListSavedMessages(ctx context.Context, listenerID int64, limit, offset uint64) ([]SavedMessage, error) {
	if limit == 0 || limit > 500 {
		limit = 50
	}
	rows, err := d.Query(ctx, `
		SELECT id, listener_id, message_id, text, data, sender_id, sender_name, message_date, saved_at
		FROM saved_messages
		WHERE listener_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, listenerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved messages: %w", err)
	}
	defer rows.Close()

	var messages []SavedMessage
	for rows.Next() {
		var m SavedMessage
		if err := rows.Scan(
			&m.ID, &m.ListenerID, &m.MessageID, &m.Text, &m.Data,
			&m.SenderID, &m.SenderName, &m.MessageDate, &m.SavedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// InsertExtractedValue stores one extractor output; replays on the unique
// quadruple are skipped.
func (d *DB) InsertExtractedValue(ctx context.Context, v *ExtractedValue) (bool, error) {
	tag, err := d.Exec(ctx, `
		INSERT INTO extracted_values (elaboration_id, message_id, rule_name, extracted_value, occurrence_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (elaboration_id, message_id, rule_name, occurrence_index) DO NOTHING
	`, v.ElaborationID, v.MessageID, v.RuleName, v.ExtractedValue, v.OccurrenceIndex)
	if err != nil {
		return false, fmt.Errorf("failed to insert extracted value: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExtractedValues returns a page of the extraction output of one
// listener across its elaborations, newest first.
func (d *DB) ListExtractedValues(ctx context.Context, listenerID int64, limit, offset uint64) ([]ExtractedValue, error) {
	if limit == 0 || limit > 500 {
		limit = 50
	}
	rows, err := d.Query(ctx, `
		SELECT v.id, v.elaboration_id, v.message_id, v.rule_name, v.extracted_value, v.occurrence_index, v.extracted_at
		FROM extracted_values v
		JOIN message_elaborations e ON e.id = v.elaboration_id
		WHERE e.listener_id = $1
		ORDER BY v.id DESC
		LIMIT $2 OFFSET $3
	`, listenerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted values: %w", err)
	}
	defer rows.Close()

	var values []ExtractedValue
	for rows.Next() {
		var v ExtractedValue
		if err := rows.Scan(
			&v.ID, &v.ElaborationID, &v.MessageID, &v.RuleName,
			&v.ExtractedValue, &v.OccurrenceIndex, &v.ExtractedAt,
		); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CleanupOldSavedMessages deletes saved messages older than 30 days via
// the server-side function.
func (d *DB) CleanupOldSavedMessages(ctx context.Context) (int64, error) {
	var removed int64
	if err := d.QueryRow(ctx, `SELECT cleanup_old_saved_messages()`).Scan(&removed); err != nil {
		return 0, fmt.Errorf("failed to cleanup saved messages: %w", err)
	}
	return removed, nil
}

// CleanupOrphanedLoggingSessions marks week-old error rows removed via the
// server-side function.
func (d *DB) CleanupOrphanedLoggingSessions(ctx context.Context) (int64, error) {
	var moved int64
	if err := d.QueryRow(ctx, `SELECT cleanup_orphaned_logging_sessions()`).Scan(&moved); err != nil {
		return 0, fmt.Errorf("failed to cleanup orphaned sessions: %w", err)
	}
	return moved, nil
}
