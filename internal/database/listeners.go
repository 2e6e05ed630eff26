package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// Elaboration types.
const (
	ElaborationExtractor = "extractor"
	ElaborationRedirect  = "redirect"
)

// Listener is one per-chat forward/extract pipeline, unique on
// (user, source chat) regardless of activation state.
type Listener struct {
	ID              int64
	UserID          int64
	SourceChatID    int64
	ChatTitle       string
	ChatUsername    string
	ChatType        string
	IsActive        bool
	ContainerName   string
	ContainerID     string
	ContainerStatus string
	MessagesSaved   int64
	ErrorsCount     int64
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StoppedAt       *time.Time
}

// Elaboration is one processing rule of a listener: an extractor or the
// single redirect.
type Elaboration struct {
	ID                int64
	ListenerID        int64
	Type              string
	Name              string
	Config            json.RawMessage
	IsActive          bool
	Priority          int
	MessagesProcessed int64
	ErrorsCount       int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const listenerColumns = `
	id, user_id, source_chat_id, chat_title, chat_username, chat_type, is_active,
	COALESCE(container_name, ''), COALESCE(container_id, ''), container_status,
	messages_saved, errors_count, COALESCE(last_error, ''),
	created_at, updated_at, stopped_at`

func scanListener(row pgx.Row) (*Listener, error) {
	var l Listener
	err := row.Scan(
		&l.ID, &l.UserID, &l.SourceChatID, &l.ChatTitle, &l.ChatUsername, &l.ChatType,
		&l.IsActive, &l.ContainerName, &l.ContainerID, &l.ContainerStatus,
		&l.MessagesSaved, &l.ErrorsCount, &l.LastError,
		&l.CreatedAt, &l.UpdatedAt, &l.StoppedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateListener inserts a new listener row in status creating. Duplicate
// (user, source chat) pairs yield ErrAlreadyActive.
func (d *DB) CreateListener(ctx context.Context, userID, sourceChatID int64, title, username, chatType, containerName string) (*Listener, error) {
	listener, err := scanListener(d.QueryRow(ctx, `
		INSERT INTO message_listeners (user_id, source_chat_id, chat_title, chat_username, chat_type, container_name, container_status)
		VALUES ($1, $2, $3, $4, $5, $6, 'creating')
		RETURNING`+listenerColumns,
		userID, sourceChatID, title, username, chatType, containerName,
	))
	if err != nil {
		if isUniqueViolation(err, "message_listeners_user_id_source_chat_id_key") {
			return nil, apperrors.ErrAlreadyActive
		}
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return listener, nil
}

// GetListener fetches one listener scoped to its owner.
func (d *DB) GetListener(ctx context.Context, listenerID, userID int64) (*Listener, error) {
	listener, err := scanListener(d.QueryRow(ctx, `
		SELECT`+listenerColumns+`
		FROM message_listeners WHERE id = $1 AND user_id = $2
	`, listenerID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listener: %w", err)
	}
	return listener, nil
}

// GetListenerByID fetches one listener without owner scoping; used by the
// worker runtime, which authenticates through its bundle.
func (d *DB) GetListenerByID(ctx context.Context, listenerID int64) (*Listener, error) {
	listener, err := scanListener(d.QueryRow(ctx, `
		SELECT`+listenerColumns+`
		FROM message_listeners WHERE id = $1
	`, listenerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listener: %w", err)
	}
	return listener, nil
}

// ListListeners returns every listener of a user, newest first.
func (d *DB) ListListeners(ctx context.Context, userID int64) ([]Listener, error) {
	rows, err := d.Query(ctx, `
		SELECT`+listenerColumns+`
		FROM message_listeners WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listeners: %w", err)
	}
	defer rows.Close()

	var listeners []Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, *l)
	}
	return listeners, rows.Err()
}

// ListRunningListeners returns all rows the reap loop must cross-check.
func (d *DB) ListRunningListeners(ctx context.Context) ([]Listener, error) {
	rows, err := d.Query(ctx, `
		SELECT`+listenerColumns+`
		FROM message_listeners WHERE container_status = 'running'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running listeners: %w", err)
	}
	defer rows.Close()

	var listeners []Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, *l)
	}
	return listeners, rows.Err()
}

// ListenerSummary is one row of the active_listeners_summary view.
type ListenerSummary struct {
	ID               int64  `json:"id"`
	SourceChatID     int64  `json:"source_chat_id"`
	ChatTitle        string `json:"chat_title"`
	ContainerName    string `json:"container_name,omitempty"`
	ContainerStatus  string `json:"container_status"`
	MessagesSaved    int64  `json:"messages_saved"`
	ErrorsCount      int64  `json:"errors_count"`
	ActiveExtractors int64  `json:"active_extractors"`
	ActiveRedirects  int64  `json:"active_redirects"`
}

// ListActiveListenerSummaries reads the active_listeners_summary view for
// one user.
func (d *DB) ListActiveListenerSummaries(ctx context.Context, userID int64) ([]ListenerSummary, error) {
	rows, err := d.Query(ctx, `
		SELECT id, source_chat_id, chat_title, COALESCE(container_name, ''), container_status,
		       messages_saved, errors_count, active_extractors, active_redirects
		FROM active_listeners_summary
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listener summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ListenerSummary
	for rows.Next() {
		var s ListenerSummary
		if err := rows.Scan(
			&s.ID, &s.SourceChatID, &s.ChatTitle, &s.ContainerName, &s.ContainerStatus,
			&s.MessagesSaved, &s.ErrorsCount, &s.ActiveExtractors, &s.ActiveRedirects,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// MarkListenerRunning records the launched container.
func (d *DB) MarkListenerRunning(ctx context.Context, listenerID int64, containerID string) error {
	_, err := d.Exec(ctx, `
		UPDATE message_listeners SET container_id = $2, container_status = 'running', is_active = TRUE
		WHERE id = $1
	`, listenerID, containerID)
	if err != nil {
		return fmt.Errorf("failed to mark listener running: %w", err)
	}
	return nil
}

// MarkListenerStopped deactivates the listener after a clean stop.
func (d *DB) MarkListenerStopped(ctx context.Context, listenerID int64) error {
	_, err := d.Exec(ctx, `
		UPDATE message_listeners
		SET is_active = FALSE, container_status = 'stopped', stopped_at = now()
		WHERE id = $1
	`, listenerID)
	if err != nil {
		return fmt.Errorf("failed to mark listener stopped: %w", err)
	}
	return nil
}

// MarkListenerError deactivates the listener recording the failure.
func (d *DB) MarkListenerError(ctx context.Context, listenerID int64, lastError string) error {
	_, err := d.Exec(ctx, `
		UPDATE message_listeners
		SET is_active = FALSE, container_status = 'error', last_error = $2
		WHERE id = $1
	`, listenerID, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark listener error: %w", err)
	}
	return nil
}

// DeleteListener removes a listener and, via cascade, its elaborations and
// saved messages.
func (d *DB) DeleteListener(ctx context.Context, listenerID, userID int64) error {
	tag, err := d.Exec(ctx, `DELETE FROM message_listeners WHERE id = $1 AND user_id = $2`, listenerID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete listener: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// CreateElaboration adds a processing rule to a listener. A second redirect
// yields ErrRedirectExists, a duplicate name ErrBadRequest.
func (d *DB) CreateElaboration(ctx context.Context, listenerID int64, elabType, name string, config json.RawMessage, priority int) (*Elaboration, error) {
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	var e Elaboration
	err := d.QueryRow(ctx, `
		INSERT INTO message_elaborations (listener_id, type, name, config, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, listener_id, type, name, config, is_active, priority,
		          messages_processed, errors_count, created_at, updated_at
	`, listenerID, elabType, name, config, priority).Scan(
		&e.ID, &e.ListenerID, &e.Type, &e.Name, &e.Config, &e.IsActive, &e.Priority,
		&e.MessagesProcessed, &e.ErrorsCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "message_elaborations_one_redirect") {
			return nil, apperrors.ErrRedirectExists
		}
		if isUniqueViolation(err, "message_elaborations_listener_id_name_key") {
			return nil, apperrors.Wrap(apperrors.ErrBadRequest, err)
		}
		return nil, fmt.Errorf("failed to create elaboration: %w", err)
	}
	return &e, nil
}

// ListElaborations returns the rules of a listener ordered by priority.
func (d *DB) ListElaborations(ctx context.Context, listenerID int64) ([]Elaboration, error) {
	rows, err := d.Query(ctx, `
		SELECT id, listener_id, type, name, config, is_active, priority,
		       messages_processed, errors_count, created_at, updated_at
		FROM message_elaborations
		WHERE listener_id = $1
		ORDER BY priority, id
	`, listenerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list elaborations: %w", err)
	}
	defer rows.Close()

	var elaborations []Elaboration
	for rows.Next() {
		var e Elaboration
		if err := rows.Scan(
			&e.ID, &e.ListenerID, &e.Type, &e.Name, &e.Config, &e.IsActive, &e.Priority,
			&e.MessagesProcessed, &e.ErrorsCount, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		elaborations = append(elaborations, e)
	}
	return elaborations, rows.Err()
}

// HasRedirect reports whether the listener already owns a redirect rule.
func (d *DB) HasRedirect(ctx context.Context, listenerID int64) (bool, error) {
	var exists bool
	err := d.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM message_elaborations WHERE listener_id = $1 AND type = 'redirect')
	`, listenerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check redirect: %w", err)
	}
	return exists, nil
}

// UpdateElaboration replaces the mutable fields of a rule.
func (d *DB) UpdateElaboration(ctx context.Context, elaborationID, listenerID int64, config json.RawMessage, isActive bool, priority int) error {
	tag, err := d.Exec(ctx, `
		UPDATE message_elaborations
		SET config = COALESCE($3, config), is_active = $4, priority = $5
		WHERE id = $1 AND listener_id = $2
	`, elaborationID, listenerID, config, isActive, priority)
	if err != nil {
		return fmt.Errorf("failed to update elaboration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeleteElaboration removes a rule.
func (d *DB) DeleteElaboration(ctx context.Context, elaborationID, listenerID int64) error {
	tag, err := d.Exec(ctx, `
		DELETE FROM message_elaborations WHERE id = $1 AND listener_id = $2
	`, elaborationID, listenerID)
	if err != nil {
		return fmt.Errorf("failed to delete elaboration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// BumpListenerCounters adds to the saved/error counters of a listener row.
func (d *DB) BumpListenerCounters(ctx context.Context, listenerID int64, saved, errored int64) error {
	_, err := d.Exec(ctx, `
		UPDATE message_listeners
		SET messages_saved = messages_saved + $2, errors_count = errors_count + $3
		WHERE id = $1
	`, listenerID, saved, errored)
	if err != nil {
		return fmt.Errorf("failed to bump listener counters: %w", err)
	}
	return nil
}
