package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// Worker container status values.
const (
	StatusCreating = "creating"
	StatusCreated  = "created"
	StatusRunning  = "running"
	StatusError    = "error"
	StatusStopped  = "stopped"
	StatusRemoved  = "removed"
)

// LoggingSession is one per-chat capture job. The row is the source of
// truth; the container referenced by ContainerID is disposable.
type LoggingSession struct {
	ID              int64
	UserID          int64
	ChatID          int64
	ChatTitle       string
	ChatUsername    string
	ChatType        string
	IsActive        bool
	ContainerName   string
	ContainerID     string
	ContainerStatus string
	MessagesLogged  int64
	ErrorsCount     int64
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StoppedAt       *time.Time
}

const loggingSessionColumns = `
	id, user_id, chat_id, chat_title, chat_username, chat_type, is_active,
	COALESCE(container_name, ''), COALESCE(container_id, ''), container_status,
	messages_logged, errors_count, COALESCE(last_error, ''),
	created_at, updated_at, stopped_at`

func scanLoggingSession(row pgx.Row) (*LoggingSession, error) {
	var s LoggingSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.ChatID, &s.ChatTitle, &s.ChatUsername, &s.ChatType,
		&s.IsActive, &s.ContainerName, &s.ContainerID, &s.ContainerStatus,
		&s.MessagesLogged, &s.ErrorsCount, &s.LastError,
		&s.CreatedAt, &s.UpdatedAt, &s.StoppedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReserveLoggingSession atomically checks the at-most-one-active invariant
// and inserts a new row in status creating. The check runs FOR UPDATE in
// one transaction so two concurrent starts cannot both pass; the partial
// unique index backs the same invariant at the storage level.
func (d *DB) ReserveLoggingSession(ctx context.Context, userID, chatID int64, title, username, chatType, containerName string) (*LoggingSession, error) {
	tx, err := d.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM logging_sessions
		WHERE user_id = $1 AND chat_id = $2 AND is_active
		FOR UPDATE
	`, userID, chatID).Scan(&existing)
	if err == nil {
		return nil, apperrors.ErrAlreadyActive
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	session, err := scanLoggingSession(tx.QueryRow(ctx, `
		INSERT INTO logging_sessions (user_id, chat_id, chat_title, chat_username, chat_type, container_name, container_status)
		VALUES ($1, $2, $3, $4, $5, $6, 'creating')
		RETURNING`+loggingSessionColumns,
		userID, chatID, title, username, chatType, containerName,
	))
	if err != nil {
		if isUniqueViolation(err, "logging_sessions_one_active") {
			return nil, apperrors.ErrAlreadyActive
		}
		return nil, fmt.Errorf("failed to reserve logging session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit session reservation: %w", err)
	}
	return session, nil
}

// MarkLoggingSessionRunning records the launched container.
func (d *DB) MarkLoggingSessionRunning(ctx context.Context, sessionID int64, containerID string) error {
	_, err := d.Exec(ctx, `
		UPDATE logging_sessions
		SET container_id = $2, container_status = 'running'
		WHERE id = $1
	`, sessionID, containerID)
	if err != nil {
		return fmt.Errorf("failed to mark session running: %w", err)
	}
	return nil
}

// MarkLoggingSessionStopped deactivates the row after a clean stop.
func (d *DB) MarkLoggingSessionStopped(ctx context.Context, sessionID int64) error {
	_, err := d.Exec(ctx, `
		UPDATE logging_sessions
		SET is_active = FALSE, container_status = 'stopped', stopped_at = now()
		WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session stopped: %w", err)
	}
	return nil
}

// MarkLoggingSessionError deactivates the row recording the failure.
func (d *DB) MarkLoggingSessionError(ctx context.Context, sessionID int64, lastError string) error {
	_, err := d.Exec(ctx, `
		UPDATE logging_sessions
		SET is_active = FALSE, container_status = 'error', last_error = $2
		WHERE id = $1
	`, sessionID, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark session error: %w", err)
	}
	return nil
}

// DeleteLoggingSession removes a reserved row after a failed launch; the
// bundle and container never came up so no history is worth keeping.
func (d *DB) DeleteLoggingSession(ctx context.Context, sessionID int64) error {
	_, err := d.Exec(ctx, `DELETE FROM logging_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete logging session: %w", err)
	}
	return nil
}

// GetLoggingSession fetches one row, scoped to its owner.
func (d *DB) GetLoggingSession(ctx context.Context, sessionID, userID int64) (*LoggingSession, error) {
	session, err := scanLoggingSession(d.QueryRow(ctx, `
		SELECT`+loggingSessionColumns+`
		FROM logging_sessions WHERE id = $1 AND user_id = $2
	`, sessionID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get logging session: %w", err)
	}
	return session, nil
}

// ListLoggingSessions returns every session of a user, newest first.
func (d *DB) ListLoggingSessions(ctx context.Context, userID int64) ([]LoggingSession, error) {
	rows, err := d.Query(ctx, `
		SELECT`+loggingSessionColumns+`
		FROM logging_sessions WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logging sessions: %w", err)
	}
	defer rows.Close()

	var sessions []LoggingSession
	for rows.Next() {
		s, err := scanLoggingSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetActiveSessionForChat returns the active session of (user, chat), or
// nil when none exists. Reads through the active_logging_sessions view.
func (d *DB) GetActiveSessionForChat(ctx context.Context, userID, chatID int64) (*LoggingSession, error) {
	s := LoggingSession{IsActive: true}
	err := d.QueryRow(ctx, `
		SELECT id, user_id, chat_id, chat_title, chat_username, chat_type,
		       COALESCE(container_name, ''), COALESCE(container_id, ''), container_status,
		       messages_logged, errors_count, COALESCE(last_error, ''), created_at, updated_at
		FROM active_logging_sessions
		WHERE user_id = $1 AND chat_id = $2
	`, userID, chatID).Scan(
		&s.ID, &s.UserID, &s.ChatID, &s.ChatTitle, &s.ChatUsername, &s.ChatType,
		&s.ContainerName, &s.ContainerID, &s.ContainerStatus,
		&s.MessagesLogged, &s.ErrorsCount, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return &s, nil
}

// ListRunningLoggingSessions returns all rows the reap loop must
// cross-check against live containers.
func (d *DB) ListRunningLoggingSessions(ctx context.Context) ([]LoggingSession, error) {
	rows, err := d.Query(ctx, `
		SELECT`+loggingSessionColumns+`
		FROM logging_sessions WHERE container_status = 'running'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running sessions: %w", err)
	}
	defer rows.Close()

	var sessions []LoggingSession
	for rows.Next() {
		s, err := scanLoggingSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// BumpLoggingSessionCounters adds to the logged/error counters of a
// session row. Called by workers after each insert batch.
func (d *DB) BumpLoggingSessionCounters(ctx context.Context, sessionID int64, logged, errored int64) error {
	_, err := d.Exec(ctx, `
		UPDATE logging_sessions
		SET messages_logged = messages_logged + $2, errors_count = errors_count + $3
		WHERE id = $1
	`, sessionID, logged, errored)
	if err != nil {
		return fmt.Errorf("failed to bump session counters: %w", err)
	}
	return nil
}
