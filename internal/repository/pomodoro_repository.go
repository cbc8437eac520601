package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"smarttodos/backend/internal/model"
)

const (
	sessionColumns = `id, user_id, type, status, task_id, planned_duration_seconds, remaining_seconds,
        cycle_count, started_at, ended_at, created_at, updated_at`
	settingsColumns = `user_id, focus_duration_seconds, short_break_duration_seconds,
        long_break_duration_seconds, long_break_interval, updated_at`
)

type PomodoroRepository struct {
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func NewPomodoroRepository(db *sql.DB) *PomodoroRepository {
	return &PomodoroRepository{db: db}
}

func (r *PomodoroRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// CreateDefaultSettings stores the default settings for userID unless the
// user already has settings.
func (r *PomodoroRepository) CreateDefaultSettings(ctx context.Context, userID string) error {
	settings := model.DefaultSettings(userID)
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO pomodoro_settings (`+settingsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		settings.UserID,
		settings.FocusDurationSeconds,
		settings.ShortBreakDurationSeconds,
		settings.LongBreakDurationSeconds,
		settings.LongBreakInterval,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("create default settings: %w", err)
	}
	return nil
}

func (r *PomodoroRepository) GetSettings(ctx context.Context, userID string) (*model.PomodoroSettings, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+settingsColumns+` FROM pomodoro_settings WHERE user_id = ?`,
		userID,
	)

	var (
		settings  model.PomodoroSettings
		updatedAt string
	)
	err := row.Scan(
		&settings.UserID,
		&settings.FocusDurationSeconds,
		&settings.ShortBreakDurationSeconds,
		&settings.LongBreakDurationSeconds,
		&settings.LongBreakInterval,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}

	if err := parseTimeColumns("settings", timeColumn{"updated_at", updatedAt, &settings.UpdatedAt}); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *PomodoroRepository) UpsertSettings(ctx context.Context, settings *model.PomodoroSettings) error {
	return upsertSettings(ctx, r.db, settings)
}

func upsertSettings(ctx context.Context, q dbtx, settings *model.PomodoroSettings) error {
	_, err := q.ExecContext(
		ctx,
		`INSERT INTO pomodoro_settings (`+settingsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			focus_duration_seconds = excluded.focus_duration_seconds,
			short_break_duration_seconds = excluded.short_break_duration_seconds,
			long_break_duration_seconds = excluded.long_break_duration_seconds,
			long_break_interval = excluded.long_break_interval,
			updated_at = excluded.updated_at`,
		settings.UserID,
		settings.FocusDurationSeconds,
		settings.ShortBreakDurationSeconds,
		settings.LongBreakDurationSeconds,
		settings.LongBreakInterval,
		formatTime(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// InsertSessionTx returns ErrActiveSessionExists when the user already has an
// active or paused session.
func (r *PomodoroRepository) InsertSessionTx(ctx context.Context, tx *sql.Tx, session *model.PomodoroSession) error {
	return insertSession(ctx, tx, session)
}

func insertSession(ctx context.Context, q dbtx, session *model.PomodoroSession) error {
	var taskID interface{}
	if session.TaskID != nil {
		taskID = *session.TaskID
	}

	_, err := q.ExecContext(
		ctx,
		`INSERT INTO pomodoro_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		string(session.Type),
		string(session.Status),
		taskID,
		session.PlannedDurationSeconds,
		session.RemainingSeconds,
		session.CycleCount,
		formatTime(session.StartedAt),
		nullableTime(session.EndedAt),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && session.Status.Open() {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PomodoroRepository) GetSessionTx(ctx context.Context, tx *sql.Tx, userID, sessionID string) (*model.PomodoroSession, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+`
		 FROM pomodoro_sessions
		 WHERE id = ? AND user_id = ?`,
		sessionID,
		userID,
	)
	return scanPomodoroSession(row)
}

func (r *PomodoroRepository) UpdateSessionTx(ctx context.Context, tx *sql.Tx, session *model.PomodoroSession) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE pomodoro_sessions
		 SET status = ?,
		     remaining_seconds = ?,
			 cycle_count = ?,
			 ended_at = ?,
			 updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(session.Status),
		session.RemainingSeconds,
		session.CycleCount,
		nullableTime(session.EndedAt),
		formatTime(session.UpdatedAt),
		session.ID,
		session.UserID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (r *PomodoroRepository) GetOpenSessionTx(ctx context.Context, tx *sql.Tx, userID string) (*model.PomodoroSession, error) {
	return getOpenSession(ctx, tx, userID)
}

func getOpenSession(ctx context.Context, q dbtx, userID string) (*model.PomodoroSession, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+`
		 FROM pomodoro_sessions
		 WHERE user_id = ? AND status IN ('active', 'paused')
		 ORDER BY started_at DESC
		 LIMIT 1`,
		userID,
	)
	return scanPomodoroSession(row)
}

func (r *PomodoroRepository) ListSessions(ctx context.Context, userID string, filter model.SessionFilter) ([]model.PomodoroSession, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.TaskID != nil {
		where = append(where, "task_id = ?")
		args = append(args, *filter.TaskID)
	}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "started_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+`
		 FROM pomodoro_sessions
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY started_at DESC
		 LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.PomodoroSession, 0, filter.Limit)
	for rows.Next() {
		session, scanErr := scanPomodoroSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPomodoroSession(s scanner) (*model.PomodoroSession, error) {
	session := model.PomodoroSession{}
	var sessionType string
	var status string
	var taskID sql.NullString
	var startedAt string
	var endedAt sql.NullString
	var createdAt string
	var updatedAt string
	err := s.Scan(
		&session.ID,
		&session.UserID,
		&sessionType,
		&status,
		&taskID,
		&session.PlannedDurationSeconds,
		&session.RemainingSeconds,
		&session.CycleCount,
		&startedAt,
		&endedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.Type = model.SessionType(sessionType)
	session.Status = model.SessionStatus(status)
	if taskID.Valid {
		value := taskID.String
		session.TaskID = &value
	}

	err = parseTimeColumns("session",
		timeColumn{"started_at", startedAt, &session.StartedAt},
		timeColumn{"created_at", createdAt, &session.CreatedAt},
		timeColumn{"updated_at", updatedAt, &session.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	if session.EndedAt, err = parseNullableTime("session", "ended_at", endedAt); err != nil {
		return nil, err
	}

	return &session, nil
}
