package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	apperrors "smarttodos/backend/internal/errors"
	"smarttodos/backend/internal/metrics"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// maxClockSkew is how far ahead of the server a client start time may be.
	maxClockSkew = time.Minute

	maxDurationSeconds = 24 * 60 * 60
)

type PomodoroService struct {
	repo     *repository.PomodoroRepository
	settings *lru.Cache[string, model.PomodoroSettings]
	logger   zerolog.Logger
	now      func() time.Time
}

type SessionHistory struct {
	Sessions []model.PomodoroSession `json:"sessions"`
	Count    int                     `json:"count"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	Stats    model.SessionStats      `json:"stats"`
}

type TaskSessions struct {
	TaskID            string                  `json:"taskId"`
	Sessions          []model.PomodoroSession `json:"sessions"`
	Count             int                     `json:"count"`
	FocusSessions     int                     `json:"focusSessions"`
	TotalFocusMinutes int                     `json:"totalFocusMinutes"`
}

type UpdateSettingsInput struct {
	FocusDurationSeconds      int
	ShortBreakDurationSeconds int
	LongBreakDurationSeconds  int
	LongBreakInterval         int
}

func NewPomodoroService(repo *repository.PomodoroRepository, settingsCacheSize int, logger zerolog.Logger) (*PomodoroService, error) {
	cache, err := lru.New[string, model.PomodoroSettings](settingsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create settings cache: %w", err)
	}
	return &PomodoroService{
		repo:     repo,
		settings: cache,
		logger:   logger.With().Str("component", "pomodoro").Logger(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// CreateSession records a new active session. A user can only have one open
// session; an active session whose countdown has already run out is finished
// first so a lost completion does not block the next start.
func (s *PomodoroService) CreateSession(ctx context.Context, userID string, input model.CreateSessionInput) (*model.PomodoroSession, *apperrors.APIError) {
	if !input.Type.Valid() {
		return nil, apperrors.BadRequest("invalid_type", "type must be one of focus, shortBreak, longBreak")
	}
	if input.PlannedDurationSeconds < 0 || input.PlannedDurationSeconds > maxDurationSeconds {
		return nil, apperrors.BadRequest("invalid_duration", "plannedDurationSeconds must be between 1 and 86400")
	}
	if input.CycleCount < 0 {
		return nil, apperrors.BadRequest("invalid_cycle_count", "cycleCount must not be negative")
	}

	if input.PlannedDurationSeconds == 0 {
		settings, apiErr := s.GetSettings(ctx, userID)
		if apiErr != nil {
			return nil, apiErr
		}
		input.PlannedDurationSeconds = settings.DurationFor(input.Type)
	}

	now := s.now()
	startedAt := now
	if input.StartedAt != nil {
		startedAt = input.StartedAt.UTC()
		if startedAt.After(now.Add(maxClockSkew)) {
			return nil, apperrors.BadRequest("invalid_started_at", "startedAt is in the future")
		}
	}
	taskID := input.TaskID
	if taskID != nil && *taskID == "" {
		taskID = nil
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	open, apiErr := s.openSessionTx(ctx, tx, userID, now)
	if apiErr != nil {
		return nil, apiErr
	}
	if open != nil {
		metrics.SessionWritesTotal.WithLabelValues("create", "conflict").Inc()
		return nil, activeSessionConflict(open)
	}

	session := &model.PomodoroSession{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		Type:                   input.Type,
		Status:                 model.StatusActive,
		TaskID:                 taskID,
		PlannedDurationSeconds: input.PlannedDurationSeconds,
		RemainingSeconds:       input.PlannedDurationSeconds,
		CycleCount:             input.CycleCount,
		StartedAt:              startedAt,
		CreatedAt:              now,
		// The remaining time is exact as of the start.
		UpdatedAt: startedAt,
	}
	if err := s.repo.InsertSessionTx(ctx, tx, session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			metrics.SessionWritesTotal.WithLabelValues("create", "conflict").Inc()
			return nil, activeSessionConflict(nil)
		}
		metrics.SessionWritesTotal.WithLabelValues("create", "error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to insert session")
		return nil, apperrors.Internal("failed to create session")
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	metrics.SessionWritesTotal.WithLabelValues("create", "ok").Inc()
	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("type", string(session.Type)).
		Msg("Session created")
	return session, nil
}

// UpdateSessionStatus applies a status change to an open session. Repeating
// the terminal status of a closed session is accepted so replayed writes are
// harmless; any other change to a closed session is a conflict.
func (s *PomodoroService) UpdateSessionStatus(ctx context.Context, userID string, input model.UpdateSessionInput) (*model.PomodoroSession, *apperrors.APIError) {
	if !input.Status.Valid() {
		return nil, apperrors.BadRequest("invalid_status", "status must be one of active, paused, finished, cancelled")
	}
	if input.CycleCount != nil && *input.CycleCount < 0 {
		return nil, apperrors.BadRequest("invalid_cycle_count", "cycleCount must not be negative")
	}

	now := s.now()
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, err := s.repo.GetSessionTx(ctx, tx, userID, input.ID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}

	if session.Status.Terminal() {
		if session.Status == input.Status {
			return session, nil
		}
		metrics.SessionWritesTotal.WithLabelValues("update", "conflict").Inc()
		return nil, apperrors.Conflict(
			"invalid_status_transition",
			fmt.Sprintf("session is already %s", session.Status),
			map[string]interface{}{"session": session},
		)
	}

	applyUpdate(session, input, now)
	if err := s.repo.UpdateSessionTx(ctx, tx, session); err != nil {
		metrics.SessionWritesTotal.WithLabelValues("update", "error").Inc()
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to update session")
		return nil, apperrors.Internal("failed to update session")
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	metrics.SessionWritesTotal.WithLabelValues("update", "ok").Inc()
	s.logger.Debug().
		Str("session_id", session.ID).
		Str("status", string(session.Status)).
		Int("remaining_seconds", session.RemainingSeconds).
		Msg("Session updated")
	return session, nil
}

func (s *PomodoroService) ListSessions(ctx context.Context, userID string, filter model.SessionFilter) ([]model.PomodoroSession, *apperrors.APIError) {
	filter, apiErr := normalizeFilter(filter)
	if apiErr != nil {
		return nil, apiErr
	}

	sessions, err := s.repo.ListSessions(ctx, userID, filter)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list sessions")
		return nil, apperrors.Internal("failed to list sessions")
	}
	return sessions, nil
}

// ActiveSession returns the user's open session, or nil when there is none.
func (s *PomodoroService) ActiveSession(ctx context.Context, userID string) (*model.PomodoroSession, *apperrors.APIError) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	open, apiErr := s.openSessionTx(ctx, tx, userID, s.now())
	if apiErr != nil {
		return nil, apiErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}
	return open, nil
}

func (s *PomodoroService) History(ctx context.Context, userID string, filter model.SessionFilter) (*SessionHistory, *apperrors.APIError) {
	filter, apiErr := normalizeFilter(filter)
	if apiErr != nil {
		return nil, apiErr
	}

	sessions, listErr := s.ListSessions(ctx, userID, filter)
	if listErr != nil {
		return nil, listErr
	}
	return &SessionHistory{
		Sessions: sessions,
		Count:    len(sessions),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
		Stats:    computeStats(sessions),
	}, nil
}

func (s *PomodoroService) TaskSessions(ctx context.Context, userID, taskID string) (*TaskSessions, *apperrors.APIError) {
	if taskID == "" {
		return nil, apperrors.BadRequest("invalid_task_id", "task id is required")
	}

	sessions, apiErr := s.ListSessions(ctx, userID, model.SessionFilter{TaskID: &taskID, Limit: maxListLimit})
	if apiErr != nil {
		return nil, apiErr
	}
	stats := computeStats(sessions)
	return &TaskSessions{
		TaskID:            taskID,
		Sessions:          sessions,
		Count:             len(sessions),
		FocusSessions:     stats.FocusSessions,
		TotalFocusMinutes: stats.TotalFocusMinutes,
	}, nil
}

func (s *PomodoroService) GetSettings(ctx context.Context, userID string) (*model.PomodoroSettings, *apperrors.APIError) {
	if cached, ok := s.settings.Get(userID); ok {
		return &cached, nil
	}

	settings, err := s.repo.GetSettings(ctx, userID)
	if err == repository.ErrNotFound {
		if createErr := s.repo.CreateDefaultSettings(ctx, userID); createErr != nil {
			s.logger.Error().Err(createErr).Str("user_id", userID).Msg("Failed to create default settings")
			return nil, apperrors.Internal("failed to create settings")
		}
		settings, err = s.repo.GetSettings(ctx, userID)
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get settings")
	}

	s.settings.Add(userID, *settings)
	return settings, nil
}

func (s *PomodoroService) UpdateSettings(ctx context.Context, userID string, input UpdateSettingsInput) (*model.PomodoroSettings, *apperrors.APIError) {
	durations := []int{input.FocusDurationSeconds, input.ShortBreakDurationSeconds, input.LongBreakDurationSeconds}
	for _, duration := range durations {
		if duration <= 0 || duration > maxDurationSeconds {
			return nil, apperrors.BadRequest("invalid_duration", "all durations must be between 1 and 86400 seconds")
		}
	}
	if input.LongBreakInterval <= 0 {
		return nil, apperrors.BadRequest("invalid_long_break_interval", "longBreakInterval must be positive")
	}

	settings := &model.PomodoroSettings{
		UserID:                    userID,
		FocusDurationSeconds:      input.FocusDurationSeconds,
		ShortBreakDurationSeconds: input.ShortBreakDurationSeconds,
		LongBreakDurationSeconds:  input.LongBreakDurationSeconds,
		LongBreakInterval:         input.LongBreakInterval,
		UpdatedAt:                 s.now(),
	}
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update settings")
		return nil, apperrors.Internal("failed to update settings")
	}

	s.settings.Add(userID, *settings)
	return settings, nil
}

// openSessionTx returns the user's open session after finishing it if its
// countdown has run out.
func (s *PomodoroService) openSessionTx(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (*model.PomodoroSession, *apperrors.APIError) {
	open, err := s.repo.GetOpenSessionTx(ctx, tx, userID)
	if err == repository.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get open session")
	}

	if open.Status != model.StatusActive {
		return open, nil
	}
	endsAt := open.UpdatedAt.Add(time.Duration(open.RemainingSeconds) * time.Second)
	if endsAt.After(now) {
		return open, nil
	}

	open.Status = model.StatusFinished
	open.RemainingSeconds = 0
	open.EndedAt = &endsAt
	open.UpdatedAt = now
	// Finished records carry the completed count before any long-break
	// reset, the same value the timer writes when it finishes a session.
	if open.Type == model.SessionTypeFocus {
		open.CycleCount++
	}
	if err := s.repo.UpdateSessionTx(ctx, tx, open); err != nil {
		return nil, apperrors.Internal("failed to finish expired session")
	}

	metrics.SessionWritesTotal.WithLabelValues("expire", "ok").Inc()
	s.logger.Info().Str("session_id", open.ID).Msg("Finished session whose countdown ran out")
	return nil, nil
}

func applyUpdate(session *model.PomodoroSession, input model.UpdateSessionInput, now time.Time) {
	remaining := input.RemainingSeconds
	if remaining < 0 {
		remaining = 0
	}
	if remaining > session.PlannedDurationSeconds {
		remaining = session.PlannedDurationSeconds
	}
	if input.Status == model.StatusFinished {
		remaining = 0
	}

	session.Status = input.Status
	session.RemainingSeconds = remaining
	if input.CycleCount != nil {
		session.CycleCount = *input.CycleCount
	}

	session.EndedAt = nil
	if input.Status.Terminal() {
		endedAt := now
		if input.EndedAt != nil {
			endedAt = input.EndedAt.UTC()
		}
		if endedAt.Before(session.StartedAt) {
			endedAt = session.StartedAt
		}
		session.EndedAt = &endedAt
	}
	session.UpdatedAt = now
}

func normalizeFilter(filter model.SessionFilter) (model.SessionFilter, *apperrors.APIError) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return filter, apperrors.BadRequest("invalid_status", fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return filter, apperrors.BadRequest("invalid_type", fmt.Sprintf("unknown type %q", *filter.Type))
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, apperrors.BadRequest("invalid_range", "to must not be before from")
	}
	return filter, nil
}

// computeStats counts focus minutes from the time actually spent counting
// down, so pauses are not included.
func computeStats(sessions []model.PomodoroSession) model.SessionStats {
	stats := model.SessionStats{TotalSessions: len(sessions)}
	for _, session := range sessions {
		switch session.Status {
		case model.StatusFinished:
			stats.CompletedSessions++
		case model.StatusCancelled:
			stats.CancelledSessions++
		}

		if session.Type.IsBreak() {
			stats.BreakSessions++
			continue
		}
		stats.FocusSessions++
		if session.Status == model.StatusFinished {
			stats.TotalFocusMinutes += session.ElapsedSeconds() / 60
		}
	}
	return stats
}

func activeSessionConflict(open *model.PomodoroSession) *apperrors.APIError {
	var details interface{}
	if open != nil {
		details = map[string]interface{}{"session": open}
	}
	return apperrors.Conflict("active_session_exists", "another session is already running", details)
}
