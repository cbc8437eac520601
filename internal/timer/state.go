package timer

import (
	"time"

	"smarttodos/backend/internal/model"
)

// Session is the engine's view of the current pomodoro. ID stays empty until
// the session store has acknowledged the session; LocalID is assigned at start
// and identifies the session for the sync worker.
type Session struct {
	ID                     string
	LocalID                string
	Type                   model.SessionType
	Status                 model.SessionStatus
	TaskID                 string
	PlannedDurationSeconds int
	RemainingSeconds       int
	StartedAt              time.Time
	EndedAt                time.Time
	PausedAt               time.Time
	PausedTotal            time.Duration
}

type State struct {
	Session    Session
	CycleCount int
	// Next is the recommended type for the following session. It is only set
	// after a natural completion.
	Next        model.SessionType
	Degraded    bool
	PendingSync bool
}

func (s State) Status() model.SessionStatus {
	if s.Session.Status == "" {
		return model.StatusIdle
	}
	return s.Session.Status
}

type EventKind string

const (
	EventStarted              EventKind = "started"
	EventTick                 EventKind = "tick"
	EventPaused               EventKind = "paused"
	EventResumed              EventKind = "resumed"
	EventFinished             EventKind = "finished"
	EventCancelled            EventKind = "cancelled"
	EventRestored             EventKind = "restored"
	EventSynced               EventKind = "synced"
	EventPersistenceDegraded  EventKind = "persistence_degraded"
	EventPersistenceRecovered EventKind = "persistence_recovered"
	EventClockAnomaly         EventKind = "clock_anomaly"
)

type Event struct {
	Kind  EventKind
	At    time.Time
	State State
	// Recommended is set on EventFinished.
	Recommended model.SessionType
	Err         error
}

// Snapshot is the durable mirror of engine state. Remaining time is never
// trusted on restore; it is recomputed from the timestamps.
type Snapshot struct {
	Version     int                 `json:"version"`
	SavedAt     time.Time           `json:"savedAt"`
	SessionID   string              `json:"sessionId,omitempty"`
	LocalID     string              `json:"localId,omitempty"`
	Type        model.SessionType   `json:"type,omitempty"`
	Status      model.SessionStatus `json:"status"`
	TaskID      string              `json:"taskId,omitempty"`
	Planned     int                 `json:"plannedDurationSeconds"`
	Remaining   int                 `json:"remainingSeconds"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	EndedAt     *time.Time          `json:"endedAt,omitempty"`
	PausedAt    *time.Time          `json:"pausedAt,omitempty"`
	PausedMS    int64               `json:"totalPausedMs"`
	CycleCount  int                 `json:"cycleCount"`
	Next        model.SessionType   `json:"next,omitempty"`
	PendingSync bool                `json:"pendingSync"`
}

const snapshotVersion = 1

func snapshotOf(state State, now time.Time) Snapshot {
	s := state.Session
	return Snapshot{
		Version:     snapshotVersion,
		SavedAt:     now,
		SessionID:   s.ID,
		LocalID:     s.LocalID,
		Type:        s.Type,
		Status:      state.Status(),
		TaskID:      s.TaskID,
		Planned:     s.PlannedDurationSeconds,
		Remaining:   s.RemainingSeconds,
		StartedAt:   timePtr(s.StartedAt),
		EndedAt:     timePtr(s.EndedAt),
		PausedAt:    timePtr(s.PausedAt),
		PausedMS:    s.PausedTotal.Milliseconds(),
		CycleCount:  state.CycleCount,
		Next:        state.Next,
		PendingSync: state.PendingSync,
	}
}

func (s Snapshot) state() State {
	return State{
		Session: Session{
			ID:                     s.SessionID,
			LocalID:                s.LocalID,
			Type:                   s.Type,
			Status:                 s.Status,
			TaskID:                 s.TaskID,
			PlannedDurationSeconds: s.Planned,
			RemainingSeconds:       s.Remaining,
			StartedAt:              timeValue(s.StartedAt),
			EndedAt:                timeValue(s.EndedAt),
			PausedAt:               timeValue(s.PausedAt),
			PausedTotal:            time.Duration(s.PausedMS) * time.Millisecond,
		},
		CycleCount:  s.CycleCount,
		Next:        s.Next,
		PendingSync: s.PendingSync,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
