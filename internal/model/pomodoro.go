package model

import "time"

type SessionType string

const (
	SessionTypeFocus      SessionType = "focus"
	SessionTypeShortBreak SessionType = "shortBreak"
	SessionTypeLongBreak  SessionType = "longBreak"
)

func (t SessionType) Valid() bool {
	return t == SessionTypeFocus || t == SessionTypeShortBreak || t == SessionTypeLongBreak
}

func (t SessionType) IsBreak() bool {
	return t == SessionTypeShortBreak || t == SessionTypeLongBreak
}

type SessionStatus string

const (
	// StatusIdle is only ever held by the engine; it is never persisted.
	StatusIdle      SessionStatus = "idle"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusFinished  SessionStatus = "finished"
	StatusCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusFinished, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Open reports whether s counts toward the one-running-session-per-user rule.
func (s SessionStatus) Open() bool {
	return s == StatusActive || s == StatusPaused
}

const (
	DefaultFocusDurationSeconds      = 25 * 60
	DefaultShortBreakDurationSeconds = 5 * 60
	DefaultLongBreakDurationSeconds  = 15 * 60
	DefaultLongBreakInterval         = 4
)

type PomodoroSession struct {
	ID                     string        `json:"id"`
	UserID                 string        `json:"userId"`
	Type                   SessionType   `json:"type"`
	Status                 SessionStatus `json:"status"`
	TaskID                 *string       `json:"taskId,omitempty"`
	PlannedDurationSeconds int           `json:"plannedDurationSeconds"`
	RemainingSeconds       int           `json:"remainingSeconds"`
	CycleCount             int           `json:"cycleCount"`
	StartedAt              time.Time     `json:"startedAt"`
	EndedAt                *time.Time    `json:"endedAt,omitempty"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}

// ElapsedSeconds is the amount of the planned duration that has been used up.
func (s PomodoroSession) ElapsedSeconds() int {
	elapsed := s.PlannedDurationSeconds - s.RemainingSeconds
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

type PomodoroSettings struct {
	UserID                    string    `json:"userId"`
	FocusDurationSeconds      int       `json:"focusDurationSeconds"`
	ShortBreakDurationSeconds int       `json:"shortBreakDurationSeconds"`
	LongBreakDurationSeconds  int       `json:"longBreakDurationSeconds"`
	LongBreakInterval         int       `json:"longBreakInterval"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

func DefaultSettings(userID string) PomodoroSettings {
	return PomodoroSettings{
		UserID:                    userID,
		FocusDurationSeconds:      DefaultFocusDurationSeconds,
		ShortBreakDurationSeconds: DefaultShortBreakDurationSeconds,
		LongBreakDurationSeconds:  DefaultLongBreakDurationSeconds,
		LongBreakInterval:         DefaultLongBreakInterval,
	}
}

func (s PomodoroSettings) DurationFor(t SessionType) int {
	switch t {
	case SessionTypeShortBreak:
		return s.ShortBreakDurationSeconds
	case SessionTypeLongBreak:
		return s.LongBreakDurationSeconds
	default:
		return s.FocusDurationSeconds
	}
}

type CreateSessionInput struct {
	Type                   SessionType `json:"type"`
	PlannedDurationSeconds int         `json:"plannedDurationSeconds"`
	TaskID                 *string     `json:"taskId,omitempty"`
	StartedAt              *time.Time  `json:"startedAt,omitempty"`
	CycleCount             int         `json:"cycleCount"`
}

type UpdateSessionInput struct {
	ID               string        `json:"-"`
	Status           SessionStatus `json:"status"`
	RemainingSeconds int           `json:"remainingSeconds"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	CycleCount       *int          `json:"cycleCount,omitempty"`
}

type SessionFilter struct {
	TaskID *string
	Status []SessionStatus
	Type   *SessionType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type SessionStats struct {
	TotalSessions     int `json:"totalSessions"`
	CompletedSessions int `json:"completedSessions"`
	CancelledSessions int `json:"cancelledSessions"`
	FocusSessions     int `json:"focusSessions"`
	BreakSessions     int `json:"breakSessions"`
	TotalFocusMinutes int `json:"totalFocusMinutes"`
}
