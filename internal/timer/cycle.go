package timer

import "smarttodos/backend/internal/model"

// Recommend returns the session type to suggest after a session of type
// finished has completed, together with the cycle count to carry forward.
// cycleCount must already include finished when it is a focus session.
func Recommend(finished model.SessionType, cycleCount, longBreakInterval int) (model.SessionType, int) {
	if longBreakInterval <= 0 {
		longBreakInterval = model.DefaultLongBreakInterval
	}
	if finished.IsBreak() {
		return model.SessionTypeFocus, cycleCount
	}
	if cycleCount >= longBreakInterval {
		return model.SessionTypeLongBreak, 0
	}
	return model.SessionTypeShortBreak, cycleCount
}
