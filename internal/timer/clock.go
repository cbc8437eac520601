package timer

import "time"

// Clock provides the wall-clock time the engine derives countdowns from.
// Tests substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
