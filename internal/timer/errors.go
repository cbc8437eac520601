package timer

import (
	"errors"
	"fmt"

	"smarttodos/backend/internal/model"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed from
	// the current state. The engine state is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")

	ErrInvalidSessionType = errors.New("invalid session type")
	ErrInvalidDuration    = errors.New("duration must be a positive number of seconds")
	ErrClosed             = errors.New("timer engine closed")
	ErrNoSnapshot         = errors.New("no timer snapshot")

	// ErrRejected marks session store failures that retrying cannot fix,
	// such as a conflicting open session on another device.
	ErrRejected = errors.New("session store rejected request")
)

type TransitionError struct {
	Op   string
	From model.SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a timer that is %s: %s", e.Op, e.From, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PersistenceError describes a failed attempt to mirror a session to the
// session store. The local countdown is unaffected.
type PersistenceError struct {
	Op        string
	Attempt   int
	Permanent bool
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
