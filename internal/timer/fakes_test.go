package timer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/timer"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: base}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var errUnavailable = errors.New("store unavailable")

// fakeStore is an in-memory session store with failure injection.
type fakeStore struct {
	mu       sync.Mutex
	failNext int
	down     bool
	reject   bool
	sessions []*model.PomodoroSession
	creates  int
	updates  int
}

func (s *fakeStore) CreateSession(_ context.Context, input model.CreateSessionInput) (*model.PomodoroSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.down {
		return nil, errUnavailable
	}
	if s.failNext > 0 {
		s.failNext--
		return nil, errUnavailable
	}
	if s.reject {
		return nil, fmt.Errorf("%w: active session exists", timer.ErrRejected)
	}

	startedAt := base
	if input.StartedAt != nil {
		startedAt = *input.StartedAt
	}
	record := &model.PomodoroSession{
		ID:                     fmt.Sprintf("remote-%d", len(s.sessions)+1),
		UserID:                 "u1",
		Type:                   input.Type,
		Status:                 model.StatusActive,
		TaskID:                 input.TaskID,
		PlannedDurationSeconds: input.PlannedDurationSeconds,
		RemainingSeconds:       input.PlannedDurationSeconds,
		CycleCount:             input.CycleCount,
		StartedAt:              startedAt,
		CreatedAt:              startedAt,
		UpdatedAt:              startedAt,
	}
	s.sessions = append(s.sessions, record)
	copied := *record
	return &copied, nil
}

func (s *fakeStore) UpdateSessionStatus(_ context.Context, input model.UpdateSessionInput) (*model.PomodoroSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.down {
		return nil, errUnavailable
	}
	if s.failNext > 0 {
		s.failNext--
		return nil, errUnavailable
	}

	for _, record := range s.sessions {
		if record.ID != input.ID {
			continue
		}
		if record.Status.Terminal() {
			return nil, fmt.Errorf("%w: session already closed", timer.ErrRejected)
		}
		record.Status = input.Status
		record.RemainingSeconds = input.RemainingSeconds
		record.EndedAt = input.EndedAt
		if input.CycleCount != nil {
			record.CycleCount = *input.CycleCount
		}
		copied := *record
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: session not found", timer.ErrRejected)
}

func (s *fakeStore) ListSessions(_ context.Context, filter model.SessionFilter) ([]model.PomodoroSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return nil, errUnavailable
	}

	var out []model.PomodoroSession
	for i := len(s.sessions) - 1; i >= 0; i-- {
		record := s.sessions[i]
		if len(filter.Status) > 0 && !containsStatus(filter.Status, record.Status) {
			continue
		}
		out = append(out, *record)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *fakeStore) snapshot() []model.PomodoroSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PomodoroSession, 0, len(s.sessions))
	for _, record := range s.sessions {
		out = append(out, *record)
	}
	return out
}

func (s *fakeStore) calls() (creates, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.updates
}

func containsStatus(statuses []model.SessionStatus, status model.SessionStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

type recorder struct {
	mu     sync.Mutex
	events []timer.Event
}

func (r *recorder) record(event timer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(kind timer.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind timer.EventKind) (timer.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return timer.Event{}, false
}

func newEngine(t *testing.T, clock timer.Clock, store timer.SessionStore, snapshots timer.SnapshotStore) (*timer.Engine, *recorder) {
	t.Helper()
	return newEngineWithRetry(t, clock, store, snapshots, 0)
}

// newEngineWithRetry bounds how long a single write is retried; zero retries
// until the engine closes.
func newEngineWithRetry(t *testing.T, clock timer.Clock, store timer.SessionStore, snapshots timer.SnapshotStore, maxElapsed time.Duration) (*timer.Engine, *recorder) {
	t.Helper()

	cfg := timer.Config{
		Snapshots: snapshots,
		Clock:     clock,
		Logger:    zerolog.Nop(),
		Retry: timer.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  maxElapsed,
		},
		PersistTimeout: time.Second,
	}
	if store != nil {
		cfg.Store = store
	}

	engine := timer.New(cfg)
	t.Cleanup(func() {
		_ = engine.Close()
	})

	rec := &recorder{}
	engine.Subscribe(rec.record)
	return engine, rec
}

func flush(t *testing.T, engine *timer.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
