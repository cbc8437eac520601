package timer

import (
	"context"
	"sync"

	"smarttodos/backend/internal/model"
)

// SessionStore is the durable record of pomodoro sessions. Implementations
// should wrap failures that retrying cannot fix with ErrRejected.
type SessionStore interface {
	CreateSession(ctx context.Context, input model.CreateSessionInput) (*model.PomodoroSession, error)
	UpdateSessionStatus(ctx context.Context, input model.UpdateSessionInput) (*model.PomodoroSession, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.PomodoroSession, error)
}

// SnapshotStore mirrors engine state to local durable storage so a restarted
// process can resume a running session. Load returns ErrNoSnapshot when
// nothing has been saved.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
}

// MemorySnapshotStore keeps the snapshot in process memory. It is the default
// when no durable store is configured.
type MemorySnapshotStore struct {
	mu       sync.Mutex
	snapshot *Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &snapshot
	return nil
}

func (s *MemorySnapshotStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return *s.snapshot, nil
}

func (s *MemorySnapshotStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	return nil
}
