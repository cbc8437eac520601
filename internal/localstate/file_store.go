// Package localstate holds the durable mirrors of the timer engine's state
// used to restore a running session after a restart.
package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"smarttodos/backend/internal/timer"
)

const snapshotFileName = "timer.json"

type FileStore struct {
	path string
}

// NewFileStore keeps the snapshot in dir/timer.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, snapshotFileName)}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(_ context.Context, snapshot timer.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Write then rename so a crash never leaves a truncated snapshot behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) (timer.Snapshot, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return timer.Snapshot{}, timer.ErrNoSnapshot
		}
		return timer.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return decodeSnapshot(payload)
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func decodeSnapshot(payload []byte) (timer.Snapshot, error) {
	snapshot := timer.Snapshot{}
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return timer.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Version == 0 {
		return timer.Snapshot{}, timer.ErrNoSnapshot
	}
	return snapshot, nil
}
