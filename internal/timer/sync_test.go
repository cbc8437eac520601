package timer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/timer"
)

func TestSessionLifecycleReachesStore(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{}
	engine, rec := newEngine(t, clock, store, nil)

	if err := engine.Start(model.SessionTypeFocus, 1500, "task-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	flush(t, engine)

	state := engine.State()
	if state.Session.ID != "remote-1" {
		t.Fatalf("expected store id on session, got %q", state.Session.ID)
	}
	if state.PendingSync {
		t.Fatalf("expected pending sync cleared after flush")
	}
	if rec.count(timer.EventSynced) != 1 {
		t.Fatalf("expected synced event")
	}

	clock.Advance(10 * time.Second)
	_ = engine.Pause()
	clock.Advance(time.Minute)
	_ = engine.Resume()
	clock.Advance(1490 * time.Second)
	engine.Tick()
	flush(t, engine)

	sessions := store.snapshot()
	if len(sessions) != 1 {
		t.Fatalf("expected one stored session, got %d", len(sessions))
	}
	stored := sessions[0]
	if stored.Status != model.StatusFinished || stored.RemainingSeconds != 0 {
		t.Fatalf("expected finished session in store, got %s/%d", stored.Status, stored.RemainingSeconds)
	}
	if stored.CycleCount != 1 {
		t.Fatalf("expected cycle count 1, got %d", stored.CycleCount)
	}
	if stored.TaskID == nil || *stored.TaskID != "task-1" {
		t.Fatalf("expected task id in store")
	}
	if stored.EndedAt == nil || !stored.EndedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected endedAt %v", stored.EndedAt)
	}
	if !stored.StartedAt.Equal(base) {
		t.Fatalf("expected client start time to be stored, got %v", stored.StartedAt)
	}
}

func TestCommandsDoNotWaitForStore(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{failNext: 3}
	engine, rec := newEngine(t, clock, store, nil)

	if err := engine.Start(model.SessionTypeFocus, 1500, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if status := engine.State().Status(); status != model.StatusActive {
		t.Fatalf("expected local state to be active immediately, got %s", status)
	}

	clock.Advance(time.Minute)
	if remaining := engine.Tick().Session.RemainingSeconds; remaining != 1440 {
		t.Fatalf("local countdown affected by store outage: %d", remaining)
	}

	flush(t, engine)
	state := engine.State()
	if state.Degraded {
		t.Fatalf("expected recovery once the store came back")
	}
	if state.Session.ID == "" {
		t.Fatalf("expected session to be created after retries")
	}
	if rec.count(timer.EventPersistenceDegraded) != 1 {
		t.Fatalf("expected a single degraded event, got %d", rec.count(timer.EventPersistenceDegraded))
	}
	if rec.count(timer.EventPersistenceRecovered) != 1 {
		t.Fatalf("expected a recovered event, got %d", rec.count(timer.EventPersistenceRecovered))
	}
	if creates, _ := store.calls(); creates != 4 {
		t.Fatalf("expected 4 create attempts, got %d", creates)
	}
}

func TestRejectedWriteIsNotRetried(t *testing.T) {
	store := &fakeStore{reject: true}
	engine, rec := newEngine(t, newFakeClock(), store, nil)

	if err := engine.Start(model.SessionTypeFocus, 1500, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = engine.Pause()
	flush(t, engine)

	creates, updates := store.calls()
	if creates != 1 {
		t.Fatalf("expected a single create attempt, got %d", creates)
	}
	if updates != 0 {
		t.Fatalf("updates for a rejected session must be dropped, got %d", updates)
	}

	state := engine.State()
	if !state.Degraded || state.PendingSync {
		t.Fatalf("expected degraded with nothing pending, got degraded=%v pending=%v", state.Degraded, state.PendingSync)
	}
	event, ok := rec.last(timer.EventPersistenceDegraded)
	if !ok {
		t.Fatalf("expected degraded event")
	}
	var perr *timer.PersistenceError
	if !errors.As(event.Err, &perr) || !perr.Permanent || !errors.Is(event.Err, timer.ErrRejected) {
		t.Fatalf("expected permanent persistence error, got %v", event.Err)
	}

	// The local timer is unaffected.
	if status := state.Status(); status != model.StatusPaused {
		t.Fatalf("expected paused locally, got %s", status)
	}
}

func TestRestoreReplaysPendingWrites(t *testing.T) {
	clock := newFakeClock()
	snapshots := timer.NewMemorySnapshotStore()
	startedAt := base.Add(-5 * time.Minute)
	pausedAt := base.Add(-2 * time.Minute)

	err := snapshots.Save(context.Background(), timer.Snapshot{
		Version:     1,
		SavedAt:     pausedAt,
		LocalID:     "local-1",
		Type:        model.SessionTypeFocus,
		Status:      model.StatusPaused,
		Planned:     1500,
		Remaining:   1320,
		StartedAt:   &startedAt,
		PausedAt:    &pausedAt,
		PendingSync: true,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	store := &fakeStore{}
	engine, _ := newEngine(t, clock, store, snapshots)
	if err := engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	flush(t, engine)

	sessions := store.snapshot()
	if len(sessions) != 1 {
		t.Fatalf("expected replayed session in store, got %d", len(sessions))
	}
	if sessions[0].Status != model.StatusPaused || sessions[0].RemainingSeconds != 1320 {
		t.Fatalf("unexpected replayed session %s/%d", sessions[0].Status, sessions[0].RemainingSeconds)
	}
	if !sessions[0].StartedAt.Equal(startedAt) {
		t.Fatalf("expected original start time, got %v", sessions[0].StartedAt)
	}

	state := engine.State()
	if state.PendingSync || state.Session.ID != sessions[0].ID {
		t.Fatalf("expected synced state, got pending=%v id=%q", state.PendingSync, state.Session.ID)
	}
	stored, err := snapshots.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if stored.PendingSync || stored.SessionID == "" {
		t.Fatalf("expected snapshot to record the sync, got %+v", stored)
	}
}

func TestRestoreAdoptsOpenStoreSession(t *testing.T) {
	clock := newFakeClock()
	startedAt := base.Add(-20 * time.Minute)
	resumedAt := base.Add(-10 * time.Minute)

	store := &fakeStore{sessions: []*model.PomodoroSession{{
		ID:                     "remote-7",
		UserID:                 "u1",
		Type:                   model.SessionTypeFocus,
		Status:                 model.StatusActive,
		PlannedDurationSeconds: 1500,
		// Five minutes were spent paused before the resume at resumedAt.
		RemainingSeconds: 1200,
		CycleCount:       2,
		StartedAt:        startedAt,
		CreatedAt:        startedAt,
		UpdatedAt:        resumedAt,
	}}}

	engine, rec := newEngine(t, clock, store, nil)
	if err := engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	state := engine.State()
	if state.Session.ID != "remote-7" || state.Status() != model.StatusActive {
		t.Fatalf("expected adopted active session, got %q/%s", state.Session.ID, state.Status())
	}
	if state.Session.RemainingSeconds != 600 {
		t.Fatalf("expected 600 remaining, got %d", state.Session.RemainingSeconds)
	}
	if state.CycleCount != 2 {
		t.Fatalf("expected cycle count from store, got %d", state.CycleCount)
	}
	if rec.count(timer.EventRestored) != 1 {
		t.Fatalf("expected restored event")
	}

	// Writes for the adopted session go to the existing record.
	_ = engine.Pause()
	flush(t, engine)
	if creates, updates := store.calls(); creates != 0 || updates != 1 {
		t.Fatalf("expected a single update, got %d creates and %d updates", creates, updates)
	}
	if stored := store.snapshot()[0]; stored.Status != model.StatusPaused {
		t.Fatalf("expected paused in store, got %s", stored.Status)
	}
}

func TestRestoreToleratesUnreachableStore(t *testing.T) {
	store := &fakeStore{failNext: 1}
	engine, _ := newEngine(t, newFakeClock(), store, nil)

	if err := engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if status := engine.State().Status(); status != model.StatusIdle {
		t.Fatalf("expected idle, got %s", status)
	}
	if err := engine.Start(model.SessionTypeFocus, 60, ""); err != nil {
		t.Fatalf("start after failed restore: %v", err)
	}
}

func TestSecondSessionAfterFinish(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{}
	engine, _ := newEngine(t, clock, store, nil)

	_ = engine.Start(model.SessionTypeFocus, 60, "")
	clock.Advance(time.Minute)
	engine.Tick()
	if err := engine.StartNext(""); err != nil {
		t.Fatalf("start next: %v", err)
	}
	flush(t, engine)

	sessions := store.snapshot()
	if len(sessions) != 2 {
		t.Fatalf("expected two stored sessions, got %d", len(sessions))
	}
	if sessions[0].Status != model.StatusFinished {
		t.Fatalf("expected first session finished, got %s", sessions[0].Status)
	}
	if sessions[1].Type != model.SessionTypeShortBreak || sessions[1].Status != model.StatusActive {
		t.Fatalf("expected active short break, got %s/%s", sessions[1].Type, sessions[1].Status)
	}
	if sessions[1].CycleCount != 1 {
		t.Fatalf("expected cycle count carried into the break, got %d", sessions[1].CycleCount)
	}
}

func TestExhaustedCreateIsRetriedByNextUpdate(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{down: true}
	snapshots := timer.NewMemorySnapshotStore()
	engine, rec := newEngineWithRetry(t, clock, store, snapshots, 20*time.Millisecond)

	if err := engine.Start(model.SessionTypeFocus, 1500, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	flush(t, engine)

	state := engine.State()
	if !state.Degraded || !state.PendingSync || state.Session.ID != "" {
		t.Fatalf("expected unsynced degraded state, got degraded=%v pending=%v id=%q", state.Degraded, state.PendingSync, state.Session.ID)
	}
	stored, err := snapshots.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !stored.PendingSync {
		t.Fatalf("snapshot must keep pending sync while the store is behind")
	}
	event, ok := rec.last(timer.EventPersistenceDegraded)
	if !ok {
		t.Fatalf("expected degraded event")
	}
	var perr *timer.PersistenceError
	if !errors.As(event.Err, &perr) || perr.Permanent {
		t.Fatalf("expected retryable persistence error, got %v", event.Err)
	}

	store.setDown(false)
	clock.Advance(10 * time.Second)
	if err := engine.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	flush(t, engine)

	sessions := store.snapshot()
	if len(sessions) != 1 {
		t.Fatalf("expected the session to reach the store, got %d", len(sessions))
	}
	if sessions[0].Status != model.StatusPaused || sessions[0].RemainingSeconds != 1490 {
		t.Fatalf("unexpected stored session %s/%d", sessions[0].Status, sessions[0].RemainingSeconds)
	}
	state = engine.State()
	if state.Degraded || state.PendingSync || state.Session.ID != sessions[0].ID {
		t.Fatalf("expected caught-up state, got degraded=%v pending=%v id=%q", state.Degraded, state.PendingSync, state.Session.ID)
	}
}

func TestExhaustedWritesReplayAfterRestart(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{down: true}
	snapshots := timer.NewMemorySnapshotStore()

	first, _ := newEngineWithRetry(t, clock, store, snapshots, 20*time.Millisecond)
	if err := first.Start(model.SessionTypeFocus, 1500, "task-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(time.Minute)
	if err := first.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	flush(t, first)
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Fatalf("store should still be empty")
	}

	store.setDown(false)
	second, _ := newEngine(t, clock, store, snapshots)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	flush(t, second)

	sessions := store.snapshot()
	if len(sessions) != 1 || sessions[0].Status != model.StatusPaused || sessions[0].RemainingSeconds != 1440 {
		t.Fatalf("expected replayed paused session, got %+v", sessions)
	}
	if state := second.State(); state.PendingSync {
		t.Fatalf("expected pending sync cleared after replay")
	}
}
