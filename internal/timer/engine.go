package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smarttodos/backend/internal/metrics"
	"smarttodos/backend/internal/model"
)

const (
	defaultPersistTimeout = 10 * time.Second
	snapshotTimeout       = 2 * time.Second
)

type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds retries of a single write. Zero keeps retrying
	// until the engine is closed.
	MaxElapsedTime time.Duration
}

type Config struct {
	// Store receives session writes in the background. A nil Store runs the
	// engine local-only.
	Store     SessionStore
	Snapshots SnapshotStore
	Clock     Clock
	Logger    zerolog.Logger
	Settings  model.PomodoroSettings

	Retry          RetryConfig
	PersistTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Snapshots == nil {
		c.Snapshots = NewMemorySnapshotStore()
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	c.Settings = normalizeSettings(c.Settings)
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = 500 * time.Millisecond
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = 30 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
}

func normalizeSettings(settings model.PomodoroSettings) model.PomodoroSettings {
	defaults := model.DefaultSettings(settings.UserID)
	if settings.FocusDurationSeconds <= 0 {
		settings.FocusDurationSeconds = defaults.FocusDurationSeconds
	}
	if settings.ShortBreakDurationSeconds <= 0 {
		settings.ShortBreakDurationSeconds = defaults.ShortBreakDurationSeconds
	}
	if settings.LongBreakDurationSeconds <= 0 {
		settings.LongBreakDurationSeconds = defaults.LongBreakDurationSeconds
	}
	if settings.LongBreakInterval <= 0 {
		settings.LongBreakInterval = defaults.LongBreakInterval
	}
	return settings
}

type subscriber struct {
	id int
	fn func(Event)
}

// Engine owns a single pomodoro session at a time. Every operation updates
// the in-memory state first, mirrors it to the snapshot store and queues the
// matching session store write; callers never wait on the network.
type Engine struct {
	clock     Clock
	snapshots SnapshotStore
	logger    zerolog.Logger
	writer    *syncer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	settings model.PomodoroSettings
	closed   bool

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub int
}

func New(cfg Config) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		clock:     cfg.Clock,
		snapshots: cfg.Snapshots,
		logger:    cfg.Logger.With().Str("component", "timer").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     State{Session: Session{Status: model.StatusIdle}},
		settings:  cfg.Settings,
	}

	if cfg.Store == nil {
		close(e.done)
		return e
	}

	e.writer = newSyncer(cfg.Store, cfg.Retry, cfg.PersistTimeout, e.logger, syncHooks{
		created:   e.onCreated,
		failed:    e.onPersistFailed,
		succeeded: e.onPersistSucceeded,
		drained:   e.onDrained,
	})
	go func() {
		defer close(e.done)
		e.writer.run(ctx)
	}()
	return e
}

// State returns a copy of the current state without advancing the countdown.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Settings() model.PomodoroSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings replaces the durations used by StartNext and the long break
// interval. A running session keeps its planned duration.
func (e *Engine) UpdateSettings(settings model.PomodoroSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = normalizeSettings(settings)
}

// Subscribe registers fn for every state change. Handlers run synchronously on
// the goroutine that caused the change and must not block.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			for i, sub := range e.subs {
				if sub.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Engine) Start(sessionType model.SessionType, durationSeconds int, taskID string) error {
	if !sessionType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSessionType, sessionType)
	}
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, durationSeconds)
	}

	return e.transition("start", canStart, func(now time.Time) []Event {
		e.state.Session = Session{
			LocalID:                uuid.NewString(),
			Type:                   sessionType,
			Status:                 model.StatusActive,
			TaskID:                 taskID,
			PlannedDurationSeconds: durationSeconds,
			RemainingSeconds:       durationSeconds,
			StartedAt:              now,
		}
		e.state.Next = ""
		e.recordLocked("start")
		e.commitLocked(now, e.createOpLocked())

		e.logger.Info().
			Str("type", string(sessionType)).
			Int("duration_seconds", durationSeconds).
			Str("task_id", taskID).
			Msg("Timer started")
		return []Event{e.eventLocked(EventStarted, now)}
	})
}

// StartNext starts the recommended follow-up session, or a focus session when
// nothing has been recommended yet.
func (e *Engine) StartNext(taskID string) error {
	e.mu.Lock()
	next := e.state.Next
	settings := e.settings
	e.mu.Unlock()

	if next == "" {
		next = model.SessionTypeFocus
	}
	return e.Start(next, settings.DurationFor(next), taskID)
}

// Tick recomputes the remaining time from the wall clock. It is safe to call
// at any rate; missed or late calls never introduce drift.
func (e *Engine) Tick() State {
	e.mu.Lock()
	if e.closed {
		defer e.mu.Unlock()
		return e.state
	}
	events := e.refreshLocked(e.clock.Now())
	state := e.state
	e.mu.Unlock()

	e.notify(events)
	return state
}

func (e *Engine) Pause() error {
	return e.transition("pause", isStatus(model.StatusActive), func(now time.Time) []Event {
		s := &e.state.Session
		s.Status = model.StatusPaused
		s.PausedAt = now
		e.recordLocked("pause")
		e.commitLocked(now, e.updateOpLocked(nil))

		e.logger.Info().Int("remaining_seconds", s.RemainingSeconds).Msg("Timer paused")
		return []Event{e.eventLocked(EventPaused, now)}
	})
}

func (e *Engine) Resume() error {
	return e.transition("resume", isStatus(model.StatusPaused), func(now time.Time) []Event {
		var events []Event
		s := &e.state.Session

		paused := now.Sub(s.PausedAt)
		if paused >= 0 {
			s.PausedTotal += paused
		} else {
			events = append(events, e.anomalyLocked(now, "backward", paused))
			// Re-anchor so the frozen remaining time carries over unchanged.
			consumed := time.Duration(s.PlannedDurationSeconds-s.RemainingSeconds) * time.Second
			s.PausedTotal = now.Sub(s.StartedAt) - consumed
			if s.PausedTotal < 0 {
				s.PausedTotal = 0
			}
		}
		s.PausedAt = time.Time{}
		s.Status = model.StatusActive
		e.recordLocked("resume")
		e.commitLocked(now, e.updateOpLocked(nil))

		e.logger.Info().Int("remaining_seconds", s.RemainingSeconds).Msg("Timer resumed")
		return append(events, e.eventLocked(EventResumed, now))
	})
}

// Skip abandons the current session without counting it toward the cycle.
func (e *Engine) Skip() error {
	return e.stop("skip")
}

func (e *Engine) Cancel() error {
	return e.stop("cancel")
}

func (e *Engine) stop(op string) error {
	return e.transition(op, isOpen, func(now time.Time) []Event {
		s := &e.state.Session
		s.Status = model.StatusCancelled
		s.EndedAt = now
		s.PausedAt = time.Time{}
		e.state.Next = ""
		e.recordLocked(op)
		e.commitLocked(now, e.updateOpLocked(nil))

		e.logger.Info().Str("op", op).Int("remaining_seconds", s.RemainingSeconds).Msg("Timer stopped")
		return []Event{e.eventLocked(EventCancelled, now)}
	})
}

// Restore rebuilds state after a restart. The local snapshot wins; without one
// the engine adopts the open session recorded in the session store, if any.
func (e *Engine) Restore(ctx context.Context) error {
	snapshot, err := e.snapshots.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return fmt.Errorf("load timer snapshot: %w", err)
	}

	var adopted *model.PomodoroSession
	if errors.Is(err, ErrNoSnapshot) {
		adopted = e.findOpenSession(ctx)
		if adopted == nil {
			return nil
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if status := e.state.Status(); status != model.StatusIdle {
		e.mu.Unlock()
		return e.invalid("restore", status)
	}

	now := e.clock.Now()
	if adopted != nil {
		e.state = adoptState(*adopted)
	} else {
		e.state = snapshot.state()
	}
	if e.writer != nil && e.state.Session.ID != "" {
		e.writer.remember(e.state.Session.LocalID, e.state.Session.ID)
	}
	if e.state.PendingSync {
		e.replayLocked()
	}

	events := e.refreshLocked(now)
	e.saveLocked(now)
	restored := e.eventLocked(EventRestored, now)
	e.mu.Unlock()

	e.logger.Info().
		Str("status", string(restored.State.Status())).
		Int("remaining_seconds", restored.State.Session.RemainingSeconds).
		Bool("from_store", adopted != nil).
		Msg("Timer restored")
	e.notify(append([]Event{restored}, events...))
	return nil
}

// Flush blocks until every write queued before the call has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if e.writer == nil {
		return nil
	}

	done := make(chan struct{})
	e.writer.enqueue(persistOp{kind: opBarrier, done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

// Close stops the background writer. Writes still queued are abandoned; the
// snapshot keeps PendingSync set so a later Restore replays them.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	<-e.done
	return nil
}

func (e *Engine) transition(op string, allowed func(model.SessionStatus) bool, apply func(now time.Time) []Event) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	now := e.clock.Now()
	events := e.refreshLocked(now)
	if from := e.state.Status(); !allowed(from) {
		e.mu.Unlock()
		e.notify(events)
		return e.invalid(op, from)
	}

	events = append(events, apply(now)...)
	e.mu.Unlock()

	e.notify(events)
	return nil
}

// refreshLocked derives the remaining time of an active session from the
// clock and finishes it once the countdown reaches zero.
func (e *Engine) refreshLocked(now time.Time) []Event {
	s := &e.state.Session
	if s.Status != model.StatusActive {
		return nil
	}

	var events []Event
	elapsed := now.Sub(s.StartedAt) - s.PausedTotal
	if elapsed < 0 {
		events = append(events, e.anomalyLocked(now, "backward", elapsed))
		elapsed = 0
	}

	// Ending between two observations is a normal completion whether the
	// tick was late or the process was not running.
	remaining := s.PlannedDurationSeconds - int(elapsed/time.Second)
	if remaining < 0 {
		e.logger.Debug().
			Dur("late_by", elapsed-time.Duration(s.PlannedDurationSeconds)*time.Second).
			Msg("Session ended before this tick")
		remaining = 0
	}
	if remaining == s.RemainingSeconds && remaining > 0 {
		return events
	}

	s.RemainingSeconds = remaining
	if remaining > 0 {
		return append(events, e.eventLocked(EventTick, now))
	}
	return append(events, e.finishLocked(now))
}

func (e *Engine) finishLocked(now time.Time) Event {
	s := &e.state.Session
	s.Status = model.StatusFinished
	s.RemainingSeconds = 0
	s.EndedAt = now

	if s.Type == model.SessionTypeFocus {
		e.state.CycleCount++
	}
	completed := e.state.CycleCount
	next, cycle := Recommend(s.Type, e.state.CycleCount, e.settings.LongBreakInterval)
	e.state.CycleCount = cycle
	e.state.Next = next

	e.recordLocked("finish")
	e.commitLocked(now, e.updateOpLocked(&completed))

	e.logger.Info().
		Str("type", string(s.Type)).
		Int("cycle_count", completed).
		Str("next", string(next)).
		Msg("Timer finished")

	event := e.eventLocked(EventFinished, now)
	event.Recommended = next
	return event
}

func (e *Engine) anomalyLocked(now time.Time, direction string, offset time.Duration) Event {
	metrics.TimerClockAnomaliesTotal.WithLabelValues(direction).Inc()
	e.logger.Warn().
		Str("direction", direction).
		Dur("offset", offset).
		Time("started_at", e.state.Session.StartedAt).
		Msg("Clock reading outside the session window, clamping")
	return e.eventLocked(EventClockAnomaly, now)
}

// commitLocked mirrors the state locally and queues the store writes. The
// snapshot is saved before the writes can complete so PendingSync is never
// lost on a crash.
func (e *Engine) commitLocked(now time.Time, ops ...persistOp) {
	if e.writer != nil && len(ops) > 0 {
		e.state.PendingSync = true
	}
	e.saveLocked(now)
	if e.writer == nil {
		return
	}
	for _, op := range ops {
		e.writer.enqueue(op)
	}
}

func (e *Engine) saveLocked(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := e.snapshots.Save(ctx, snapshotOf(e.state, now)); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to save timer snapshot")
	}
}

// replayLocked requeues the writes a previous process may not have finished.
func (e *Engine) replayLocked() {
	s := e.state.Session
	if e.writer == nil || s.LocalID == "" || e.state.Status() == model.StatusIdle {
		e.state.PendingSync = false
		return
	}

	var ops []persistOp
	if s.ID == "" {
		ops = append(ops, e.createOpLocked())
	}
	if s.ID != "" || s.Status != model.StatusActive {
		var cycle *int
		if s.Status == model.StatusFinished {
			completed := e.state.CycleCount
			cycle = &completed
		}
		ops = append(ops, e.updateOpLocked(cycle))
	}
	for _, op := range ops {
		e.writer.enqueue(op)
	}
	e.logger.Info().Int("writes", len(ops)).Msg("Replaying unsynced timer writes")
}

func (e *Engine) createOpLocked() persistOp {
	s := e.state.Session
	startedAt := s.StartedAt
	return persistOp{
		kind:    opCreate,
		localID: s.LocalID,
		create: model.CreateSessionInput{
			Type:                   s.Type,
			PlannedDurationSeconds: s.PlannedDurationSeconds,
			TaskID:                 stringPtr(s.TaskID),
			StartedAt:              &startedAt,
			CycleCount:             e.state.CycleCount,
		},
	}
}

func (e *Engine) updateOpLocked(cycleCount *int) persistOp {
	s := e.state.Session
	return persistOp{
		kind:    opUpdate,
		localID: s.LocalID,
		update: model.UpdateSessionInput{
			Status:           s.Status,
			RemainingSeconds: s.RemainingSeconds,
			EndedAt:          timePtr(s.EndedAt),
			CycleCount:       cycleCount,
		},
	}
}

func (e *Engine) findOpenSession(ctx context.Context) *model.PomodoroSession {
	if e.writer == nil {
		return nil
	}
	sessions, err := e.writer.store.ListSessions(ctx, model.SessionFilter{
		Status: []model.SessionStatus{model.StatusActive, model.StatusPaused},
		Limit:  1,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to look up open session in store")
		return nil
	}
	if len(sessions) == 0 {
		return nil
	}
	return &sessions[0]
}

// adoptState rebuilds local timing from a stored session. The store only keeps
// the remaining time as of its last update, so the paused total is whatever
// part of the wall time since start was not spent counting down.
func adoptState(record model.PomodoroSession) State {
	s := Session{
		ID:                     record.ID,
		LocalID:                uuid.NewString(),
		Type:                   record.Type,
		Status:                 record.Status,
		PlannedDurationSeconds: record.PlannedDurationSeconds,
		RemainingSeconds:       record.RemainingSeconds,
		StartedAt:              record.StartedAt,
	}
	if record.TaskID != nil {
		s.TaskID = *record.TaskID
	}

	consumed := time.Duration(record.ElapsedSeconds()) * time.Second
	s.PausedTotal = record.UpdatedAt.Sub(record.StartedAt) - consumed
	if s.PausedTotal < 0 {
		s.PausedTotal = 0
	}
	if record.Status == model.StatusPaused {
		s.PausedAt = record.UpdatedAt
	}
	return State{Session: s, CycleCount: record.CycleCount}
}

func (e *Engine) onCreated(localID, id string) {
	e.mu.Lock()
	if e.closed || e.state.Session.LocalID != localID {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.state.Session.ID = id
	e.saveLocked(now)
	event := e.eventLocked(EventSynced, now)
	e.mu.Unlock()

	e.logger.Debug().Str("session_id", id).Msg("Session acknowledged by store")
	e.notify([]Event{event})
}

func (e *Engine) onPersistFailed(perr *PersistenceError) {
	metrics.TimerPersistenceFailuresTotal.WithLabelValues(perr.Op).Inc()
	e.logger.Warn().
		Err(perr.Err).
		Str("op", perr.Op).
		Int("attempt", perr.Attempt).
		Bool("permanent", perr.Permanent).
		Msg("Session write failed")

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	wasDegraded := e.state.Degraded
	e.state.Degraded = true
	event := e.eventLocked(EventPersistenceDegraded, e.clock.Now())
	event.Err = perr
	e.mu.Unlock()

	if !wasDegraded || perr.Permanent {
		e.notify([]Event{event})
	}
}

func (e *Engine) onPersistSucceeded() {
	e.mu.Lock()
	if e.closed || !e.state.Degraded {
		e.mu.Unlock()
		return
	}
	e.state.Degraded = false
	event := e.eventLocked(EventPersistenceRecovered, e.clock.Now())
	e.mu.Unlock()

	e.logger.Info().Msg("Session store reachable again")
	e.notify([]Event{event})
}

func (e *Engine) onDrained() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.state.PendingSync || e.writer.pending() {
		return
	}
	// A write that gave up without a rejection stays pending for Restore.
	if e.writer.lagging(e.state.Session.LocalID) {
		return
	}
	e.state.PendingSync = false
	e.saveLocked(e.clock.Now())
}

func (e *Engine) invalid(op string, from model.SessionStatus) error {
	metrics.TimerInvalidTransitionsTotal.WithLabelValues(op, string(from)).Inc()
	e.logger.Debug().Str("op", op).Str("from", string(from)).Msg("Rejected timer operation")
	return &TransitionError{Op: op, From: from}
}

func (e *Engine) recordLocked(transition string) {
	metrics.TimerTransitionsTotal.WithLabelValues(transition, string(e.state.Session.Type)).Inc()
}

func (e *Engine) eventLocked(kind EventKind, now time.Time) Event {
	return Event{Kind: kind, At: now, State: e.state}
}

func (e *Engine) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	e.subsMu.Lock()
	handlers := make([]func(Event), 0, len(e.subs))
	for _, sub := range e.subs {
		handlers = append(handlers, sub.fn)
	}
	e.subsMu.Unlock()

	for _, event := range events {
		for _, handler := range handlers {
			handler(event)
		}
	}
}

func canStart(status model.SessionStatus) bool {
	return status == model.StatusIdle || status.Terminal()
}

func isOpen(status model.SessionStatus) bool {
	return status.Open()
}

func isStatus(want model.SessionStatus) func(model.SessionStatus) bool {
	return func(status model.SessionStatus) bool {
		return status == want
	}
}
