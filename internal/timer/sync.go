package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"smarttodos/backend/internal/model"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opBarrier
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	default:
		return "barrier"
	}
}

type persistOp struct {
	kind    opKind
	localID string
	create  model.CreateSessionInput
	update  model.UpdateSessionInput
	done    chan struct{}
}

type syncHooks struct {
	created   func(localID, id string)
	failed    func(err *PersistenceError)
	succeeded func()
	drained   func()
}

// syncer applies persistence operations to the session store one at a time,
// in the order they were queued, retrying each with exponential backoff.
type syncer struct {
	store   SessionStore
	retry   RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
	hooks   syncHooks

	mu    sync.Mutex
	queue []persistOp
	ids   map[string]string
	// unsent holds creates that ran out of retries; the next update for the
	// same session tries them again first.
	unsent map[string]model.CreateSessionInput
	// behind marks sessions whose latest state has not reached the store.
	behind map[string]bool
	wake   chan struct{}
}

func newSyncer(store SessionStore, retry RetryConfig, timeout time.Duration, logger zerolog.Logger, hooks syncHooks) *syncer {
	return &syncer{
		store:   store,
		retry:   retry,
		timeout: timeout,
		logger:  logger,
		hooks:   hooks,
		ids:     make(map[string]string),
		unsent:  make(map[string]model.CreateSessionInput),
		behind:  make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

func (s *syncer) enqueue(op persistOp) {
	s.mu.Lock()
	s.queue = append(s.queue, op)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// remember records a store ID learned outside the worker, e.g. on restore.
func (s *syncer) remember(localID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[localID] = id
}

func (s *syncer) lookup(localID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[localID]
	return id, ok
}

// lagging reports whether a write for the session gave up without the store
// rejecting it, so the store still holds an older state or none at all.
func (s *syncer) lagging(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.behind[localID]
}

func (s *syncer) settle(localID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !errors.Is(err, ErrRejected) {
		s.behind[localID] = true
		return
	}
	delete(s.behind, localID)
	if err != nil {
		delete(s.unsent, localID)
	}
}

func (s *syncer) takeUnsent(localID string) (model.CreateSessionInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	input, ok := s.unsent[localID]
	delete(s.unsent, localID)
	return input, ok
}

func (s *syncer) keepUnsent(localID string, input model.CreateSessionInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsent[localID] = input
}

func (s *syncer) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.queue {
		if op.kind != opBarrier {
			return true
		}
	}
	return false
}

func (s *syncer) run(ctx context.Context) {
	for {
		op, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, op)
	}
}

// next pops the head of the queue, skipping updates that a later update for
// the same session supersedes.
func (s *syncer) next() (persistOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		op := s.queue[0]
		s.queue = s.queue[1:]
		if op.kind == opUpdate && s.supersededLocked(op.localID) {
			continue
		}
		return op, true
	}
	return persistOp{}, false
}

func (s *syncer) supersededLocked(localID string) bool {
	for _, later := range s.queue {
		if later.kind == opUpdate && later.localID == localID {
			return true
		}
	}
	return false
}

func (s *syncer) process(ctx context.Context, op persistOp) {
	var (
		err    error
		called bool
	)
	switch op.kind {
	case opBarrier:
		close(op.done)
		return
	case opCreate:
		if _, ok := s.lookup(op.localID); ok {
			break
		}
		called = true
		err = s.create(ctx, op.localID, op.create)
	case opUpdate:
		id, ok := s.lookup(op.localID)
		if !ok {
			input, unsent := s.takeUnsent(op.localID)
			if !unsent {
				s.logger.Debug().Str("local_id", op.localID).Msg("Dropping update for session the store never accepted")
				break
			}
			called = true
			if err = s.create(ctx, op.localID, input); err != nil {
				break
			}
			id, _ = s.lookup(op.localID)
		}
		called = true
		input := op.update
		input.ID = id
		err = s.retryCall(ctx, op.kind, func(callCtx context.Context) error {
			_, callErr := s.store.UpdateSessionStatus(callCtx, input)
			return callErr
		})
	}

	if ctx.Err() != nil {
		return
	}
	if called {
		s.settle(op.localID, err)
	}
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("op", op.kind.String()).Msg("Giving up on session write")
	case called:
		s.hooks.succeeded()
	}
	if !s.pending() {
		s.hooks.drained()
	}
}

// create writes a new session and records its store ID. A create that runs
// out of retries without being rejected is kept for the next update.
func (s *syncer) create(ctx context.Context, localID string, input model.CreateSessionInput) error {
	var id string
	err := s.retryCall(ctx, opCreate, func(callCtx context.Context) error {
		record, callErr := s.store.CreateSession(callCtx, input)
		if callErr != nil {
			return callErr
		}
		id = record.ID
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrRejected) {
			s.keepUnsent(localID, input)
		}
		return err
	}
	s.remember(localID, id)
	s.hooks.created(localID, id)
	return nil
}

func (s *syncer) retryCall(ctx context.Context, kind opKind, call func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.MaxElapsedTime = s.retry.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		perr := &PersistenceError{
			Op:        kind.String(),
			Attempt:   attempt,
			Permanent: errors.Is(err, ErrRejected),
			Err:       err,
		}
		s.hooks.failed(perr)
		if perr.Permanent {
			return backoff.Permanent(perr)
		}
		return perr
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
