package service

import (
	"context"
	"fmt"

	apperrors "smarttodos/backend/internal/errors"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/timer"
)

// userSessionStore lets a timer engine write straight to the database on
// behalf of one user, without going through the HTTP API.
type userSessionStore struct {
	service *PomodoroService
	userID  string
}

func (s *PomodoroService) ForUser(userID string) timer.SessionStore {
	return &userSessionStore{service: s, userID: userID}
}

func (s *userSessionStore) CreateSession(ctx context.Context, input model.CreateSessionInput) (*model.PomodoroSession, error) {
	session, apiErr := s.service.CreateSession(ctx, s.userID, input)
	if apiErr != nil {
		return nil, storeError(apiErr)
	}
	return session, nil
}

func (s *userSessionStore) UpdateSessionStatus(ctx context.Context, input model.UpdateSessionInput) (*model.PomodoroSession, error) {
	session, apiErr := s.service.UpdateSessionStatus(ctx, s.userID, input)
	if apiErr != nil {
		return nil, storeError(apiErr)
	}
	return session, nil
}

func (s *userSessionStore) ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.PomodoroSession, error) {
	sessions, apiErr := s.service.ListSessions(ctx, s.userID, filter)
	if apiErr != nil {
		return nil, storeError(apiErr)
	}
	return sessions, nil
}

// storeError marks client errors as permanent so the engine stops retrying.
func storeError(apiErr *apperrors.APIError) error {
	if apiErr.Permanent() {
		return fmt.Errorf("%w: %s", timer.ErrRejected, apiErr)
	}
	return apiErr
}
