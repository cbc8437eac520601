package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smarttodos/backend/internal/db"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/repository"
)

func setupRepos(t *testing.T) (*repository.UserRepository, *repository.PomodoroRepository) {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "migrations")
	if _, err := db.RunMigrations(database, migrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return repository.NewUserRepository(database), repository.NewPomodoroRepository(database)
}

func createUser(t *testing.T, users *repository.UserRepository, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := users.Create(context.Background(), &model.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func newSession(id, userID string, status model.SessionStatus, startedAt time.Time) *model.PomodoroSession {
	return &model.PomodoroSession{
		ID:                     id,
		UserID:                 userID,
		Type:                   model.SessionTypeFocus,
		Status:                 status,
		PlannedDurationSeconds: 1500,
		RemainingSeconds:       1500,
		StartedAt:              startedAt,
		CreatedAt:              startedAt,
		UpdatedAt:              startedAt,
	}
}

// insertSession inserts in its own transaction, the way the service does.
func insertSession(t *testing.T, repo *repository.PomodoroRepository, session *model.PomodoroSession) error {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := repo.InsertSessionTx(ctx, tx, session); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return nil
}

func openSession(t *testing.T, repo *repository.PomodoroRepository, userID string) (*model.PomodoroSession, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	return repo.GetOpenSessionTx(ctx, tx, userID)
}

func TestInsertSessionRejectsSecondOpenSession(t *testing.T) {
	users, repo := setupRepos(t)
	createUser(t, users, "u1")
	createUser(t, users, "u2")
	now := time.Now().UTC()

	if err := insertSession(t, repo, newSession("s1", "u1", model.StatusActive, now)); err != nil {
		t.Fatalf("insert first session: %v", err)
	}

	err := insertSession(t, repo, newSession("s2", "u1", model.StatusActive, now.Add(time.Second)))
	if !errors.Is(err, repository.ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}

	// Another user is unaffected.
	if err := insertSession(t, repo, newSession("s3", "u2", model.StatusActive, now)); err != nil {
		t.Fatalf("insert other user's session: %v", err)
	}

	// Closed sessions do not count.
	if err := insertSession(t, repo, newSession("s4", "u1", model.StatusCancelled, now)); err != nil {
		t.Fatalf("insert cancelled session: %v", err)
	}
}

func TestUpdateSessionFreesOpenSlot(t *testing.T) {
	users, repo := setupRepos(t)
	createUser(t, users, "u1")
	ctx := context.Background()
	now := time.Now().UTC()

	if err := insertSession(t, repo, newSession("s1", "u1", model.StatusActive, now)); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	session, err := repo.GetSessionTx(ctx, tx, "u1", "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	ended := now.Add(25 * time.Minute)
	session.Status = model.StatusFinished
	session.RemainingSeconds = 0
	session.CycleCount = 1
	session.EndedAt = &ended
	session.UpdatedAt = ended
	if err := repo.UpdateSessionTx(ctx, tx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := openSession(t, repo, "u1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no open session, got %v", err)
	}
	if err := insertSession(t, repo, newSession("s2", "u1", model.StatusActive, ended)); err != nil {
		t.Fatalf("insert after finish: %v", err)
	}
}

func TestListSessionsFilters(t *testing.T) {
	users, repo := setupRepos(t)
	createUser(t, users, "u1")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	taskID := "task-1"

	fixtures := []*model.PomodoroSession{
		newSession("a", "u1", model.StatusFinished, base),
		newSession("b", "u1", model.StatusCancelled, base.Add(time.Hour)),
		newSession("c", "u1", model.StatusFinished, base.Add(2*time.Hour)),
	}
	fixtures[0].TaskID = &taskID
	fixtures[2].Type = model.SessionTypeShortBreak
	for _, session := range fixtures {
		if err := insertSession(t, repo, session); err != nil {
			t.Fatalf("insert %s: %v", session.ID, err)
		}
	}

	all, err := repo.ListSessions(ctx, "u1", model.SessionFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest-first order c,b,a, got %+v", ids(all))
	}

	byTask, err := repo.ListSessions(ctx, "u1", model.SessionFilter{TaskID: &taskID, Limit: 10})
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(byTask) != 1 || byTask[0].ID != "a" || byTask[0].TaskID == nil || *byTask[0].TaskID != taskID {
		t.Fatalf("unexpected task filter result: %v", ids(byTask))
	}

	finished, err := repo.ListSessions(ctx, "u1", model.SessionFilter{
		Status: []model.SessionStatus{model.StatusFinished},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("list finished: %v", err)
	}
	if len(finished) != 2 {
		t.Fatalf("expected 2 finished sessions, got %v", ids(finished))
	}

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	window, err := repo.ListSessions(ctx, "u1", model.SessionFilter{From: &from, To: &to, Limit: 10})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 1 || window[0].ID != "b" {
		t.Fatalf("unexpected window result: %v", ids(window))
	}

	paged, err := repo.ListSessions(ctx, "u1", model.SessionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "b" {
		t.Fatalf("unexpected page: %v", ids(paged))
	}
}

func TestSettingsUpsert(t *testing.T) {
	users, repo := setupRepos(t)
	createUser(t, users, "u1")
	ctx := context.Background()

	if _, err := repo.GetSettings(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	// Creating a user stores its defaults.
	settings, err := repo.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.LongBreakInterval != model.DefaultLongBreakInterval {
		t.Fatalf("expected default interval, got %d", settings.LongBreakInterval)
	}

	settings.FocusDurationSeconds = 50 * 60
	settings.LongBreakInterval = 3
	settings.UpdatedAt = time.Now().UTC()
	if err := repo.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	updated, err := repo.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get updated settings: %v", err)
	}
	if updated.FocusDurationSeconds != 3000 || updated.LongBreakInterval != 3 {
		t.Fatalf("settings not updated: %+v", updated)
	}

	if err := repo.CreateDefaultSettings(ctx, "u1"); err != nil {
		t.Fatalf("create defaults: %v", err)
	}
	kept, err := repo.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if kept.FocusDurationSeconds != 3000 {
		t.Fatalf("defaults must not overwrite saved settings: %+v", kept)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	users, _ := setupRepos(t)
	createUser(t, users, "u1")

	now := time.Now().UTC()
	err := users.Create(context.Background(), &model.User{
		ID:           "u2",
		Email:        "u1@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if !errors.Is(err, repository.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func ids(sessions []model.PomodoroSession) []string {
	out := make([]string, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.ID)
	}
	return out
}
