package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smarttodos/backend/internal/client"
	"smarttodos/backend/internal/config"
	"smarttodos/backend/internal/localstate"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/timer"
)

const (
	flushTimeout   = 5 * time.Second
	defaultOwner   = "default"
	restoreTimeout = 10 * time.Second
)

var (
	timerDirect   bool
	timerEmail    string
	timerPassword string
	timerTaskID   string
	timerDuration time.Duration
)

var (
	cyan   = color.New(color.FgCyan, color.Bold)
	green  = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Run the pomodoro timer from the terminal",
	Long: `Control the pomodoro timer. State is kept locally so the timer survives
restarts, and every change is mirrored to the session API in the background.`,
}

var timerStartCmd = &cobra.Command{
	Use:       "start [focus|shortBreak|longBreak]",
	Short:     "Start a session; without a type the recommended next one starts",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(model.SessionTypeFocus), string(model.SessionTypeShortBreak), string(model.SessionTypeLongBreak)},
	RunE: func(cmd *cobra.Command, args []string) error {
		if timerDuration != 0 && timerDuration < time.Second {
			return fmt.Errorf("--duration must be at least 1s, got %s", timerDuration)
		}
		return withEngine(cmd.Context(), func(engine *timer.Engine) error {
			return startSession(engine, args, timerTaskID, timerDuration)
		})
	},
}

// startSession starts the requested type, or the recommended one when no
// type is given. A zero duration uses the configured length for the type.
func startSession(engine *timer.Engine, args []string, taskID string, duration time.Duration) error {
	if len(args) == 0 {
		return engine.StartNext(taskID)
	}
	sessionType := model.SessionType(args[0])
	seconds := int(duration / time.Second)
	if duration <= 0 {
		seconds = engine.Settings().DurationFor(sessionType)
	}
	return engine.Start(sessionType, seconds, taskID)
}

var timerPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *timer.Engine) error { return engine.Pause() })
	},
}

var timerResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *timer.Engine) error { return engine.Resume() })
	},
}

var timerSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "End the current session early without counting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *timer.Engine) error { return engine.Skip() })
	},
}

var timerCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *timer.Engine) error { return engine.Cancel() })
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(*timer.Engine) error { return nil })
	},
}

var timerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the timer ticking in the foreground until interrupted",
	RunE:  runTimer,
}

var timerWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow timer changes made by other processes (requires Redis)",
	RunE:  watchTimer,
}

func init() {
	timerCmd.PersistentFlags().BoolVar(&timerDirect, "direct", false, "Write sessions straight to the database instead of the API")
	timerCmd.PersistentFlags().StringVar(&timerEmail, "email", "", "Account email used to log in")
	timerCmd.PersistentFlags().StringVar(&timerPassword, "password", "", "Account password used to log in")
	timerStartCmd.Flags().StringVar(&timerTaskID, "task", "", "Task the session belongs to")
	timerStartCmd.Flags().DurationVar(&timerDuration, "duration", 0, "Session length; defaults to the configured length for the type")

	timerCmd.AddCommand(timerStartCmd, timerPauseCmd, timerResumeCmd, timerSkipCmd, timerCancelCmd, timerStatusCmd, timerRunCmd, timerWatchCmd)
	rootCmd.AddCommand(timerCmd)
}

// timerRuntime bundles an engine with the resources it was built from.
type timerRuntime struct {
	engine  *timer.Engine
	logger  zerolog.Logger
	cfg     *config.Config
	closers []func() error
}

func (r *timerRuntime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := r.engine.Flush(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Session writes still pending; they will be replayed next time")
	}
	if err := r.engine.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to close timer")
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error().Err(err).Msg("Failed to release timer resource")
		}
	}
}

// withEngine restores the timer, applies op and prints the resulting state.
func withEngine(ctx context.Context, op func(*timer.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openTimer(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := op(rt.engine); err != nil {
		if errors.Is(err, timer.ErrInvalidTransition) {
			red.Fprintln(os.Stderr, err)
			return nil
		}
		return err
	}
	printState(rt.engine.State())
	return nil
}

func openTimer(ctx context.Context) (*timerRuntime, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &timerRuntime{cfg: cfg, logger: logger}

	store, settings, owner, err := openSessionStore(ctx, rt)
	if err != nil {
		rt.releaseOnly()
		return nil, err
	}

	snapshots, err := openSnapshots(rt, owner)
	if err != nil {
		rt.releaseOnly()
		return nil, err
	}

	rt.engine = timer.New(timer.Config{
		Store:     store,
		Snapshots: snapshots,
		Logger:    logger,
		Settings:  settings,
		Retry: timer.RetryConfig{
			InitialInterval: cfg.Timer.RetryInitial,
			MaxInterval:     cfg.Timer.RetryMax,
			MaxElapsedTime:  cfg.Timer.RetryMaxElapsed,
		},
		PersistTimeout: cfg.Timer.PersistTimeout,
	})

	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	if err := rt.engine.Restore(restoreCtx); err != nil {
		rt.close()
		return nil, fmt.Errorf("restore timer: %w", err)
	}
	return rt, nil
}

func (r *timerRuntime) releaseOnly() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// openSessionStore picks the API client or, with --direct, the local
// database. Settings fall back to defaults when the store is unreachable.
func openSessionStore(ctx context.Context, rt *timerRuntime) (timer.SessionStore, model.PomodoroSettings, string, error) {
	owner := defaultOwner
	if timerEmail != "" {
		owner = timerEmail
	}
	settings := model.DefaultSettings(owner)

	if timerDirect {
		if timerEmail == "" || timerPassword == "" {
			return nil, settings, owner, errors.New("--direct requires --email and --password")
		}
		database, err := openDatabase(rt.cfg, rt.logger)
		if err != nil {
			return nil, settings, owner, err
		}
		rt.closers = append(rt.closers, database.Close)

		authService, pomodoroService, err := newServices(rt.cfg, database, rt.logger)
		if err != nil {
			return nil, settings, owner, err
		}
		result, apiErr := authService.Login(ctx, timerEmail, timerPassword)
		if apiErr != nil {
			return nil, settings, owner, fmt.Errorf("log in: %w", apiErr)
		}
		if stored, apiErr := pomodoroService.GetSettings(ctx, result.User.ID); apiErr == nil {
			settings = *stored
		}
		return pomodoroService.ForUser(result.User.ID), settings, result.User.ID, nil
	}

	api := client.New(rt.cfg.Client, rt.logger)
	if timerEmail != "" {
		if _, err := api.Login(ctx, timerEmail, timerPassword); err != nil {
			rt.logger.Warn().Err(err).Msg("Login failed; the timer will run offline")
		}
	}
	if stored, err := api.Settings(ctx); err == nil {
		settings = *stored
	} else {
		rt.logger.Debug().Err(err).Msg("Using default timer settings")
	}
	return api, settings, owner, nil
}

func openSnapshots(rt *timerRuntime, owner string) (timer.SnapshotStore, error) {
	if rt.cfg.Redis.Enabled {
		store, err := localstate.OpenRedis(rt.cfg.Redis, owner, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	}

	store := localstate.NewFileStore(filepath.Join(rt.cfg.Timer.StateDir, owner))
	rt.logger.Debug().Str("path", store.Path()).Msg("Using file snapshot store")
	return store, nil
}

func runTimer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openTimer(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	printState(rt.engine.State())
	unsubscribe := rt.engine.Subscribe(printEvent)
	defer unsubscribe()

	err = rt.engine.Run(ctx, rt.cfg.Timer.TickInterval)
	if errors.Is(err, context.Canceled) {
		fmt.Println()
		return nil
	}
	return err
}

func watchTimer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return errors.New("timer watch needs redis.enabled")
	}
	owner := defaultOwner
	if timerEmail != "" {
		owner = timerEmail
	}
	store, err := localstate.OpenRedis(cfg.Redis, owner, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cyan.Printf("Watching timer for %s\n", owner)
	err = store.Watch(ctx, nil, func(snapshot timer.Snapshot) {
		fmt.Printf("%s  %s %s  %s\n",
			snapshot.SavedAt.Local().Format("15:04:05"),
			statusColor(snapshot.Status).Sprint(snapshot.Status),
			snapshot.Type,
			formatSeconds(snapshot.Remaining),
		)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printState(state timer.State) {
	status := state.Status()
	if status == model.StatusIdle {
		fmt.Println("No session. Next up:", nextType(state))
		return
	}

	session := state.Session
	statusColor(status).Printf("%-9s ", status)
	fmt.Printf("%s  %s / %s  cycle %d",
		session.Type,
		formatSeconds(session.RemainingSeconds),
		formatSeconds(session.PlannedDurationSeconds),
		state.CycleCount,
	)
	if session.TaskID != "" {
		fmt.Printf("  task %s", session.TaskID)
	}
	fmt.Println()

	if status.Terminal() {
		fmt.Println("Next up:", nextType(state))
	}
	if state.Degraded {
		yellow.Println("Session API unreachable; changes are saved locally and will sync later")
	} else if state.PendingSync {
		yellow.Println("Changes waiting to sync")
	}
}

func printEvent(event timer.Event) {
	switch event.Kind {
	case timer.EventTick:
		s := event.State.Session
		fmt.Printf("\r%s %s   ", s.Type, formatSeconds(s.RemainingSeconds))
	case timer.EventFinished:
		fmt.Println()
		green.Printf("%s finished. Next up: %s\n", event.State.Session.Type, event.Recommended)
	case timer.EventPersistenceDegraded:
		fmt.Println()
		yellow.Println("Session API unreachable; retrying in the background")
	case timer.EventPersistenceRecovered:
		fmt.Println()
		green.Println("Session API reachable again")
	case timer.EventClockAnomaly:
		fmt.Println()
		yellow.Println("System clock moved behind the session start; the countdown is held until it catches up")
	case timer.EventPaused, timer.EventResumed, timer.EventCancelled, timer.EventStarted:
		fmt.Println()
		printState(event.State)
	}
}

func nextType(state timer.State) model.SessionType {
	if state.Next != "" {
		return state.Next
	}
	return model.SessionTypeFocus
}

func statusColor(status model.SessionStatus) *color.Color {
	switch status {
	case model.StatusActive:
		return green
	case model.StatusPaused:
		return yellow
	case model.StatusCancelled:
		return red
	default:
		return cyan
	}
}

func formatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
