package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smarttodos/backend/internal/config"
	"smarttodos/backend/internal/db"
	"smarttodos/backend/internal/handler"
	"smarttodos/backend/internal/repository"
	"smarttodos/backend/internal/router"
	"smarttodos/backend/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting SmartTodos backend")

	database, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}()

	authService, pomodoroService, err := newServices(cfg, database, logger)
	if err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := router.New(
		authService,
		handler.NewAuthHandler(authService),
		handler.NewPomodoroHandler(pomodoroService),
		cfg.CORS.Origins,
		logger,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Session API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	case <-sigChan:
	}

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping session API")
	}
	logger.Info().Msg("SmartTodos backend stopped")
	return nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	database, err := db.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.RunMigrations(database, cfg.Database.MigrationsDir, logger); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")
	return database, nil
}

func newServices(cfg *config.Config, database *sql.DB, logger zerolog.Logger) (*service.AuthService, *service.PomodoroService, error) {
	userRepo := repository.NewUserRepository(database)
	pomodoroRepo := repository.NewPomodoroRepository(database)

	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	pomodoroService, err := service.NewPomodoroService(pomodoroRepo, cfg.Server.SettingsCacheSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create pomodoro service: %w", err)
	}
	return authService, pomodoroService, nil
}
