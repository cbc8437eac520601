package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"smarttodos/backend/internal/handler"
	"smarttodos/backend/internal/metrics"
	"smarttodos/backend/internal/middleware"
	"smarttodos/backend/internal/service"
)

func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	pomodoroHandler *handler.PomodoroHandler,
	corsOrigins []string,
	logger zerolog.Logger,
) *gin.Engine {
	engine := gin.New()
	engine.Use(
		middleware.Logging(logger.With().Str("component", "http").Logger()),
		gin.Recovery(),
		middleware.CORS(corsOrigins),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", metrics.Handler())

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	pomodoro := api.Group("/pomodoro")
	pomodoro.Use(middleware.Auth(authService))
	pomodoro.POST("/sessions", pomodoroHandler.CreateSession)
	pomodoro.GET("/sessions", pomodoroHandler.ListSessions)
	pomodoro.PATCH("/sessions/:id", pomodoroHandler.UpdateSession)
	pomodoro.GET("/active", pomodoroHandler.Active)
	pomodoro.GET("/history", pomodoroHandler.History)
	pomodoro.GET("/tasks/:taskId", pomodoroHandler.TaskSessions)
	pomodoro.GET("/settings", pomodoroHandler.GetSettings)
	pomodoro.PUT("/settings", pomodoroHandler.UpdateSettings)

	return engine
}
