package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "smarttodos/backend/internal/errors"
	"smarttodos/backend/internal/middleware"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/service"
)

type PomodoroHandler struct {
	pomodoroService *service.PomodoroService
}

type updateSettingsRequest struct {
	FocusDurationSeconds      int `json:"focusDurationSeconds"`
	ShortBreakDurationSeconds int `json:"shortBreakDurationSeconds"`
	LongBreakDurationSeconds  int `json:"longBreakDurationSeconds"`
	LongBreakInterval         int `json:"longBreakInterval"`
}

func NewPomodoroHandler(pomodoroService *service.PomodoroService) *PomodoroHandler {
	return &PomodoroHandler{pomodoroService: pomodoroService}
}

func (h *PomodoroHandler) CreateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req model.CreateSessionInput
	if !bindJSON(c, &req) {
		return
	}

	session, apiErr := h.pomodoroService.CreateSession(c.Request.Context(), userID, req)
	writeJSON(c, http.StatusCreated, session, apiErr)
}

func (h *PomodoroHandler) UpdateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req model.UpdateSessionInput
	if !bindJSON(c, &req) {
		return
	}
	req.ID = c.Param("id")

	session, apiErr := h.pomodoroService.UpdateSessionStatus(c.Request.Context(), userID, req)
	writeJSON(c, http.StatusOK, session, apiErr)
}

func (h *PomodoroHandler) ListSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	filter, apiErr := parseFilter(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	sessions, apiErr := h.pomodoroService.ListSessions(c.Request.Context(), userID, filter)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (h *PomodoroHandler) Active(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	session, apiErr := h.pomodoroService.ActiveSession(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "session": session})
}

func (h *PomodoroHandler) History(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	filter, apiErr := parseFilter(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	history, apiErr := h.pomodoroService.History(c.Request.Context(), userID, filter)
	writeJSON(c, http.StatusOK, history, apiErr)
}

func (h *PomodoroHandler) TaskSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	result, apiErr := h.pomodoroService.TaskSessions(c.Request.Context(), userID, c.Param("taskId"))
	writeJSON(c, http.StatusOK, result, apiErr)
}

func (h *PomodoroHandler) GetSettings(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	settings, apiErr := h.pomodoroService.GetSettings(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *PomodoroHandler) UpdateSettings(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if !bindJSON(c, &req) {
		return
	}

	settings, apiErr := h.pomodoroService.UpdateSettings(c.Request.Context(), userID, service.UpdateSettingsInput{
		FocusDurationSeconds:      req.FocusDurationSeconds,
		ShortBreakDurationSeconds: req.ShortBreakDurationSeconds,
		LongBreakDurationSeconds:  req.LongBreakDurationSeconds,
		LongBreakInterval:         req.LongBreakInterval,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		writeError(c, apperrors.Unauthorized(""))
		return "", false
	}
	return userID, true
}

// parseFilter reads the session filter from the query string. Status accepts
// a comma separated list.
func parseFilter(c *gin.Context) (model.SessionFilter, *apperrors.APIError) {
	var filter model.SessionFilter

	if taskID := strings.TrimSpace(c.Query("taskId")); taskID != "" {
		filter.TaskID = &taskID
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Status = append(filter.Status, model.SessionStatus(part))
			}
		}
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		sessionType := model.SessionType(raw)
		filter.Type = &sessionType
	}

	var apiErr *apperrors.APIError
	if filter.From, apiErr = parseTime(c, "from"); apiErr != nil {
		return filter, apiErr
	}
	if filter.To, apiErr = parseTime(c, "to"); apiErr != nil {
		return filter, apiErr
	}
	if filter.Limit, apiErr = parseInt(c, "limit"); apiErr != nil {
		return filter, apiErr
	}
	if filter.Offset, apiErr = parseInt(c, "offset"); apiErr != nil {
		return filter, apiErr
	}
	return filter, nil
}

func parseTime(c *gin.Context, key string) (*time.Time, *apperrors.APIError) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.BadRequest("invalid_"+key, key+" must be an RFC3339 timestamp")
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func parseInt(c *gin.Context, key string) (int, *apperrors.APIError) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, apperrors.BadRequest("invalid_"+key, key+" must be a non-negative integer")
	}
	return parsed, nil
}
