// Package client talks to the session API over HTTP. It implements
// timer.SessionStore so a timer engine can run on a different machine than
// the server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"smarttodos/backend/internal/config"
	apperrors "smarttodos/backend/internal/errors"
	"smarttodos/backend/internal/model"
	"smarttodos/backend/internal/timer"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

type errorEnvelope struct {
	Error apperrors.APIError `json:"error"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type sessionsResponse struct {
	Sessions []model.PomodoroSession `json:"sessions"`
}

type activeResponse struct {
	Active  bool                   `json:"active"`
	Session *model.PomodoroSession `json:"session"`
}

type settingsResponse struct {
	Settings model.PomodoroSettings `json:"settings"`
}

func New(cfg config.ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&errorEnvelope{})
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:   httpClient,
		logger: logger.With().Str("component", "client").Logger(),
	}
}

// Login exchanges credentials for a token and uses it for later requests.
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

// Register creates an account and uses its token for later requests.
func (c *Client) Register(ctx context.Context, email, password string) (*model.User, error) {
	return c.authenticate(ctx, "/api/auth/register", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*model.User, error) {
	var out authResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post(path)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	c.http.SetAuthToken(out.Token)
	return &out.User, nil
}

func (c *Client) CreateSession(ctx context.Context, input model.CreateSessionInput) (*model.PomodoroSession, error) {
	var out model.PomodoroSession
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(input).
		SetResult(&out).
		Post("/api/pomodoro/sessions")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSessionStatus(ctx context.Context, input model.UpdateSessionInput) (*model.PomodoroSession, error) {
	var out model.PomodoroSession
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", input.ID).
		SetBody(input).
		SetResult(&out).
		Patch("/api/pomodoro/sessions/{id}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.PomodoroSession, error) {
	var out sessionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(filterParams(filter)).
		SetResult(&out).
		Get("/api/pomodoro/sessions")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ActiveSession returns the open session on the server, or nil.
func (c *Client) ActiveSession(ctx context.Context) (*model.PomodoroSession, error) {
	var out activeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/pomodoro/active")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	if !out.Active {
		return nil, nil
	}
	return out.Session, nil
}

func (c *Client) Settings(ctx context.Context) (*model.PomodoroSettings, error) {
	var out settingsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/pomodoro/settings")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out.Settings, nil
}

// checkResponse turns transport failures and error envelopes into errors.
// Client errors wrap timer.ErrRejected so the engine does not retry them.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &apperrors.APIError{Status: resp.StatusCode()}
	if envelope, ok := resp.Error().(*errorEnvelope); ok && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	} else {
		apiErr.Code = "http_" + strconv.Itoa(resp.StatusCode())
		apiErr.Message = http.StatusText(resp.StatusCode())
	}

	if apiErr.Permanent() {
		return fmt.Errorf("%w: %s", timer.ErrRejected, apiErr)
	}
	return apiErr
}

func filterParams(filter model.SessionFilter) map[string]string {
	params := make(map[string]string)
	if filter.TaskID != nil {
		params["taskId"] = *filter.TaskID
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		params["status"] = strings.Join(statuses, ",")
	}
	if filter.Type != nil {
		params["type"] = string(*filter.Type)
	}
	if filter.From != nil {
		params["from"] = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		params["to"] = filter.To.UTC().Format(time.RFC3339)
	}
	if filter.Limit > 0 {
		params["limit"] = strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		params["offset"] = strconv.Itoa(filter.Offset)
	}
	return params
}

var _ timer.SessionStore = (*Client)(nil)
