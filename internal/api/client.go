// Package api provides the REST binding for the tempo backend.
//
// Every operation returns an envelope with a Success flag rather than a Go
// error: transport failures, non-2xx statuses and malformed bodies are all
// normalized into Success=false with a human-readable message, so callers
// never have to distinguish failure modes at the call site.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/tempo/internal/models"
	"github.com/google/uuid"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// DefaultHistoryLimit is the page size used when none is given.
const DefaultHistoryLimit = 10

// TokenSource supplies the bearer token for each request. It is consulted
// per call, never cached, so a token refresh takes effect on the next call.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed-token TokenSource, mainly for tests.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() string { return string(s) }

// ParseError reports a response body that could not be decoded into the
// expected shape. It is surfaced through the envelope like any other
// failure, but kept as a distinct type so malformed backend responses never
// leak zero-valued fields into the store.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimerResponse is the backend's envelope for single-timer operations.
type TimerResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Timer   *models.Timer `json:"timer,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ActiveTimerResponse is the backend's envelope for the active-timer query.
type ActiveTimerResponse struct {
	Success        bool          `json:"success"`
	HasActiveTimer bool          `json:"hasActiveTimer"`
	Timer          *models.Timer `json:"timer"`
	Error          string        `json:"error,omitempty"`
}

// HistoryResponse is the backend's envelope for paginated history queries.
type HistoryResponse struct {
	Success     bool           `json:"success"`
	Timers      []models.Timer `json:"timers"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Error       string         `json:"error,omitempty"`
}

// Client wraps HTTP calls to the tempo backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Start begins a new timer for the given task.
func (c *Client) Start(form models.StartForm) *TimerResponse {
	if strings.TrimSpace(form.Task) == "" {
		return &TimerResponse{Success: false, Error: "task name is required"}
	}
	return c.timerCall("start timer", http.MethodPost, "/timers/start", form)
}

// Stop finalizes the timer with the given id.
func (c *Client) Stop(id string) *TimerResponse {
	return c.timerCall("stop timer", http.MethodPut, "/timers/stop/"+id, nil)
}

// Pause suspends the running timer with the given id.
func (c *Client) Pause(id string) *TimerResponse {
	return c.timerCall("pause timer", http.MethodPut, "/timers/pause/"+id, nil)
}

// Resume restarts the paused timer with the given id.
func (c *Client) Resume(id string) *TimerResponse {
	return c.timerCall("resume timer", http.MethodPut, "/timers/resume/"+id, nil)
}

// UpdateNote sets the note on the timer with the given id.
func (c *Client) UpdateNote(id, note string) *TimerResponse {
	body := map[string]string{"note": note}
	return c.timerCall("update note", http.MethodPut, "/timers/note/"+id, body)
}

// DeleteNote removes the note from the timer with the given id.
func (c *Client) DeleteNote(id string) *TimerResponse {
	return c.timerCall("delete note", http.MethodDelete, "/timers/note/"+id, nil)
}

// Edit updates a historical timer's fields.
func (c *Client) Edit(id string, data models.EditData) *TimerResponse {
	return c.timerCall("edit timer", http.MethodPut, "/timers/edit/"+id, data)
}

// Delete removes a historical timer.
func (c *Client) Delete(id string) *TimerResponse {
	return c.timerCall("delete timer", http.MethodDelete, "/timers/delete/"+id, nil)
}

// Active fetches the current user's active timer, if any.
func (c *Client) Active() *ActiveTimerResponse {
	const op = "fetch active timer"

	body, err := c.do(http.MethodGet, "/timers/active", nil)
	if err != nil {
		return &ActiveTimerResponse{Success: false, Error: failMessage(op, err)}
	}

	var resp ActiveTimerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &ActiveTimerResponse{Success: false, Error: failMessage(op, &ParseError{Op: op, Err: err})}
	}
	if resp.Success && resp.HasActiveTimer {
		if err := validateTimer(resp.Timer); err != nil {
			return &ActiveTimerResponse{Success: false, Error: failMessage(op, &ParseError{Op: op, Err: err})}
		}
	}
	return &resp
}

// History fetches a page of completed timers. Zero-valued filter fields are
// omitted from the query string.
func (c *Client) History(page, limit int, filters models.HistoryFilters) *HistoryResponse {
	const op = "fetch timer history"

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	for key, value := range map[string]string{
		"startDate": filters.StartDate,
		"endDate":   filters.EndDate,
		"project":   filters.Project,
		"client":    filters.Client,
		"task":      filters.Task,
	} {
		if value != "" {
			params.Set(key, value)
		}
	}

	body, err := c.do(http.MethodGet, "/timers?"+params.Encode(), nil)
	if err != nil {
		return &HistoryResponse{Success: false, CurrentPage: page, Error: failMessage(op, err)}
	}

	var resp HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &HistoryResponse{Success: false, CurrentPage: page, Error: failMessage(op, &ParseError{Op: op, Err: err})}
	}
	if resp.Success {
		for i := range resp.Timers {
			if err := validateTimer(&resp.Timers[i]); err != nil {
				return &HistoryResponse{Success: false, CurrentPage: page, Error: failMessage(op, &ParseError{Op: op, Err: err})}
			}
		}
	}
	return &resp
}

// timerCall performs a request that yields a TimerResponse envelope.
func (c *Client) timerCall(op, method, path string, data interface{}) *TimerResponse {
	body, err := c.do(method, path, data)
	if err != nil {
		return &TimerResponse{Success: false, Error: failMessage(op, err)}
	}

	var resp TimerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &TimerResponse{Success: false, Error: failMessage(op, &ParseError{Op: op, Err: err})}
	}
	if resp.Success && resp.Timer != nil {
		if err := validateTimer(resp.Timer); err != nil {
			return &TimerResponse{Success: false, Error: failMessage(op, &ParseError{Op: op, Err: err})}
		}
	}
	return &resp
}

// apiError carries the backend's own message for a non-2xx status.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("API error (%d)", e.status)
}

// do performs a request and returns the raw response body. The bearer token
// is read from the token source on every call.
func (c *Client) do(method, path string, data interface{}) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &apiError{status: resp.StatusCode, message: errorMessage(body)}
	}

	return body, nil
}

// errorMessage pulls the backend's message out of an error body, if any.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// validateTimer rejects timer payloads missing required fields or carrying
// unparseable timestamps, so they fail here instead of inside the store.
func validateTimer(t *models.Timer) error {
	if t == nil {
		return fmt.Errorf("missing timer payload")
	}
	if t.ID == "" {
		return fmt.Errorf("timer missing id")
	}
	if t.Task == "" {
		return fmt.Errorf("timer %s missing task", t.ID)
	}
	if _, err := t.StartedAt(); err != nil {
		return fmt.Errorf("timer %s has invalid startTime: %w", t.ID, err)
	}
	if t.IsPaused {
		if t.PausedAt == "" {
			return fmt.Errorf("timer %s is paused without pausedAt", t.ID)
		}
		if _, err := t.PausedSince(); err != nil {
			return fmt.Errorf("timer %s has invalid pausedAt: %w", t.ID, err)
		}
	}
	return nil
}

// failMessage renders an operation failure for the envelope.
func failMessage(op string, err error) string {
	return fmt.Sprintf("failed to %s: %v", op, err)
}
