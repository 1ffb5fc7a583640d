// Package models defines the core domain types for tempo.
package models

import "time"

// Timer represents one tracked work session. Timestamps travel as RFC 3339
// strings because that is what the backend emits; use the accessor methods
// to get parsed values.
type Timer struct {
	ID              string `json:"id"`
	Task            string `json:"task"`
	Project         string `json:"project,omitempty"`
	Client          string `json:"client,omitempty"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime,omitempty"`
	IsPaused        bool   `json:"isPaused"`
	PausedAt        string `json:"pausedAt,omitempty"`
	TotalPausedTime int64  `json:"totalPausedTime"`
	Note            string `json:"note,omitempty"`
	Duration        int64  `json:"duration"`
}

// Active reports whether the timer is still running or paused (not stopped).
func (t *Timer) Active() bool {
	return t.EndTime == ""
}

// StartedAt returns the parsed start timestamp.
func (t *Timer) StartedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, t.StartTime)
}

// PausedSince returns the parsed pause timestamp. The zero time is returned
// when the timer is not paused.
func (t *Timer) PausedSince() (time.Time, error) {
	if t.PausedAt == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, t.PausedAt)
}

// StartForm carries the fields needed to start a new timer.
type StartForm struct {
	Task    string `json:"task"`
	Project string `json:"project,omitempty"`
	Client  string `json:"client,omitempty"`
}

// EditData carries the editable fields of a historical timer. Empty fields
// are omitted from the request and left unchanged by the backend.
type EditData struct {
	Task      string `json:"task,omitempty"`
	Project   string `json:"project,omitempty"`
	Client    string `json:"client,omitempty"`
	Note      string `json:"note,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// HistoryFilters narrows a history query. Zero-valued fields are omitted
// from the request entirely.
type HistoryFilters struct {
	StartDate string
	EndDate   string
	Project   string
	Client    string
	Task      string
}
