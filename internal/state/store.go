// Package state holds the client-side timer state and the actions that
// mutate it. The Store is the single source of truth for the active timer,
// the paginated history and the loading flags. Two independent writers feed
// it: user-initiated actions going through the REST client, and realtime
// push events applied through the Apply* commit methods. No ordering is
// guaranteed between the two; the latest commit wins.
package state

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/fentz26/tempo/internal/api"
	"github.com/fentz26/tempo/internal/cache"
	"github.com/fentz26/tempo/internal/models"
)

// ErrActionPending is returned when a run-state request for the same timer
// id is already in flight. The second request is ignored, not queued.
var ErrActionPending = errors.New("another request for this timer is still in flight")

// Notifier surfaces transient user-facing messages (toasts).
type Notifier interface {
	Success(msg string)
	Error(msg string)
	Warn(msg string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)  {}
func (NopNotifier) Warn(string)   {}

// State is a snapshot of the store's contents.
type State struct {
	ActiveTimer    *models.Timer
	TimerHistory   []models.Timer
	Loading        bool
	HistoryLoading bool
	Err            string
	TotalPages     int
	CurrentPage    int
}

// Status describes the run state of the active timer slot.
type Status int

const (
	StatusNone Status = iota
	StatusRunning
	StatusPaused
)

// Status derives the run state from the active timer slot.
func (s State) Status() Status {
	switch {
	case s.ActiveTimer == nil:
		return StatusNone
	case s.ActiveTimer.IsPaused:
		return StatusPaused
	default:
		return StatusRunning
	}
}

// Store coordinates local user actions and realtime push events over the
// shared timer state. All mutation goes through its methods, one commit at
// a time under the mutex.
type Store struct {
	api      *api.Client
	notifier Notifier
	cache    *cache.Cache

	mu      sync.Mutex
	state   State
	pending map[string]bool
	subs    []chan struct{}
}

// New creates a store backed by the given API client.
func New(client *api.Client, notifier Notifier) *Store {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Store{
		api:      client,
		notifier: notifier,
		state:    State{TotalPages: 1, CurrentPage: 1},
		pending:  make(map[string]bool),
	}
}

// SetCache attaches a local cache. Commits are persisted to it best-effort.
func (s *Store) SetCache(c *cache.Cache) {
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state. The history slice is cloned
// so callers can read it without racing later commits.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	if s.state.ActiveTimer != nil {
		t := *s.state.ActiveTimer
		snap.ActiveTimer = &t
	}
	snap.TimerHistory = append([]models.Timer(nil), s.state.TimerHistory...)
	return snap
}

// Subscribe returns a channel that receives a signal after every commit.
// Signals are collapsed: a slow reader sees at least one signal for any
// burst of commits.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) signal() {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// --- User actions (REST path) ---

// FetchActive loads the active timer from the backend into the store.
func (s *Store) FetchActive() error {
	s.beginLoading()

	resp := s.api.Active()

	s.mu.Lock()
	s.state.Loading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	if resp.HasActiveTimer {
		s.state.ActiveTimer = resp.Timer
	} else {
		s.state.ActiveTimer = nil
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	return nil
}

// FetchHistory replaces the history with the requested page. Pagination
// fields are taken verbatim from the response.
func (s *Store) FetchHistory(page, limit int, filters models.HistoryFilters) error {
	s.mu.Lock()
	s.state.HistoryLoading = true
	s.state.Err = ""
	s.mu.Unlock()
	s.signal()

	resp := s.api.History(page, limit, filters)

	s.mu.Lock()
	s.state.HistoryLoading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	s.state.TimerHistory = resp.Timers
	s.state.TotalPages = resp.TotalPages
	s.state.CurrentPage = resp.CurrentPage
	s.mu.Unlock()

	s.persist()
	s.signal()
	return nil
}

// Start begins a new timer. An empty task name fails client-side before any
// network call.
func (s *Store) Start(form models.StartForm) error {
	if strings.TrimSpace(form.Task) == "" {
		s.notifier.Error("Task name is required")
		return errors.New("task name is required")
	}

	s.beginLoading()

	resp := s.api.Start(form)

	s.mu.Lock()
	s.state.Loading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	if resp.Timer == nil {
		s.state.Err = "start response missing timer"
		s.mu.Unlock()
		s.signal()
		s.notifier.Error("start response missing timer")
		return errors.New("start response missing timer")
	}
	s.state.ActiveTimer = resp.Timer
	s.mu.Unlock()

	s.persist()
	s.signal()
	s.notifier.Success(`Started timer for "` + resp.Timer.Task + `"`)
	return nil
}

// Stop finalizes the timer with the given id, clears the active slot and
// prepends the finalized record to the history.
func (s *Store) Stop(id string) error {
	if err := s.beginRunStateCall(id); err != nil {
		return err
	}

	resp := s.api.Stop(id)

	s.mu.Lock()
	s.endRunStateCallLocked(id)
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	if s.state.ActiveTimer != nil && s.state.ActiveTimer.ID == id {
		s.state.ActiveTimer = nil
	}
	if resp.Timer != nil {
		s.upsertHistoryLocked(*resp.Timer)
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	if resp.Timer != nil {
		s.notifier.Success(`Stopped timer for "` + resp.Timer.Task + `"`)
	}
	return nil
}

// Pause suspends the running timer with the given id.
func (s *Store) Pause(id string) error {
	return s.runStateCall(id, s.api.Pause, "paused")
}

// Resume restarts the paused timer with the given id.
func (s *Store) Resume(id string) error {
	return s.runStateCall(id, s.api.Resume, "resumed")
}

// runStateCall is the shared pause/resume path: single-flight per timer id,
// and responses for a timer that is no longer active are discarded.
func (s *Store) runStateCall(id string, call func(string) *api.TimerResponse, verb string) error {
	if err := s.beginRunStateCall(id); err != nil {
		return err
	}

	resp := call(id)

	s.mu.Lock()
	s.endRunStateCallLocked(id)
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	if s.state.ActiveTimer == nil || s.state.ActiveTimer.ID != id {
		// The timer was stopped or replaced (likely by a realtime event)
		// while this call was in flight. The response is stale.
		s.mu.Unlock()
		s.signal()
		log.Printf("Discarding stale %s response for timer %s", verb, id)
		return nil
	}
	if resp.Timer != nil {
		s.state.ActiveTimer = resp.Timer
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	return nil
}

// UpdateNote sets the note on the matching active or history entry. Run
// state is unaffected.
func (s *Store) UpdateNote(id, note string) error {
	return s.noteCall(id, func() *api.TimerResponse { return s.api.UpdateNote(id, note) }, note)
}

// DeleteNote removes the note from the matching active or history entry.
func (s *Store) DeleteNote(id string) error {
	return s.noteCall(id, func() *api.TimerResponse { return s.api.DeleteNote(id) }, "")
}

func (s *Store) noteCall(id string, call func() *api.TimerResponse, note string) error {
	s.beginLoading()

	resp := call()

	s.mu.Lock()
	s.state.Loading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	if resp.Timer != nil {
		note = resp.Timer.Note
	}
	if s.state.ActiveTimer != nil && s.state.ActiveTimer.ID == id {
		s.state.ActiveTimer.Note = note
	}
	for i := range s.state.TimerHistory {
		if s.state.TimerHistory[i].ID == id {
			s.state.TimerHistory[i].Note = note
			break
		}
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	return nil
}

// EditTimer updates a historical timer's fields by id.
func (s *Store) EditTimer(id string, data models.EditData) error {
	s.beginLoading()

	resp := s.api.Edit(id, data)

	s.mu.Lock()
	s.state.Loading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	for i := range s.state.TimerHistory {
		if s.state.TimerHistory[i].ID != id {
			continue
		}
		if resp.Timer != nil {
			s.state.TimerHistory[i] = *resp.Timer
		} else {
			applyEditLocked(&s.state.TimerHistory[i], data)
		}
		break
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	s.notifier.Success("Timer updated")
	return nil
}

// DeleteTimer removes a historical timer by id. The active slot is left
// untouched even if the ids match; active timers are not expected to appear
// in history.
func (s *Store) DeleteTimer(id string) error {
	s.beginLoading()

	resp := s.api.Delete(id)

	s.mu.Lock()
	s.state.Loading = false
	if !resp.Success {
		s.state.Err = resp.Error
		s.mu.Unlock()
		s.signal()
		s.notifier.Error(resp.Error)
		return errors.New(resp.Error)
	}
	for i := range s.state.TimerHistory {
		if s.state.TimerHistory[i].ID == id {
			s.state.TimerHistory = append(s.state.TimerHistory[:i], s.state.TimerHistory[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.persist()
	s.signal()
	s.notifier.Success("Timer deleted")
	return nil
}

// --- Realtime commits (push path) ---
//
// These apply server-authoritative payloads directly, last write wins.

// ApplyStarted commits a timer started elsewhere into the active slot.
func (s *Store) ApplyStarted(t models.Timer) {
	s.mu.Lock()
	s.state.ActiveTimer = &t
	s.mu.Unlock()
	s.persist()
	s.signal()
}

// ApplyStopped clears the active slot when the ids match and records the
// finalized timer in history exactly once.
func (s *Store) ApplyStopped(t models.Timer) {
	s.mu.Lock()
	if s.state.ActiveTimer != nil && s.state.ActiveTimer.ID == t.ID {
		s.state.ActiveTimer = nil
	}
	s.upsertHistoryLocked(t)
	s.mu.Unlock()
	s.persist()
	s.signal()
}

// ApplyPaused overwrites the active slot with the paused payload.
func (s *Store) ApplyPaused(t models.Timer) {
	s.mu.Lock()
	s.state.ActiveTimer = &t
	s.mu.Unlock()
	s.persist()
	s.signal()
}

// ApplyResumed overwrites the active slot with the resumed payload.
func (s *Store) ApplyResumed(t models.Timer) {
	s.mu.Lock()
	s.state.ActiveTimer = &t
	s.mu.Unlock()
	s.persist()
	s.signal()
}

// --- Cache ---

// LoadCached seeds the store from the local cache, for instant display
// before the first fetch completes. Missing or empty caches are not errors.
func (s *Store) LoadCached() {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	if c == nil {
		return
	}

	active, history, err := c.LoadSnapshot()
	if err != nil {
		log.Printf("Error loading cached timers: %v", err)
		return
	}
	if active == nil && len(history) == 0 {
		return
	}

	s.mu.Lock()
	if s.state.ActiveTimer == nil {
		s.state.ActiveTimer = active
	}
	if len(s.state.TimerHistory) == 0 {
		s.state.TimerHistory = history
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Store) persist() {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	if c == nil {
		return
	}

	snap := s.Snapshot()
	if err := c.SaveSnapshot(snap.ActiveTimer, snap.TimerHistory); err != nil {
		log.Printf("Error persisting timer cache: %v", err)
	}
}

// --- Internals ---

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Err = ""
	s.mu.Unlock()
	s.signal()
}

// beginRunStateCall marks a stop/pause/resume request in flight for the
// given timer id. A second request for the same id is rejected.
func (s *Store) beginRunStateCall(id string) error {
	s.mu.Lock()
	if s.pending[id] {
		s.mu.Unlock()
		return ErrActionPending
	}
	s.pending[id] = true
	s.state.Loading = true
	s.state.Err = ""
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Store) endRunStateCallLocked(id string) {
	delete(s.pending, id)
	s.state.Loading = false
}

// upsertHistoryLocked prepends the timer to history, or overwrites the
// existing entry when the id is already present. Keeps a local stop and the
// matching realtime stopped event from producing duplicates.
func (s *Store) upsertHistoryLocked(t models.Timer) {
	for i := range s.state.TimerHistory {
		if s.state.TimerHistory[i].ID == t.ID {
			s.state.TimerHistory[i] = t
			return
		}
	}
	s.state.TimerHistory = append([]models.Timer{t}, s.state.TimerHistory...)
}

func applyEditLocked(t *models.Timer, data models.EditData) {
	if data.Task != "" {
		t.Task = data.Task
	}
	if data.Project != "" {
		t.Project = data.Project
	}
	if data.Client != "" {
		t.Client = data.Client
	}
	if data.Note != "" {
		t.Note = data.Note
	}
	if data.StartTime != "" {
		t.StartTime = data.StartTime
	}
	if data.EndTime != "" {
		t.EndTime = data.EndTime
	}
}
