package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/tempo/internal/api"
	"github.com/fentz26/tempo/internal/models"
	"github.com/google/uuid"
)

// fakeBackend is an in-memory stand-in for the timer backend, speaking the
// same envelope protocol.
type fakeBackend struct {
	mu      sync.Mutex
	active  *models.Timer
	history []models.Timer

	// pauseShift backdates pausedAt, to simulate a pause that began in the
	// past without sleeping in tests.
	pauseShift time.Duration
	failStart  bool

	// When pauseGate is non-nil the pause handler blocks on it after
	// signalling pauseEntered, so tests can interleave other writes.
	pauseGate    chan struct{}
	pauseEntered chan struct{}

	startCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (f *fakeBackend) seedHistory(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		start := time.Now().UTC().Add(-time.Duration(i+1) * time.Hour)
		end := start.Add(30 * time.Minute)
		f.history = append(f.history, models.Timer{
			ID:        uuid.New().String(),
			Task:      fmt.Sprintf("Task %d", i+1),
			Project:   "apollo",
			StartTime: start.Format(time.RFC3339),
			EndTime:   end.Format(time.RFC3339),
			Duration:  1800,
		})
	}
}

func (f *fakeBackend) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/timers/start", f.handleStart)
	mux.HandleFunc("/timers/stop/", f.handleStop)
	mux.HandleFunc("/timers/pause/", f.handlePause)
	mux.HandleFunc("/timers/resume/", f.handleResume)
	mux.HandleFunc("/timers/active", f.handleActive)
	mux.HandleFunc("/timers/note/", f.handleNote)
	mux.HandleFunc("/timers/edit/", f.handleEdit)
	mux.HandleFunc("/timers/delete/", f.handleDelete)
	mux.HandleFunc("/timers", f.handleHistory)
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	return parts[len(parts)-1]
}

func (f *fakeBackend) handleStart(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++

	if f.failStart {
		writeJSON(w, api.TimerResponse{Success: false, Error: "a timer is already running"})
		return
	}

	var form models.StartForm
	json.NewDecoder(r.Body).Decode(&form)

	timer := &models.Timer{
		ID:        uuid.New().String(),
		Task:      form.Task,
		Project:   form.Project,
		Client:    form.Client,
		StartTime: time.Now().UTC().Format(time.RFC3339),
	}
	f.active = timer
	writeJSON(w, api.TimerResponse{Success: true, Timer: timer})
}

func (f *fakeBackend) handleStop(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := pathID(r)
	if f.active == nil || f.active.ID != id {
		writeJSON(w, api.TimerResponse{Success: false, Error: "no such active timer"})
		return
	}

	timer := *f.active
	now := time.Now().UTC()
	timer.EndTime = now.Format(time.RFC3339)
	timer.IsPaused = false
	timer.PausedAt = ""
	if start, err := timer.StartedAt(); err == nil {
		timer.Duration = int64(now.Sub(start)/time.Second) - timer.TotalPausedTime
		if timer.Duration < 0 {
			timer.Duration = 0
		}
	}
	f.active = nil
	f.history = append([]models.Timer{timer}, f.history...)
	writeJSON(w, api.TimerResponse{Success: true, Timer: &timer})
}

func (f *fakeBackend) handlePause(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	entered := f.pauseEntered
	gate := f.pauseGate
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := pathID(r)
	if f.active == nil || f.active.ID != id {
		writeJSON(w, api.TimerResponse{Success: false, Error: "no such active timer"})
		return
	}
	if !f.active.IsPaused {
		f.active.IsPaused = true
		f.active.PausedAt = time.Now().UTC().Add(-f.pauseShift).Format(time.RFC3339)
	}
	timer := *f.active
	writeJSON(w, api.TimerResponse{Success: true, Timer: &timer})
}

func (f *fakeBackend) handleResume(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := pathID(r)
	if f.active == nil || f.active.ID != id {
		writeJSON(w, api.TimerResponse{Success: false, Error: "no such active timer"})
		return
	}
	if f.active.IsPaused {
		if pausedAt, err := f.active.PausedSince(); err == nil {
			f.active.TotalPausedTime += int64(math.Round(time.Since(pausedAt).Seconds()))
		}
		f.active.IsPaused = false
		f.active.PausedAt = ""
	}
	timer := *f.active
	writeJSON(w, api.TimerResponse{Success: true, Timer: &timer})
}

func (f *fakeBackend) handleActive(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == nil {
		writeJSON(w, api.ActiveTimerResponse{Success: true, HasActiveTimer: false})
		return
	}
	timer := *f.active
	writeJSON(w, api.ActiveTimerResponse{Success: true, HasActiveTimer: true, Timer: &timer})
}

func (f *fakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	totalPages := (len(f.history) + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	lo := (page - 1) * limit
	hi := lo + limit
	if lo > len(f.history) {
		lo = len(f.history)
	}
	if hi > len(f.history) {
		hi = len(f.history)
	}

	writeJSON(w, api.HistoryResponse{
		Success:     true,
		Timers:      append([]models.Timer(nil), f.history[lo:hi]...),
		TotalPages:  totalPages,
		CurrentPage: page,
	})
}

func (f *fakeBackend) findTimer(id string) *models.Timer {
	if f.active != nil && f.active.ID == id {
		return f.active
	}
	for i := range f.history {
		if f.history[i].ID == id {
			return &f.history[i]
		}
	}
	return nil
}

func (f *fakeBackend) handleNote(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	timer := f.findTimer(pathID(r))
	if timer == nil {
		writeJSON(w, api.TimerResponse{Success: false, Error: "timer not found"})
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Note string `json:"note"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		timer.Note = body.Note
	case http.MethodDelete:
		timer.Note = ""
	}
	copied := *timer
	writeJSON(w, api.TimerResponse{Success: true, Timer: &copied})
}

func (f *fakeBackend) handleEdit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	timer := f.findTimer(pathID(r))
	if timer == nil {
		writeJSON(w, api.TimerResponse{Success: false, Error: "timer not found"})
		return
	}

	var data models.EditData
	json.NewDecoder(r.Body).Decode(&data)
	if data.Task != "" {
		timer.Task = data.Task
	}
	if data.Project != "" {
		timer.Project = data.Project
	}
	if data.Client != "" {
		timer.Client = data.Client
	}
	if data.Note != "" {
		timer.Note = data.Note
	}
	copied := *timer
	writeJSON(w, api.TimerResponse{Success: true, Timer: &copied})
}

func (f *fakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := pathID(r)
	for i := range f.history {
		if f.history[i].ID == id {
			f.history = append(f.history[:i], f.history[i+1:]...)
			writeJSON(w, api.TimerResponse{Success: true})
			return
		}
	}
	writeJSON(w, api.TimerResponse{Success: false, Error: "timer not found"})
}

func newTestStore(t *testing.T) (*Store, *fakeBackend) {
	t.Helper()

	f := newFakeBackend()
	srv := httptest.NewServer(f.mux())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, api.StaticToken("test-token"))
	return New(client, nil), f
}

func TestStartTransitionsToRunning(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "Design review"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := s.Snapshot()
	if snap.Status() != StatusRunning {
		t.Fatalf("Expected Running, got %v", snap.Status())
	}
	if snap.ActiveTimer.Task != "Design review" {
		t.Errorf("Task = %q", snap.ActiveTimer.Task)
	}
	if snap.ActiveTimer.IsPaused {
		t.Error("New timer should not be paused")
	}
	if _, err := snap.ActiveTimer.StartedAt(); err != nil {
		t.Errorf("startTime not parseable: %v", err)
	}
	if snap.Loading {
		t.Error("Loading should be cleared")
	}
}

func TestStartEmptyTaskFailsClientSide(t *testing.T) {
	s, f := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "  "}); err == nil {
		t.Fatal("Expected validation error")
	}

	snap := s.Snapshot()
	if snap.Status() != StatusNone {
		t.Error("State should remain None")
	}
	if f.startCalls != 0 {
		t.Errorf("Expected no network call, got %d", f.startCalls)
	}
}

func TestStartFailureLeavesStateUntouched(t *testing.T) {
	s, f := newTestStore(t)
	f.failStart = true

	if err := s.Start(models.StartForm{Task: "work"}); err == nil {
		t.Fatal("Expected error from failed start")
	}

	snap := s.Snapshot()
	if snap.ActiveTimer != nil {
		t.Error("activeTimer should remain nil")
	}
	if snap.Loading {
		t.Error("Loading should be cleared on failure")
	}
	if snap.Err == "" {
		t.Error("Err should carry the failure message")
	}
}

func TestPauseResumeRoundtrip(t *testing.T) {
	s, f := newTestStore(t)
	f.pauseShift = 30 * time.Second

	if err := s.Start(models.StartForm{Task: "work"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := s.Snapshot().ActiveTimer.ID

	if err := s.Pause(id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status() != StatusPaused {
		t.Fatalf("Expected Paused, got %v", snap.Status())
	}
	if snap.ActiveTimer.PausedAt == "" {
		t.Error("pausedAt should be set while paused")
	}

	// A second pause is a server-side no-op; totalPausedTime must not
	// accumulate twice.
	if err := s.Pause(id); err != nil {
		t.Fatalf("Second pause failed: %v", err)
	}
	if got := s.Snapshot().ActiveTimer.TotalPausedTime; got != 0 {
		t.Errorf("totalPausedTime after double pause = %d, want 0", got)
	}

	if err := s.Resume(id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	snap = s.Snapshot()
	if snap.Status() != StatusRunning {
		t.Fatalf("Expected Running after resume, got %v", snap.Status())
	}
	if snap.ActiveTimer.PausedAt != "" {
		t.Error("pausedAt should be cleared after resume")
	}
	// The simulated pause began ~30s before resume.
	if got := snap.ActiveTimer.TotalPausedTime; got < 29 || got > 31 {
		t.Errorf("totalPausedTime = %d, want ~30", got)
	}
}

func TestSecondPauseWhileInFlightIsIgnored(t *testing.T) {
	s, f := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "work"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := s.Snapshot().ActiveTimer.ID

	f.pauseGate = make(chan struct{})
	f.pauseEntered = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Pause(id) }()
	<-f.pauseEntered

	if err := s.Pause(id); !errors.Is(err, ErrActionPending) {
		t.Errorf("Concurrent pause = %v, want ErrActionPending", err)
	}

	close(f.pauseGate)
	if err := <-errCh; err != nil {
		t.Fatalf("First pause failed: %v", err)
	}
	if s.Snapshot().Status() != StatusPaused {
		t.Error("Timer should be paused after the first call lands")
	}
}

func TestStopMovesTimerToHistory(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "work"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := s.Snapshot().ActiveTimer.ID

	if err := s.Stop(id); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	snap := s.Snapshot()
	if snap.Status() != StatusNone {
		t.Fatalf("Expected None after stop, got %v", snap.Status())
	}
	if len(snap.TimerHistory) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(snap.TimerHistory))
	}
	if snap.TimerHistory[0].ID != id {
		t.Errorf("History entry id = %s, want %s", snap.TimerHistory[0].ID, id)
	}
	if snap.TimerHistory[0].EndTime == "" {
		t.Error("Stopped timer should carry endTime")
	}
	if snap.TimerHistory[0].Duration < 0 {
		t.Error("Stopped timer should carry a duration")
	}
}

func TestRealtimeStoppedClearsActive(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "work"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopped := *s.Snapshot().ActiveTimer
	stopped.EndTime = time.Now().UTC().Format(time.RFC3339)
	stopped.Duration = 42

	// No local action pending; the push event alone clears the slot.
	s.ApplyStopped(stopped)

	snap := s.Snapshot()
	if snap.Status() != StatusNone {
		t.Fatalf("Expected None after realtime stop, got %v", snap.Status())
	}
	if len(snap.TimerHistory) != 1 || snap.TimerHistory[0].ID != stopped.ID {
		t.Fatalf("History should hold exactly the stopped timer")
	}

	// A duplicate event must not create a second entry.
	s.ApplyStopped(stopped)
	if got := len(s.Snapshot().TimerHistory); got != 1 {
		t.Errorf("History entries after duplicate event = %d, want 1", got)
	}
}

func TestStalePauseResponseDiscarded(t *testing.T) {
	s, f := newTestStore(t)

	if err := s.Start(models.StartForm{Task: "work"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	active := *s.Snapshot().ActiveTimer

	f.pauseGate = make(chan struct{})
	f.pauseEntered = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Pause(active.ID) }()
	<-f.pauseEntered

	// Another session stops the timer while the pause call is in flight.
	stopped := active
	stopped.EndTime = time.Now().UTC().Format(time.RFC3339)
	s.ApplyStopped(stopped)

	close(f.pauseGate)
	if err := <-errCh; err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}

	// The pause response must not resurrect the stopped timer.
	snap := s.Snapshot()
	if snap.Status() != StatusNone {
		t.Errorf("Expected None, got %v", snap.Status())
	}
}

func TestNoteUpdateTouchesOnlyNote(t *testing.T) {
	s, f := newTestStore(t)
	f.seedHistory(3)

	if err := s.FetchHistory(1, 10, models.HistoryFilters{}); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}

	before := s.Snapshot().TimerHistory[1]
	if err := s.UpdateNote(before.ID, "follow up tomorrow"); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}

	after := s.Snapshot().TimerHistory[1]
	if after.Note != "follow up tomorrow" {
		t.Errorf("Note = %q", after.Note)
	}
	after.Note = before.Note
	if after != before {
		t.Error("Fields other than note changed")
	}

	// Deleting the note restores the entry to its prior shape.
	if err := s.DeleteNote(before.ID); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}
	if got := s.Snapshot().TimerHistory[1]; got != before {
		t.Errorf("Entry after note delete = %+v, want %+v", got, before)
	}
}

func TestFetchHistoryReplacesPage(t *testing.T) {
	s, f := newTestStore(t)
	f.seedHistory(15)

	if err := s.FetchHistory(1, 10, models.HistoryFilters{}); err != nil {
		t.Fatalf("FetchHistory page 1 failed: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.TimerHistory) != 10 || snap.CurrentPage != 1 || snap.TotalPages != 2 {
		t.Fatalf("Page 1: len=%d current=%d total=%d", len(snap.TimerHistory), snap.CurrentPage, snap.TotalPages)
	}
	firstPageHead := snap.TimerHistory[0].ID

	if err := s.FetchHistory(2, 10, models.HistoryFilters{}); err != nil {
		t.Fatalf("FetchHistory page 2 failed: %v", err)
	}
	snap = s.Snapshot()
	if len(snap.TimerHistory) != 5 || snap.CurrentPage != 2 {
		t.Fatalf("Page 2: len=%d current=%d", len(snap.TimerHistory), snap.CurrentPage)
	}
	for i := range snap.TimerHistory {
		if snap.TimerHistory[i].ID == firstPageHead {
			t.Error("Page 1 entries should be discarded on page 2 fetch")
		}
	}
}

func TestEditAndDeleteHistoricalTimer(t *testing.T) {
	s, f := newTestStore(t)
	f.seedHistory(2)

	if err := s.FetchHistory(1, 10, models.HistoryFilters{}); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	target := s.Snapshot().TimerHistory[0]

	if err := s.EditTimer(target.ID, models.EditData{Task: "Renamed"}); err != nil {
		t.Fatalf("EditTimer failed: %v", err)
	}
	if got := s.Snapshot().TimerHistory[0].Task; got != "Renamed" {
		t.Errorf("Task after edit = %q", got)
	}

	if err := s.DeleteTimer(target.ID); err != nil {
		t.Fatalf("DeleteTimer failed: %v", err)
	}
	for _, entry := range s.Snapshot().TimerHistory {
		if entry.ID == target.ID {
			t.Error("Deleted timer still present in history")
		}
	}
}

func TestFetchActive(t *testing.T) {
	s, f := newTestStore(t)

	if err := s.FetchActive(); err != nil {
		t.Fatalf("FetchActive failed: %v", err)
	}
	if s.Snapshot().Status() != StatusNone {
		t.Error("Expected None with no backend timer")
	}

	f.mu.Lock()
	f.active = &models.Timer{
		ID:        uuid.New().String(),
		Task:      "Picked up elsewhere",
		StartTime: time.Now().UTC().Format(time.RFC3339),
	}
	f.mu.Unlock()

	if err := s.FetchActive(); err != nil {
		t.Fatalf("FetchActive failed: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status() != StatusRunning || snap.ActiveTimer.Task != "Picked up elsewhere" {
		t.Errorf("Active after fetch = %+v", snap.ActiveTimer)
	}
}

func TestSubscribeSignalsOnCommit(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Subscribe()

	s.ApplyStarted(models.Timer{
		ID:        "t1",
		Task:      "work",
		StartTime: time.Now().UTC().Format(time.RFC3339),
	})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("No signal after commit")
	}
}
