// Package tui provides the interactive terminal UI for tempo.
package tui

import (
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/tempo/internal/api"
	"github.com/fentz26/tempo/internal/auth"
	"github.com/fentz26/tempo/internal/cache"
	"github.com/fentz26/tempo/internal/models"
	"github.com/fentz26/tempo/internal/realtime"
	"github.com/fentz26/tempo/internal/state"
)

// App is the main TUI application model.
type App struct {
	store   *state.Store
	channel *realtime.Channel
	authMgr *auth.Manager
	baseURL string

	snap    state.State
	updates <-chan struct{}
	notices chan notice

	mode        string // "dashboard", "history", "note"
	selectedIdx int
	width       int
	height      int
	message     string
	messageErr  bool

	taskInput    textinput.Model
	projectInput textinput.Model
	clientInput  textinput.Model
	noteInput    textinput.Model
	focusIdx     int
	noteTimerID  string
}

// notice is a transient user-facing message from the store or the channel.
type notice struct {
	text  string
	isErr bool
}

// uiNotifier bridges store/channel notifications into the TUI event loop.
type uiNotifier struct {
	ch chan<- notice
}

func (n uiNotifier) Success(msg string) { n.send(notice{text: msg}) }
func (n uiNotifier) Error(msg string)   { n.send(notice{text: msg, isErr: true}) }
func (n uiNotifier) Warn(msg string)    { n.send(notice{text: msg, isErr: true}) }

func (n uiNotifier) send(msg notice) {
	select {
	case n.ch <- msg:
	default:
	}
}

// New creates a new TUI application wired to the given backend.
func New(baseURL string, authMgr *auth.Manager) *App {
	notices := make(chan notice, 16)

	client := api.NewClient(baseURL, authMgr)
	store := state.New(client, uiNotifier{ch: notices})

	if c, err := cache.New(filepath.Join(authMgr.ConfigDir(), "cache.db")); err != nil {
		log.Printf("Timer cache unavailable: %v", err)
	} else {
		store.SetCache(c)
	}
	store.LoadCached()

	taskInput := textinput.New()
	taskInput.Placeholder = "What are you working on?"
	taskInput.CharLimit = 256
	taskInput.Width = 40
	taskInput.Focus()

	projectInput := textinput.New()
	projectInput.Placeholder = "Project (optional)"
	projectInput.CharLimit = 128
	projectInput.Width = 40

	clientInput := textinput.New()
	clientInput.Placeholder = "Client (optional)"
	clientInput.CharLimit = 128
	clientInput.Width = 40

	noteInput := textinput.New()
	noteInput.Placeholder = "Note"
	noteInput.CharLimit = 512
	noteInput.Width = 60

	return &App{
		store:        store,
		channel:      realtime.NewChannel(store, uiNotifier{ch: notices}),
		authMgr:      authMgr,
		baseURL:      baseURL,
		snap:         store.Snapshot(),
		updates:      store.Subscribe(),
		notices:      notices,
		mode:         "dashboard",
		taskInput:    taskInput,
		projectInput: projectInput,
		clientInput:  clientInput,
		noteInput:    noteInput,
	}
}

// Run starts the TUI application. The realtime channel is torn down when
// the program exits.
func (a *App) Run() error {
	defer a.channel.Disconnect()

	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.connectChannel(),
		a.fetchActive(),
		a.fetchHistory(1),
		a.waitForUpdate(),
		a.waitForNotice(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case storeUpdatedMsg:
		a.snap = a.store.Snapshot()
		if a.selectedIdx >= len(a.snap.TimerHistory) {
			a.selectedIdx = maxInt(0, len(a.snap.TimerHistory)-1)
		}
		return a, a.waitForUpdate()

	case noticeMsg:
		a.message = msg.text
		a.messageErr = msg.isErr
		return a, a.waitForNotice()

	case startedMsg:
		if msg.err == nil {
			a.taskInput.SetValue("")
			a.projectInput.SetValue("")
			a.clientInput.SetValue("")
			a.focusIdx = 0
			a.focusFormField()
		}

	case actionDoneMsg:
		// Outcome already surfaced through the store and the notifier.

	case tickMsg:
		// Redraw for the running clock.
		return a, a.tickCmd()
	}

	return a, a.updateInputs(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	switch a.mode {
	case "note":
		return a.handleNoteKey(msg)
	case "history":
		return a.handleHistoryKey(msg)
	default:
		return a.handleDashboardKey(msg)
	}
}

func (a *App) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active := a.snap.ActiveTimer

	if active == nil {
		// Start form has focus.
		switch msg.String() {
		case "tab", "down":
			a.focusIdx = (a.focusIdx + 1) % 3
			a.focusFormField()
			return a, nil
		case "shift+tab", "up":
			a.focusIdx = (a.focusIdx + 2) % 3
			a.focusFormField()
			return a, nil
		case "enter":
			if a.snap.Loading {
				return a, nil
			}
			form := models.StartForm{
				Task:    strings.TrimSpace(a.taskInput.Value()),
				Project: strings.TrimSpace(a.projectInput.Value()),
				Client:  strings.TrimSpace(a.clientInput.Value()),
			}
			return a, a.startTimer(form)
		case "esc":
			a.mode = "history"
			return a, nil
		}
		return a, a.updateInputs(msg)
	}

	// A timer is running or paused; single-key controls.
	switch msg.String() {
	case " ", "p":
		if a.snap.Loading {
			return a, nil
		}
		if active.IsPaused {
			return a, a.resumeTimer(active.ID)
		}
		return a, a.pauseTimer(active.ID)
	case "s", "x":
		if a.snap.Loading {
			return a, nil
		}
		return a, a.stopTimer(active.ID)
	case "n":
		a.noteTimerID = active.ID
		a.noteInput.SetValue(active.Note)
		a.noteInput.Focus()
		a.mode = "note"
	case "h", "esc":
		a.mode = "history"
	case "c":
		return a, a.connectChannel()
	case "r":
		return a, a.fetchActive()
	case "q":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}
	case "down", "j":
		if a.selectedIdx < len(a.snap.TimerHistory)-1 {
			a.selectedIdx++
		}
	case "left", "[":
		if a.snap.CurrentPage > 1 {
			return a, a.fetchHistory(a.snap.CurrentPage - 1)
		}
	case "right", "]":
		if a.snap.CurrentPage < a.snap.TotalPages {
			return a, a.fetchHistory(a.snap.CurrentPage + 1)
		}
	case "n":
		if t := a.selectedTimer(); t != nil {
			a.noteTimerID = t.ID
			a.noteInput.SetValue(t.Note)
			a.noteInput.Focus()
			a.mode = "note"
		}
	case "d":
		if t := a.selectedTimer(); t != nil {
			return a, a.deleteTimer(t.ID)
		}
	case "r":
		return a, a.fetchHistory(a.snap.CurrentPage)
	case "esc", "h":
		a.mode = "dashboard"
	case "q":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handleNoteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		id := a.noteTimerID
		note := strings.TrimSpace(a.noteInput.Value())
		a.noteInput.Blur()
		a.mode = "dashboard"
		if a.snap.ActiveTimer == nil || id != a.snap.ActiveTimer.ID {
			a.mode = "history"
		}
		if note == "" {
			return a, a.deleteNote(id)
		}
		return a, a.updateNote(id, note)
	case "esc":
		a.noteInput.Blur()
		if a.snap.ActiveTimer != nil && a.noteTimerID == a.snap.ActiveTimer.ID {
			a.mode = "dashboard"
		} else {
			a.mode = "history"
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.noteInput, cmd = a.noteInput.Update(msg)
	return a, cmd
}

func (a *App) selectedTimer() *models.Timer {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.snap.TimerHistory) {
		return nil
	}
	return &a.snap.TimerHistory[a.selectedIdx]
}

func (a *App) focusFormField() {
	inputs := []*textinput.Model{&a.taskInput, &a.projectInput, &a.clientInput}
	for i, in := range inputs {
		if i == a.focusIdx {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

func (a *App) updateInputs(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	a.taskInput, cmd = a.taskInput.Update(msg)
	cmds = append(cmds, cmd)
	a.projectInput, cmd = a.projectInput.Update(msg)
	cmds = append(cmds, cmd)
	a.clientInput, cmd = a.clientInput.Update(msg)
	cmds = append(cmds, cmd)

	return tea.Batch(cmds...)
}

// --- Messages and commands ---

type storeUpdatedMsg struct{}

type noticeMsg notice

type tickMsg time.Time

type startedMsg struct {
	err error
}

type actionDoneMsg struct {
	err error
}

func (a *App) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		<-a.updates
		return storeUpdatedMsg{}
	}
}

func (a *App) waitForNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-a.notices)
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) connectChannel() tea.Cmd {
	return func() tea.Msg {
		token := a.authMgr.Token()
		if token == "" {
			return noticeMsg(notice{text: "Not signed in; realtime updates disabled", isErr: true})
		}
		err := a.channel.Connect(a.baseURL, token)
		return actionDoneMsg{err}
	}
}

func (a *App) fetchActive() tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.FetchActive()}
	}
}

func (a *App) fetchHistory(page int) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.FetchHistory(page, api.DefaultHistoryLimit, models.HistoryFilters{})}
	}
}

func (a *App) startTimer(form models.StartForm) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{a.store.Start(form)}
	}
}

func (a *App) stopTimer(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.Stop(id)}
	}
}

func (a *App) pauseTimer(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.Pause(id)}
	}
}

func (a *App) resumeTimer(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.Resume(id)}
	}
}

func (a *App) updateNote(id, note string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.UpdateNote(id, note)}
	}
}

func (a *App) deleteNote(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.DeleteNote(id)}
	}
}

func (a *App) deleteTimer(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{a.store.DeleteTimer(id)}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
