package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/tempo/internal/models"
	"github.com/fentz26/tempo/internal/realtime"
	"github.com/fentz26/tempo/internal/state"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(fgColor).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 4)

	pausedClockStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(warningColor).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(warningColor).
				Padding(1, 4)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	entryStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// View implements tea.Model
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder

	// Header with realtime channel status
	link := offlineStyle.Render("○ LIVE")
	if a.channel.State() == realtime.StateConnected {
		link = onlineStyle.Render("● LIVE")
	}

	userStatus := labelStyle.Render("○ not signed in")
	if user := a.authMgr.GetUser(); user != nil {
		userStatus = onlineStyle.Render("● " + user.Username)
	}

	header := titleStyle.Render("⏱ TEMPO") + "  " + link + "  " + userStatus
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", width) + "\n")

	switch a.mode {
	case "history":
		b.WriteString(a.renderHistory())
	case "note":
		b.WriteString(a.renderNoteEditor())
	default:
		b.WriteString(a.renderDashboard())
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if a.messageErr {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message) + "\n")
	} else {
		b.WriteString("\n\n")
	}

	// Status bar
	var status string
	switch a.mode {
	case "history":
		status = fmt.Sprintf(" History: page %d/%d | ↑↓:nav | ←→:page | n:note | d:delete | r:refresh | Esc:back",
			a.snap.CurrentPage, maxInt(a.snap.TotalPages, 1))
	case "note":
		status = " Enter:save | Esc:cancel (empty note deletes)"
	default:
		if a.snap.ActiveTimer != nil {
			status = " Space:pause/resume | s:stop | n:note | h:history | c:reconnect | Ctrl+C:quit"
		} else {
			status = " Tab:next field | Enter:start | Esc:history | Ctrl+C:quit"
		}
	}
	b.WriteString(statusBarStyle.Width(width).Render(status))

	return b.String()
}

func (a *App) renderDashboard() string {
	var b strings.Builder

	active := a.snap.ActiveTimer
	if active == nil {
		b.WriteString("\n  " + labelStyle.Render("No timer running. Start one:") + "\n\n")
		b.WriteString("  " + inputBoxStyle.Render(a.taskInput.View()) + "\n")
		b.WriteString("  " + inputBoxStyle.Render(a.projectInput.View()) + "\n")
		b.WriteString("  " + inputBoxStyle.Render(a.clientInput.View()) + "\n")
		if a.snap.Loading {
			b.WriteString("\n  Starting...\n")
		}
		return b.String()
	}

	elapsed := state.FormatElapsed(state.Elapsed(active, time.Now()))
	clock := clockStyle.Render(elapsed)
	if active.IsPaused {
		clock = pausedClockStyle.Render(elapsed + "  ⏸")
	}

	b.WriteString("\n" + indent(clock, 2) + "\n\n")
	b.WriteString("  " + labelStyle.Render("Task:    ") + active.Task + "\n")
	if active.Project != "" {
		b.WriteString("  " + labelStyle.Render("Project: ") + active.Project + "\n")
	}
	if active.Client != "" {
		b.WriteString("  " + labelStyle.Render("Client:  ") + active.Client + "\n")
	}
	if active.Note != "" {
		b.WriteString("  " + labelStyle.Render("Note:    ") + active.Note + "\n")
	}
	if a.snap.Loading {
		b.WriteString("\n  Working...\n")
	}

	return b.String()
}

func (a *App) renderHistory() string {
	var b strings.Builder

	b.WriteString("\n  " + labelStyle.Render(fmt.Sprintf("Completed timers — page %d of %d",
		a.snap.CurrentPage, maxInt(a.snap.TotalPages, 1))) + "\n\n")

	if a.snap.HistoryLoading {
		b.WriteString("  Loading history...\n")
		return b.String()
	}
	if len(a.snap.TimerHistory) == 0 {
		b.WriteString("  No completed timers yet.\n")
		return b.String()
	}

	for i := range a.snap.TimerHistory {
		t := &a.snap.TimerHistory[i]
		line := fmt.Sprintf("%s  %s  %s%s",
			historyDate(t), state.FormatElapsed(t.Duration), t.Task, noteMark(t))
		if i == a.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + "\n")
		} else {
			b.WriteString(entryStyle.Render("  "+line) + "\n")
		}
	}

	if t := a.selectedTimer(); t != nil && t.Note != "" {
		b.WriteString("\n  " + labelStyle.Render("Note: ") + t.Note + "\n")
	}

	return b.String()
}

func (a *App) renderNoteEditor() string {
	var b strings.Builder
	b.WriteString("\n  " + labelStyle.Render("Edit note:") + "\n\n")
	b.WriteString("  " + inputBoxStyle.Render(a.noteInput.View()) + "\n")
	return b.String()
}

func historyDate(t *models.Timer) string {
	started, err := t.StartedAt()
	if err != nil {
		return "----------"
	}
	return started.Local().Format("2006-01-02 15:04")
}

func noteMark(t *models.Timer) string {
	if t.Note != "" {
		return "  📝"
	}
	return ""
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}
