package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/sharon/internal/app"
	"github.com/MrWong99/sharon/internal/live"
	"github.com/MrWong99/sharon/internal/notify"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

const maxConsoleLines = 12

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("219"))
	noteStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("220"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type (
	statusMsg     live.Status
	transcriptMsg s2s.TranscriptEvent
	noteMsg       notify.Notification
	actionMsg     struct{ err error }
)

// consoleModel is the bubbletea model of the interactive console. Space
// toggles the live session, q quits.
type consoleModel struct {
	ctx      context.Context
	ctrl     *live.Controller
	statuses <-chan live.Status
	feed     *consoleFeed

	status   live.Status
	lastErr  error
	lines    []string
	quitting bool
}

// runConsole serves the control API in the background and drives the
// console until the user quits or ctx ends.
func runConsole(ctx context.Context, a *app.App, feed *consoleFeed) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	statuses, unsubscribe := a.Controller().Subscribe()
	defer unsubscribe()

	m := consoleModel{
		ctx:      ctx,
		ctrl:     a.Controller(),
		statuses: statuses,
		feed:     feed,
		status:   a.Controller().Status(),
	}
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	cancel()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(m.waitStatus(), m.waitTranscript(), m.waitNote())
}

func (m consoleModel) waitStatus() tea.Cmd {
	return func() tea.Msg {
		st, ok := <-m.statuses
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

func (m consoleModel) waitTranscript() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.feed.transcripts:
			return transcriptMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m consoleModel) waitNote() tea.Cmd {
	return func() tea.Msg {
		select {
		case n := <-m.feed.notes.C():
			return noteMsg(n)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// toggle starts a session when none is running and stops it otherwise. The
// controller call runs off the UI goroutine.
func (m consoleModel) toggle() tea.Cmd {
	busy := m.status.State.Busy()
	return func() tea.Msg {
		if busy {
			return actionMsg{err: m.ctrl.Stop()}
		}
		return actionMsg{err: m.ctrl.Start(m.ctx)}
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ", "enter":
			return m, m.toggle()
		}
	case statusMsg:
		m.status = live.Status(msg)
		return m, m.waitStatus()
	case transcriptMsg:
		style := modelStyle
		who := "Sharon"
		if msg.Role == s2s.RoleUser {
			style, who = userStyle, "Vous"
		}
		m.push(style.Render(fmt.Sprintf("%s: %s", who, strings.TrimSpace(msg.Text))))
		return m, m.waitTranscript()
	case noteMsg:
		m.push(noteStyle.Render("» " + msg.Text))
		return m, m.waitNote()
	case actionMsg:
		m.lastErr = msg.err
		if msg.err != nil {
			slog.Warn("console action failed", "err", msg.err)
		}
	}
	return m, nil
}

func (m *consoleModel) push(line string) {
	m.lines = append(m.lines, line)
	if n := len(m.lines) - maxConsoleLines; n > 0 {
		m.lines = m.lines[n:]
	}
}

func (m consoleModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("SHARON · Live Ops"))
	b.WriteString("  ")
	b.WriteString(helpStyle.Render("comportement : " + m.ctrl.Behavior()))
	b.WriteString("\n\n")

	style := idleStyle
	switch m.status.State {
	case live.StateActive:
		style = activeStyle
	case live.StateErrored:
		style = errorStyle
	}
	b.WriteString(style.Render(m.status.Text))
	b.WriteString("\n")
	if err := m.lastErr; err != nil {
		b.WriteString(errorStyle.Render(err.Error()))
		b.WriteString("\n")
	}

	if len(m.lines) > 0 {
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(strings.Join(m.lines, "\n")))
		b.WriteString("\n")
	}

	action := "espace : démarrer"
	if m.status.State.Busy() {
		action = "espace : arrêter"
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(action + " · q : quitter"))
	b.WriteString("\n")
	return b.String()
}
