// Package attachtui implements acpx attach's read-only transcript viewer
// (SPEC_FULL.md §4.10): it observes whatever prompt task is active or
// next submitted on a session's queue owner, rendering the stream as it
// arrives. It never submits a prompt or any other request of its own.
package attachtui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/acpxdev/acpx/internal/queue"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// sessionUpdateMsg wraps one queue.Reply observed from the owner socket.
type sessionUpdateMsg struct{ reply queue.Reply }

// observeEndedMsg signals the observe goroutine exited, with err nil on a
// clean owner-initiated close.
type observeEndedMsg struct{ err error }

type rawUpdate struct {
	Update struct {
		SessionUpdate string `json:"sessionUpdate"`
		Content       struct {
			Text string `json:"text"`
		} `json:"content"`
		Title  string `json:"title"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
	} `json:"update"`
}

// Model is the bubbletea model driving the attach view. It owns no
// writable input: there is no textarea for prompting, since attach is
// observe-only.
type Model struct {
	viewport viewport.Model
	spin     spinner.Model
	content  strings.Builder
	label    string

	ready  bool
	active bool
	width  int
	height int

	err error
	end bool
}

// New constructs a Model labeled with the session identifier being
// observed, for display in the header.
func New(label string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{label: label, spin: s}
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMargin := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMargin)
			m.viewport.SetContent(m.content.String())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case sessionUpdateMsg:
		m.appendReply(msg.reply)
		return m, nil

	case observeEndedMsg:
		m.end = true
		m.active = false
		m.err = msg.err
		if msg.err != nil {
			m.appendLine(errorStyle.Render(fmt.Sprintf("observe stopped: %v", msg.err)))
		} else {
			m.appendLine(dimStyle.Render("session closed"))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) appendReply(r queue.Reply) {
	switch r.Type {
	case queue.ReplySessionUpdate, queue.ReplyEvent:
		m.active = true
		m.appendLine(renderSessionUpdate(r.Message))
	case queue.ReplyClientOp:
		m.appendLine(dimStyle.Render("[client operation]"))
	case queue.ReplyDone:
		m.active = false
		m.appendLine(dimStyle.Render(fmt.Sprintf("-- turn ended (%s) --", r.StopReason)))
	case queue.ReplyResult:
		m.active = false
	case queue.ReplyError:
		m.active = false
		m.appendLine(errorStyle.Render(fmt.Sprintf("error: %s", r.Msg)))
	}
}

func renderSessionUpdate(raw json.RawMessage) string {
	var u rawUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return dimStyle.Render("[unparseable update]")
	}
	switch u.Update.SessionUpdate {
	case "agent_message_chunk":
		return u.Update.Content.Text
	case "agent_thought_chunk":
		return dimStyle.Render(u.Update.Content.Text)
	case "tool_call":
		return toolStyle.Render(fmt.Sprintf("▶ %s (%s)", u.Update.Title, u.Update.Kind))
	case "tool_call_update":
		return toolStyle.Render(fmt.Sprintf("  %s: %s", u.Update.Title, u.Update.Status))
	case "plan":
		return dimStyle.Render("[plan updated]")
	default:
		return dimStyle.Render(fmt.Sprintf("[%s]", u.Update.SessionUpdate))
	}
}

func (m *Model) appendLine(s string) {
	if m.content.Len() > 0 {
		m.content.WriteByte('\n')
	}
	m.content.WriteString(s)
	if m.ready {
		m.viewport.SetContent(m.content.String())
		m.viewport.GotoBottom()
	}
}

func (m Model) headerView() string {
	status := dimStyle.Render("idle")
	if m.active {
		status = m.spin.View() + " active"
	}
	if m.end {
		status = dimStyle.Render("disconnected")
	}
	return headerStyle.Render(fmt.Sprintf("acpx attach — %s", m.label)) + "  " + status
}

func (m Model) footerView() string {
	return dimStyle.Render("read-only — q to quit")
}

func (m Model) View() string {
	if !m.ready {
		return "initializing..."
	}
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.footerView()
}

// Run drives the attach TUI to completion, observing paths's owner socket
// until the user quits or the owner disconnects. label is shown in the
// header (typically the session's acpxRecordId).
func Run(ctx context.Context, paths queue.Paths, label string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(label), tea.WithAltScreen())

	go func() {
		err := queue.Observe(ctx, paths, func(r queue.Reply) {
			p.Send(sessionUpdateMsg{reply: r})
		})
		p.Send(observeEndedMsg{err: err})
	}()

	_, err := p.Run()
	return err
}
