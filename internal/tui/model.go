// Package tui renders the chat session as a terminal UI.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"webpilot/internal/config"
	"webpilot/internal/domain"
	"webpilot/internal/session"
	"webpilot/internal/voice"
)

// sessionUpdateMsg signals that the session's observable state changed.
type sessionUpdateMsg struct{}

// VoiceStateMsg carries a voice capture state change into the UI. Sent from
// outside the event loop via Program.Send.
type VoiceStateMsg struct {
	State voice.State
}

type theme struct {
	header    lipgloss.Style
	footer    lipgloss.Style
	notice    lipgloss.Style
	thinking  lipgloss.Style
	listening lipgloss.Style
	kinds     map[domain.Kind]lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		footer:    lipgloss.NewStyle().Foreground(muted),
		notice:    lipgloss.NewStyle().Foreground(pink),
		thinking:  lipgloss.NewStyle().Foreground(amber),
		listening: lipgloss.NewStyle().Foreground(mint).Bold(true),
		kinds: map[domain.Kind]lipgloss.Style{
			domain.KindUser:   lipgloss.NewStyle().Foreground(mint).Bold(true),
			domain.KindAgent:  lipgloss.NewStyle().Foreground(blue),
			domain.KindSystem: lipgloss.NewStyle().Foreground(muted),
			domain.KindError:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
	}
}

// Model is the bubbletea model for one chat session.
type Model struct {
	runCtx  context.Context // bounds voice capture to the program lifetime
	session *session.Controller
	voice   *voice.Adapter // nil when voice input is disabled

	vp       viewport.Model
	input    textinput.Model
	spin     spinner.Model
	theme    theme
	examples []config.TaskExample

	voiceState voice.State
	notice     string
	width      int
	height     int
	ready      bool
}

// NewModel builds the chat UI around a started session. ctx bounds voice
// capture; adapter may be nil; examples are shown while the transcript is
// empty.
func NewModel(ctx context.Context, sess *session.Controller, adapter *voice.Adapter, maxInput int, examples []config.TaskExample) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe a task for the agent..."
	ti.CharLimit = maxInput
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	if ctx == nil {
		ctx = context.Background()
	}

	return Model{
		runCtx:     ctx,
		session:    sess,
		voice:      adapter,
		input:      ti,
		spin:       sp,
		theme:      newTheme(),
		examples:   examples,
		voiceState: voice.StateIdle,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitForUpdate())
}

// waitForUpdate blocks on the session's coalescing update signal. Re-armed
// after every sessionUpdateMsg.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		<-updates
		return sessionUpdateMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 5
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshTranscript()
		return m, nil

	case sessionUpdateMsg:
		if draft := m.session.ConsumeDraft(); draft != "" {
			m.input.SetValue(draft)
			m.input.CursorEnd()
		}
		m.refreshTranscript()
		return m, m.waitForUpdate()

	case VoiceStateMsg:
		m.voiceState = msg.State
		if msg.State == voice.StateCooldown {
			m.notice = "voice capture failed, cooling down"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			_ = m.session.Close()
			if m.voice != nil {
				m.voice.Stop()
			}
			return m, tea.Quit

		case "enter":
			m.submit()
			return m, nil

		case "ctrl+r":
			m.toggleVoice()
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() {
	err := m.session.Submit(m.input.Value())
	switch {
	case err == nil:
		m.input.Reset()
		m.notice = ""
	case errors.Is(err, domain.ErrEmptyInput):
		m.notice = "type a task first"
	case errors.Is(err, domain.ErrBusy):
		m.notice = "the agent is still working, wait for its reply"
	case errors.Is(err, domain.ErrNotConnected):
		m.notice = "not connected to the agent"
	default:
		m.notice = err.Error()
	}
}

func (m *Model) toggleVoice() {
	if m.voice == nil {
		m.notice = "voice input is disabled"
		return
	}
	switch m.voice.State() {
	case voice.StateListening:
		m.voice.Stop()
	case voice.StateIdle:
		m.notice = ""
		m.voice.Start(m.runCtx)
	default:
		m.notice = "voice capture is cooling down"
	}
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	atBottom := m.vp.AtBottom()
	m.vp.SetContent(m.renderTranscript())
	if atBottom {
		m.vp.GotoBottom()
	}
}

var kindLabels = map[domain.Kind]string{
	domain.KindUser:   "you",
	domain.KindAgent:  "agent",
	domain.KindSystem: "system",
	domain.KindError:  "error",
}

func (m *Model) renderTranscript() string {
	msgs := m.session.Messages()
	if len(msgs) == 0 {
		var b strings.Builder
		b.WriteString(m.theme.footer.Render("No messages yet. Type a task and press enter."))
		if len(m.examples) > 0 {
			b.WriteString("\n\n" + m.theme.footer.Render("Try for example:"))
			for _, ex := range m.examples {
				b.WriteString("\n  " + m.theme.kinds[domain.KindSystem].Render("• "+ex.Task))
			}
		}
		return b.String()
	}

	var b strings.Builder
	for _, msg := range msgs {
		style := m.theme.kinds[msg.Kind]
		label := kindLabels[msg.Kind]
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			m.theme.footer.Render(msg.Timestamp),
			style.Render("["+label+"]"),
			msg.Content))
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	header := m.theme.header.Render("webpilot") + "  " + m.renderConnState()
	if m.voiceState == voice.StateListening {
		header += "  " + m.theme.listening.Render("● listening")
	}

	status := ""
	if m.session.Thinking() {
		status = m.theme.thinking.Render(m.spin.View() + " the agent is thinking...")
	} else if m.notice != "" {
		status = m.theme.notice.Render(m.notice)
	}

	footer := m.theme.footer.Render("enter: send   ctrl+r: voice   ctrl+c: quit")

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s", header, m.vp.View(), status, m.input.View(), footer)
}

func (m Model) renderConnState() string {
	st := m.session.ConnState()
	switch st {
	case domain.StateOpen:
		return m.theme.listening.Render("connected")
	case domain.StateConnecting:
		return m.theme.thinking.Render("connecting...")
	case domain.StateClosedUnexpected:
		return m.theme.notice.Render("reconnecting...")
	default:
		return m.theme.notice.Render(string(st))
	}
}
