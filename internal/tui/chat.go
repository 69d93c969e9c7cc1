package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/internal/service/agent"
	"github.com/mnemo-agent/mnemo/pkg/conv"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// replyMsg carries a finished agent turn back into the update loop.
type replyMsg struct {
	text string
	err  error
}

// Model is the interactive chat screen: a scrollback viewport, an input
// line, and a spinner while a turn is in flight.
type Model struct {
	ctx    context.Context
	agent  *agent.Agent
	userID int64

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	lines   []string
	waiting bool
	ready   bool
}

func NewModel(ctx context.Context, a *agent.Agent, userID int64) *Model {
	input := textinput.New()
	input.Placeholder = "Say something..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		ctx:     ctx,
		agent:   a,
		userID:  userID,
		input:   input,
		spinner: sp,
		lines:   []string{hintStyle.Render(fmt.Sprintf("%s %s — ctrl+c to quit", core.AppName, core.AppVersion))},
	}
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-3)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 3
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			m.appendLine(userStyle.Render("you: ") + text)
			return m, tea.Batch(m.spinner.Tick, m.ask(text))
		}

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
		} else {
			m.appendLine(assistantStyle.Render("mnemo: ") + strings.TrimSpace(conv.MarkdownToPlainText([]byte(msg.text))))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var inputCmd, vpCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, vpCmd)
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	status := ""
	if m.waiting {
		status = m.spinner.View() + " thinking"
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), status, m.input.View())
}

func (m *Model) ask(text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.agent.Respond(m.ctx, m.userID, text, nil)
		return replyMsg{text: reply, err: err}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line, "")
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.lines, "\n")))
	m.viewport.GotoBottom()
}

// Run blocks until the user quits the chat.
func Run(ctx context.Context, a *agent.Agent, userID int64) error {
	p := tea.NewProgram(NewModel(ctx, a, userID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
