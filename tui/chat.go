// Package tui provides the interactive terminal chat.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/scrivly/agentloop/agent"
)

// TurnRunner starts turns. Satisfied by *agent.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userContent string) (<-chan agent.TurnEvent, error)
}

// ChatModel is the interactive chat view. Turn events arrive one at a time
// through waitForEvent, so rendering stays on the update loop.
type ChatModel struct {
	runner    TurnRunner
	sessionID string
	provider  string
	toolNames []string

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	styles   *Styles

	transcript []string
	streaming  strings.Builder
	events     <-chan agent.TurnEvent

	isProcessing bool
	width        int
	height       int
	ready        bool
}

type turnEventMsg struct {
	event agent.TurnEvent
	ok    bool
}

type turnFailedMsg struct {
	err error
}

// NewChat creates the chat model
func NewChat(runner TurnRunner, sessionID, provider string, toolNames []string) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false) // Enter sends message

	s := spinner.New(spinner.WithSpinner(spinner.Line))
	styles := DefaultStyles()
	s.Style = styles.SpinnerStyle

	return &ChatModel{
		runner:    runner,
		sessionID: sessionID,
		provider:  provider,
		toolNames: toolNames,
		textarea:  ta,
		spinner:   s,
		styles:    styles,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textarea.Blink,
	)
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-7)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 7
		}
		m.textarea.SetWidth(msg.Width - 4)
		m.textarea.SetHeight(3)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlD:
			return m, tea.Quit

		case tea.KeyCtrlL:
			m.transcript = nil
			m.viewport.SetContent("")
			return m, nil

		case tea.KeyEnter:
			if !m.isProcessing {
				value := strings.TrimSpace(m.textarea.Value())
				if value != "" {
					m.textarea.Reset()
					if cmd := m.submit(value); cmd != nil {
						cmds = append(cmds, cmd)
					}
				}
			}
			return m, tea.Batch(cmds...)

		case tea.KeyCtrlC:
			if m.textarea.Value() != "" {
				m.textarea.Reset()
			} else {
				return m, tea.Quit
			}
		}

	case turnEventMsg:
		if !msg.ok {
			// Stream closed; the terminal event already rendered.
			m.isProcessing = false
			m.events = nil
			return m, nil
		}
		m.applyEvent(msg.event)
		return m, waitForEvent(m.events)

	case turnFailedMsg:
		m.isProcessing = false
		m.appendLine(m.styles.ErrorMessage.Render(fmt.Sprintf("Error: %v", msg.err)))

	case spinner.TickMsg:
		if m.isProcessing {
			s, cmd := m.spinner.Update(msg)
			m.spinner = s
			cmds = append(cmds, cmd)
		}
	}

	if !m.isProcessing {
		ta, cmd := m.textarea.Update(msg)
		m.textarea = ta
		cmds = append(cmds, cmd)
	}

	vp, cmd := m.viewport.Update(msg)
	m.viewport = vp
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m ChatModel) View() string {
	if !m.ready {
		return "\nInitializing..."
	}

	var b strings.Builder

	header := fmt.Sprintf("agentloop | provider: %s | session: %s | tools: %s",
		m.provider, m.sessionID, strings.Join(m.toolNames, ", "))
	b.WriteString(m.styles.Header.Render(header) + "\n")
	b.WriteString(m.styles.HeaderDivider.Render(strings.Repeat("─", max(m.width, 1))) + "\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.isProcessing {
		b.WriteString(fmt.Sprintf("%s Working...\n", m.spinner.View()))
	} else {
		b.WriteString(m.textarea.View())
	}
	b.WriteString("\n" + m.styles.Help.Render("enter: send | ctrl+l: clear | ctrl+d: quit"))

	return b.String()
}

func (m *ChatModel) submit(input string) tea.Cmd {
	m.appendLine(m.styles.UserMessage.Render("> " + input))

	events, err := m.runner.RunTurn(context.Background(), m.sessionID, input)
	if err != nil {
		return func() tea.Msg { return turnFailedMsg{err: err} }
	}

	m.isProcessing = true
	m.events = events
	m.streaming.Reset()
	return tea.Batch(waitForEvent(events), m.spinner.Tick)
}

// waitForEvent reads one turn event; Update re-issues it until the stream
// closes.
func waitForEvent(events <-chan agent.TurnEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return turnEventMsg{event: ev, ok: ok}
	}
}

func (m *ChatModel) applyEvent(ev agent.TurnEvent) {
	switch ev.Type {
	case agent.EventToken:
		m.streaming.WriteString(ev.Token)
		m.refreshView()

	case agent.EventToolStarted:
		m.flushStreaming(true)
		m.appendLine(m.styles.ToolActivity.Render(fmt.Sprintf("⚙ running %s...", ev.ToolName)))

	case agent.EventComment:
		// Comment text already streamed as tokens; replace it with the
		// styled recorded form.
		m.streaming.Reset()
		m.appendLine(m.styles.Comment.Render(ev.Content))

	case agent.EventToolFinished:
		status := "done"
		if ev.Status != "ok" {
			status = "failed"
		}
		m.appendLine(m.styles.ToolActivity.Render(fmt.Sprintf("⚙ %s %s", ev.ToolName, status)))

	case agent.EventTurnDone:
		m.streaming.Reset()
		m.appendLine(m.styles.Assistant.Render(ev.Content))
		m.isProcessing = false

	case agent.EventTurnAborted:
		m.streaming.Reset()
		m.appendLine(m.styles.ErrorMessage.Render("Turn aborted: " + ev.Reason))
		m.isProcessing = false
	}
}

// flushStreaming moves accumulated streamed text into the transcript. Text
// streamed before a tool call is the model's running commentary.
func (m *ChatModel) flushStreaming(asComment bool) {
	text := strings.TrimSpace(m.streaming.String())
	m.streaming.Reset()
	if text == "" {
		return
	}
	if asComment {
		m.appendLine(m.styles.Comment.Render(text))
	} else {
		m.appendLine(m.styles.Assistant.Render(text))
	}
}

func (m *ChatModel) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	m.refreshView()
}

func (m *ChatModel) refreshView() {
	if !m.ready {
		return
	}
	content := strings.Join(m.transcript, "\n\n")
	if m.streaming.Len() > 0 {
		content += "\n\n" + m.styles.Assistant.Render(m.streaming.String())
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}
