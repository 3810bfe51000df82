package tui

import (
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/executor"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKeyPress(msg)

	case BusEventMsg:
		return m.handleBusEvent(msg.Event)
	}

	var cmd tea.Cmd
	m.cursor, cmd = m.cursor.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.Keystroke() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if m.busy && m.bus != nil {
			m.bus.Submit(executor.Operation{Kind: executor.OpInterrupt, TargetSessionID: m.sessionID})
		}
		return m, nil

	case "enter":
		return m.submitInput()

	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	}

	if msg.Text != "" {
		m.input = append(m.input, []rune(msg.Text)...)
	}
	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(string(m.input))
	if text == "" || m.busy || m.bus == nil {
		return m, nil
	}
	m.input = nil

	if text == "/undo" {
		affected, err := m.bus.Undo(m.sessionID)
		if err != nil {
			m.lastErr = err.Error()
		} else {
			m.lastErr = ""
			m.transcript.entries = append(m.transcript.entries,
				entry{kind: entryNotice, text: "reverted " + strings.Join(affected, ", ")})
		}
		return m, nil
	}

	m.busy = true
	m.lastErr = ""
	m.bus.Submit(executor.Operation{Kind: executor.OpUserInput, SessionID: m.sessionID, Text: text})
	return m, nil
}

// Prime folds already-drained events (init replay) into the model before
// the program starts, so resumed history renders on first paint.
func (m Model) Prime(events []executor.Event) Model {
	for _, evt := range events {
		folded, _ := m.handleBusEvent(evt)
		m = folded.(Model)
	}
	return m
}

func (m Model) handleBusEvent(evt executor.Event) (tea.Model, tea.Cmd) {
	if evt.HasItem {
		switch evt.Item.Kind {
		case convo.KindAssistantMessageDelta:
			m.streaming += evt.Item.Content
		case convo.KindThinkingDelta:
			m.thinking += evt.Item.Content
		case convo.KindAssistantMessage, convo.KindReasoningText:
			m.streaming = ""
			m.thinking = ""
			m.transcript.Apply(evt)
		default:
			m.transcript.Apply(evt)
		}
	} else if evt.Err != nil {
		m.transcript.Apply(evt)
	}

	if evt.Terminal {
		m.busy = false
		m.streaming = ""
		m.thinking = ""
		m.lastResult = evt.TaskResult
	}
	return m, nil
}
