package tui

import (
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/x/ansi"
)

const inputPrompt = "> "

func (m Model) View() tea.View {
	v := tea.NewView(m.renderContent())
	v.AltScreen = true
	return v
}

// renderContent lays out transcript, in-flight stream, input, and status
// for the current terminal size.
func (m Model) renderContent() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	var lines []string
	for _, e := range m.transcript.Entries() {
		lines = append(lines, m.styleEntry(e, width)...)
	}
	if m.thinking != "" {
		lines = append(lines, m.wrapStyled(m.styles.Muted, "· "+m.thinking, width)...)
	}
	if m.streaming != "" {
		lines = append(lines, m.wrapStyled(m.styles.Text, m.streaming, width)...)
	}

	// Transcript gets everything above the input and status rows; keep
	// the tail when it overflows.
	bodyH := height - 2
	if bodyH < 1 {
		bodyH = 1
	}
	if len(lines) > bodyH {
		lines = lines[len(lines)-bodyH:]
	}
	for len(lines) < bodyH {
		lines = append(lines, "")
	}

	m.cursor.SetChar(" ")
	inputLine := m.styles.Accent.Render(inputPrompt) + m.styles.Text.Render(string(m.input)) + m.cursor.View()
	inputLine = ansi.Truncate(inputLine, width, "")

	status := m.statusLine(width)

	return strings.Join(lines, "\n") + "\n" + inputLine + "\n" + status
}

func (m Model) styleEntry(e entry, width int) []string {
	switch e.kind {
	case entryUser:
		return m.wrapStyled(m.styles.Accent, "> "+e.text, width)
	case entryAssistant:
		return m.wrapStyled(m.styles.Text, e.text, width)
	case entryThinking:
		return m.wrapStyled(m.styles.Muted, "· "+e.text, width)
	case entryTool:
		return m.wrapStyled(m.styles.Dim, "→ "+e.text, width)
	case entryToolResult:
		return m.wrapStyled(m.styles.Dim, "← "+e.text, width)
	case entryNotice:
		return m.wrapStyled(m.styles.Muted, e.text, width)
	case entryError:
		return m.wrapStyled(m.styles.Error, e.text, width)
	}
	return nil
}

// wrapStyled wraps text to width, styling each resulting line so every
// line is independently renderable.
func (m Model) wrapStyled(style interface{ Render(...string) string }, text string, width int) []string {
	wrapped := ansi.Hardwrap(ansi.Wordwrap(text, width, ""), width, true)
	var out []string
	for _, line := range strings.Split(wrapped, "\n") {
		out = append(out, style.Render(line))
	}
	return out
}

func (m Model) statusLine(width int) string {
	state := "ready"
	if m.busy {
		state = "working… (esc to interrupt)"
	}
	if m.lastErr != "" {
		state = m.lastErr
	}
	left := m.sessionID + "  " + m.modelName
	pad := width - len(left) - len(state)
	if pad < 1 {
		pad = 1
	}
	line := left + strings.Repeat(" ", pad) + state
	return m.styles.Status.Render(ansi.Truncate(line, width, ""))
}
