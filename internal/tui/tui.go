// Package tui is a bubbletea consumer of the executor's event stream: a
// transcript pane, a one-line input, and a status bar. It owns no agent
// semantics — everything it shows arrives as bus events, and everything
// it does goes back through bus operations.
package tui

import (
	"charm.land/bubbles/v2/cursor"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/xonecas/symb/internal/executor"
)

// Semantic color palette — grayscale "suit and tie" with a single accent.
var (
	colorHighlight = lipgloss.Color("#00E5CC")
	colorFg        = lipgloss.Color("#c8c8c8")
	colorMuted     = lipgloss.Color("#6e6e6e")
	colorDim       = lipgloss.Color("#3f3f3f")
	colorError     = lipgloss.Color("#932e2e")
)

// Styles holds the pre-built lipgloss styles used across the TUI.
// Constructed once, stored in Model, avoids repeated allocations.
type Styles struct {
	Text   lipgloss.Style
	Muted  lipgloss.Style
	Dim    lipgloss.Style
	Error  lipgloss.Style
	Accent lipgloss.Style
	Status lipgloss.Style
}

// DefaultStyles builds the complete style set.
func DefaultStyles() Styles {
	return Styles{
		Text:   lipgloss.NewStyle().Foreground(colorFg),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
		Dim:    lipgloss.NewStyle().Foreground(colorDim),
		Error:  lipgloss.NewStyle().Foreground(colorError),
		Accent: lipgloss.NewStyle().Foreground(colorHighlight),
		Status: lipgloss.NewStyle().Foreground(colorDim),
	}
}

// BusEventMsg wraps one executor event for the update loop. Exported so
// main can forward bus events via program.Send.
type BusEventMsg struct {
	Event executor.Event
}

// Model is the bubbletea model for the symbtui front end.
type Model struct {
	bus       *executor.Bus
	sessionID string
	modelName string

	width  int
	height int
	styles Styles

	transcript *Transcript
	streaming  string // assistant deltas for the in-flight response
	thinking   string // reasoning deltas for the in-flight response

	input      []rune
	cursor     cursor.Model
	busy       bool
	lastErr    string
	lastResult string
}

// New builds the model. bus may be nil in tests that drive the
// transcript directly.
func New(bus *executor.Bus, sessionID, modelName string) Model {
	c := cursor.New()
	c.SetMode(cursor.CursorBlink)
	c.Focus()
	return Model{
		bus:        bus,
		sessionID:  sessionID,
		modelName:  modelName,
		styles:     DefaultStyles(),
		transcript: NewTranscript(),
		cursor:     c,
	}
}

// Init starts the cursor blink loop.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return cursor.Blink() }
}
