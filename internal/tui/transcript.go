package tui

import (
	"fmt"
	"strings"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/executor"
)

// entryKind distinguishes transcript entry types for styling.
type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryThinking
	entryTool
	entryToolResult
	entryNotice
	entryError
)

// entry is one logical line group in the transcript.
type entry struct {
	kind entryKind
	text string
}

// Transcript accumulates bus events into renderable entries. It is
// deliberately plain — no styling, no wrapping — so rendering stays a
// pure function the view (and the golden test) can call.
type Transcript struct {
	entries []entry
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// maxResultPreview bounds how much of a tool result the transcript keeps.
const maxResultPreview = 300

// Apply folds one event into the transcript. Streaming deltas are not
// handled here — the model buffers those separately and the finalized
// items land as complete entries.
func (t *Transcript) Apply(evt executor.Event) {
	if evt.Err != nil {
		t.entries = append(t.entries, entry{kind: entryError, text: evt.Err.Error()})
	}
	if !evt.HasItem {
		return
	}
	item := evt.Item
	switch item.Kind {
	case convo.KindUserMessage:
		t.entries = append(t.entries, entry{kind: entryUser, text: userText(item)})
	case convo.KindAssistantMessage:
		if item.Content != "" {
			t.entries = append(t.entries, entry{kind: entryAssistant, text: item.Content})
		}
	case convo.KindReasoningText:
		t.entries = append(t.entries, entry{kind: entryThinking, text: item.Content})
	case convo.KindToolCall:
		t.entries = append(t.entries, entry{kind: entryTool, text: fmt.Sprintf("%s %s", item.ToolName, compactJSON(string(item.ArgumentsJSON)))})
	case convo.KindToolResult:
		text := preview(item.Output, maxResultPreview)
		if item.Status == convo.StatusError {
			text = "error: " + text
		}
		t.entries = append(t.entries, entry{kind: entryToolResult, text: text})
	case convo.KindDeveloperMessage:
		t.entries = append(t.entries, entry{kind: entryNotice, text: item.Content})
	case convo.KindStreamError:
		t.entries = append(t.entries, entry{kind: entryError, text: item.Err})
	case convo.KindInterrupt:
		t.entries = append(t.entries, entry{kind: entryNotice, text: "interrupted"})
	}
}

// Render produces the plain-text transcript, one prefix-tagged block per
// entry, ending with a newline. Pure: styling and wrapping are the
// view's problem.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, e := range t.entries {
		switch e.kind {
		case entryUser:
			b.WriteString("> " + e.text)
		case entryAssistant:
			b.WriteString(e.text)
		case entryThinking:
			b.WriteString("· " + e.text)
		case entryTool:
			b.WriteString("→ " + e.text)
		case entryToolResult:
			b.WriteString("← " + e.text)
		case entryNotice:
			b.WriteString("[notice] " + e.text)
		case entryError:
			b.WriteString("[error] " + e.text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Entries exposes the accumulated entries for the styled view.
func (t *Transcript) Entries() []entry {
	return t.entries
}

func userText(item convo.Item) string {
	var parts []string
	for _, p := range item.UserParts {
		if p.Text != nil {
			parts = append(parts, p.Text.Text)
		} else if p.Image != nil {
			ref := p.Image.FilePath
			if ref == "" {
				ref = p.Image.URL
			}
			parts = append(parts, "[image: "+ref+"]")
		}
	}
	return strings.Join(parts, "\n")
}

func preview(s string, max int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

// compactJSON flattens argument JSON onto one line for the tool row.
func compactJSON(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
