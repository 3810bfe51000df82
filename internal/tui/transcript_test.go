package tui

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/charmbracelet/x/exp/golden"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/executor"
)

func TestTranscriptRender(t *testing.T) {
	tr := NewTranscript()

	readResult := convo.NewToolResult("call_1", "Read", convo.StatusSuccess, "     1\t# hello\n")
	events := []executor.Event{
		{SessionID: "s1", Item: convo.NewUserText("Show me the contents of README.md"), HasItem: true},
		{SessionID: "s1", Item: convo.NewReasoningText("r1", "m", "read then answer"), HasItem: true},
		{SessionID: "s1", Item: convo.NewAssistantMessage("r1", "Let me read it."), HasItem: true},
		{SessionID: "s1", Item: convo.NewToolCall("r1", "call_1", "Read", json.RawMessage(`{"file": "README.md"}`)), HasItem: true},
		{SessionID: "s1", Item: readResult, HasItem: true},
		{SessionID: "s1", Item: convo.NewAssistantMessage("r2", "The README says hello."), HasItem: true},
		{SessionID: "s1", Err: errors.New("Retrying 1/3 in 1s - 429 rate limit")},
		{SessionID: "s1", Item: convo.NewInterrupt(), HasItem: true},
	}
	for _, evt := range events {
		tr.Apply(evt)
	}

	golden.RequireEqual(t, []byte(tr.Render()))
}

func TestTranscriptSkipsEmptyAssistant(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(executor.Event{SessionID: "s1", Item: convo.NewAssistantMessage("r1", ""), HasItem: true})
	if got := tr.Render(); got != "" {
		t.Fatalf("empty assistant message should render nothing, got %q", got)
	}
}

func TestTranscriptToolErrorPrefix(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(executor.Event{
		SessionID: "s1",
		Item:      convo.NewToolResult("call_9", "Edit", convo.StatusError, "old_string not found in a.txt"),
		HasItem:   true,
	})
	want := "← error: old_string not found in a.txt\n"
	if got := tr.Render(); got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}
