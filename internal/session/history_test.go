package session

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xonecas/symb/internal/convo"
)

func TestBuildLLMInputEmptyToolOutputPlaceholder(t *testing.T) {
	hist := []convo.Item{
		convo.NewUserText("run it"),
		convo.NewToolCall("r1", "call_1", "Bash", json.RawMessage(`{"command":"true"}`)),
		convo.NewToolResult("call_1", "Bash", convo.StatusSuccess, ""),
	}
	msgs := BuildLLMInput("", hist, "m")

	var toolMsg string
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsg = m.Content
		}
	}
	if toolMsg != emptyToolOutputPlaceholder {
		t.Fatalf("empty tool output rendered as %q, want %q", toolMsg, emptyToolOutputPlaceholder)
	}
}

func TestBuildLLMInputDegradesForeignReasoning(t *testing.T) {
	hist := []convo.Item{
		convo.NewUserText("hi"),
		convo.NewReasoningText("r1", "old-model", "secret plan"),
		convo.NewReasoningEncrypted("r1", "old-model", "blob", "anthropic-signature"),
		convo.NewAssistantMessage("r1", "answer"),
	}
	msgs := BuildLLMInput("", hist, "new-model")

	var assistant string
	for _, m := range msgs {
		if m.Role == "assistant" {
			assistant = m.Content
		}
		if m.Reasoning != "" {
			t.Fatalf("foreign reasoning re-emitted verbatim: %q", m.Reasoning)
		}
	}
	if !strings.Contains(assistant, "<thinking>secret plan</thinking>") {
		t.Fatalf("assistant = %q, want inline <thinking> block", assistant)
	}
	if strings.Contains(assistant, "blob") {
		t.Fatal("encrypted blob for a different model must be dropped")
	}
}

func TestBuildLLMInputKeepsSameModelReasoning(t *testing.T) {
	hist := []convo.Item{
		convo.NewUserText("hi"),
		convo.NewReasoningText("r1", "m", "plan"),
		convo.NewAssistantMessage("r1", "answer"),
	}
	msgs := BuildLLMInput("", hist, "m")

	found := false
	for _, m := range msgs {
		if m.Reasoning == "plan" {
			found = true
		}
		if strings.Contains(m.Content, "<thinking>") {
			t.Fatalf("same-model reasoning degraded to inline block: %q", m.Content)
		}
	}
	if !found {
		t.Fatal("same-model reasoning not re-emitted")
	}
}

func TestBuildLLMInputMergesConsecutiveToolCalls(t *testing.T) {
	hist := []convo.Item{
		convo.NewUserText("do both"),
		convo.NewAssistantMessage("r1", ""),
		convo.NewToolCall("r1", "call_1", "Read", json.RawMessage(`{"file":"a"}`)),
		convo.NewToolCall("r1", "call_2", "Read", json.RawMessage(`{"file":"b"}`)),
	}
	msgs := BuildLLMInput("", hist, "m")

	var toolCallMsgs int
	for _, m := range msgs {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			toolCallMsgs++
			if len(m.ToolCalls) != 2 {
				t.Fatalf("tool calls per message = %d, want 2", len(m.ToolCalls))
			}
		}
		if m.Role == "assistant" && m.Content == "" && len(m.ToolCalls) == 0 {
			t.Fatal("empty assistant message leaked into wire history")
		}
	}
	if toolCallMsgs != 1 {
		t.Fatalf("tool-call messages = %d, want 1", toolCallMsgs)
	}
}

func TestBuildLLMInputCarriesUserImages(t *testing.T) {
	hist := []convo.Item{
		convo.NewUserMessage(
			convo.UserPart{Text: &convo.TextPart{Text: "what is in this screenshot?"}},
			convo.UserPart{Image: &convo.ImageRef{URL: "https://example.com/shot.png", MimeType: "image/png"}},
		),
	}
	msgs := BuildLLMInput("", hist, "m")

	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Content != "what is in this screenshot?" {
		t.Fatalf("content = %q", m.Content)
	}
	if len(m.Images) != 1 || m.Images[0].URL != "https://example.com/shot.png" {
		t.Fatalf("images = %+v, want the URL ref passed through", m.Images)
	}
	if strings.Contains(m.Content, "[image:") {
		t.Fatal("image must not degrade to a text placeholder")
	}
}

func TestBuildLLMInputCarriesToolResultImages(t *testing.T) {
	result := convo.NewToolResult("call_1", "Read", convo.StatusSuccess, "rendered")
	result.ResultImages = []convo.ImageRef{{URL: "data:image/png;base64,aGk=", MimeType: "image/png"}}
	hist := []convo.Item{
		convo.NewToolCall("r1", "call_1", "Read", json.RawMessage(`{"file":"a.png"}`)),
		result,
	}
	msgs := BuildLLMInput("", hist, "m")

	var toolMsg *int
	for i, m := range msgs {
		if m.Role == "tool" {
			toolMsg = &i
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message built")
	}
	if got := msgs[*toolMsg].Images; len(got) != 1 || got[0].URL != "data:image/png;base64,aGk=" {
		t.Fatalf("tool result images = %+v", got)
	}
}

func TestAppendDropsStreamingItems(t *testing.T) {
	sess := New("sess_x", t.TempDir(), nil)
	sess.Append(
		convo.NewAssistantMessageDelta("r1", "he"),
		convo.NewThinkingDelta("r1", "hm"),
		convo.NewToolCallStart("r1", "call_1", "Read"),
		convo.NewAssistantMessage("r1", "hello"),
	)

	hist := sess.History()
	if len(hist) != 1 || hist[0].Kind != convo.KindAssistantMessage {
		t.Fatalf("history = %v, want only the finalized assistant message", hist)
	}
}
