package subagent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/truncate"
)

func newTestManager(t *testing.T, prov provider.Provider) *Manager {
	t.Helper()
	return &Manager{
		Provider:  prov,
		ModelID:   "test-model",
		ModelName: "test-model",
		WorkDir:   t.TempDir(),
		Registry:  tools.NewRegistry(),
		Truncate:  truncate.New(t.TempDir()),
	}
}

func TestRunReturnsFinalTextWithAgentID(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("found three call sites")
	m := newTestManager(t, prov)

	res, err := m.Run(context.Background(), tools.SubAgentRequest{
		Kind:        "Explore",
		Description: "find call sites",
		Prompt:      "where is Observe called?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "found three call sites") {
		t.Fatalf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "agentId: "+res.SessionID) {
		t.Fatalf("output missing agentId footer: %q", res.Output)
	}
	if res.Structured {
		t.Fatal("free-text run must not be marked structured")
	}
}

func TestRunStructuredOutputViaReportBack(t *testing.T) {
	prov := provider.NewMock("mock", "").
		EnqueueToolCall("call_rb", "report_back", `{"answer":42}`).
		EnqueueText("reported")
	m := newTestManager(t, prov)

	res, err := m.Run(context.Background(), tools.SubAgentRequest{
		Kind:         "Oracle",
		Description:  "compute the answer",
		Prompt:       "what is the answer?",
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"answer":{"type":"integer"}},"required":["answer"]}`),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Structured {
		t.Fatal("schema-constrained run must be marked structured")
	}
	if !strings.HasPrefix(res.Output, `{"answer":42}`) {
		t.Fatalf("output = %q, want the report_back payload first", res.Output)
	}
	if !strings.Contains(res.Output, "agentId: "+res.SessionID) {
		t.Fatalf("output missing agentId footer: %q", res.Output)
	}
}

func TestRunStructuredOutputMissingReportBack(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("forgot to report")
	m := newTestManager(t, prov)

	_, err := m.Run(context.Background(), tools.SubAgentRequest{
		Kind:         "Oracle",
		Description:  "compute",
		Prompt:       "answer?",
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	})
	if err == nil || !strings.Contains(err.Error(), "report_back") {
		t.Fatalf("expected a missing-report_back error, got %v", err)
	}
}

func TestRunResumeContinuesSession(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("first answer").EnqueueText("second answer")
	m := newTestManager(t, prov)

	first, err := m.Run(context.Background(), tools.SubAgentRequest{Kind: "Explore", Description: "d", Prompt: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Run(context.Background(), tools.SubAgentRequest{Kind: "Explore", Description: "d", Prompt: "p2", Resume: first.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("resume spawned a new session: %s vs %s", second.SessionID, first.SessionID)
	}

	sess := m.sessions[first.SessionID]
	var userTexts []string
	for _, item := range sess.History() {
		if item.Kind == convo.KindUserMessage {
			for _, p := range item.UserParts {
				if p.Text != nil {
					userTexts = append(userTexts, p.Text.Text)
				}
			}
		}
	}
	if len(userTexts) != 2 || userTexts[0] != "p1" || userTexts[1] != "p2" {
		t.Fatalf("resumed session user messages = %v", userTexts)
	}
}
