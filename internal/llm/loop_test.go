package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/truncate"
)

// echoTool returns its "text" argument, for driving the tool path
// without touching the filesystem.
type echoTool struct{}

func (echoTool) Schema() tools.Schema {
	return tools.Schema{
		Name:        "echo",
		Description: "echo text back",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func (echoTool) Call(ctx *tools.Context, argsJSON json.RawMessage) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return tools.Err(err.Error()), nil
	}
	return tools.Ok(args.Text), nil
}

func newTestTurn(t *testing.T, prov provider.Provider) (TurnOptions, *session.Session) {
	t.Helper()
	sess := session.New("sess_test", t.TempDir(), nil)
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	executor := &tools.Executor{
		Registry:  reg,
		Truncate:  truncate.New(t.TempDir()),
		SessionID: sess.ID,
		WorkDir:   sess.WorkDir,
		Files:     sess.Files,
		Todo:      sess.Todo,
	}
	return TurnOptions{
		Provider:  prov,
		ModelID:   "test-model",
		ModelName: "test-model",
		Session:   sess,
		Registry:  reg,
		Executor:  executor,
	}, sess
}

func kinds(items []convo.Item) []convo.Kind {
	out := make([]convo.Kind, len(items))
	for i, it := range items {
		out[i] = it.Kind
	}
	return out
}

func TestProviderAdapterItemOrder(t *testing.T) {
	prov := provider.NewMock("mock", "").Enqueue(
		provider.StreamEvent{Type: provider.EventReasoningDelta, Content: "planning: "},
		provider.StreamEvent{Type: provider.EventReasoningDelta, Content: "read and echo"},
		provider.StreamEvent{Type: provider.EventReasoningSignature, Content: "abc", Format: "anthropic-signature"},
		provider.StreamEvent{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "tu_1", ToolCallName: "echo"},
		provider.StreamEvent{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"text":"hi"}`},
		provider.StreamEvent{Type: provider.EventContentDelta, Content: "done"},
		provider.StreamEvent{Type: provider.EventUsage, InputTokens: 10, OutputTokens: 5},
	)

	var events []convo.Item
	res, err := RunProviderAdapter(context.Background(), prov, "test-model", nil, nil, func(item convo.Item) {
		events = append(events, item)
	})
	if err != nil {
		t.Fatalf("RunProviderAdapter: %v", err)
	}

	wantKinds := []convo.Kind{
		convo.KindStart,
		convo.KindReasoningText,
		convo.KindReasoningEncrypted,
		convo.KindAssistantMessage,
		convo.KindToolCall,
		convo.KindResponseMetadata,
	}
	got := kinds(res.Items)
	if len(got) != len(wantKinds) {
		t.Fatalf("items = %v, want kinds %v", got, wantKinds)
	}
	for i := range wantKinds {
		if got[i] != wantKinds[i] {
			t.Fatalf("items[%d] = %v, want %v", i, got[i], wantKinds[i])
		}
	}

	if res.Items[1].Content != "planning: read and echo" {
		t.Errorf("reasoning = %q", res.Items[1].Content)
	}
	if res.Items[2].Blob != "abc" || res.Items[2].Format != "anthropic-signature" {
		t.Errorf("encrypted reasoning = %+v", res.Items[2])
	}
	if res.Items[4].CallID != "tu_1" || string(res.Items[4].ArgumentsJSON) != `{"text":"hi"}` {
		t.Errorf("tool call = %+v", res.Items[4])
	}

	// The UI stream starts with the StartItem, carries the deltas, and
	// never carries finalized ToolCallItems (the Tool Executor emits
	// those at invocation time).
	if events[0].Kind != convo.KindStart {
		t.Errorf("first event = %v, want Start", events[0].Kind)
	}
	sawDelta, sawThinking := false, false
	for _, evt := range events {
		switch evt.Kind {
		case convo.KindAssistantMessageDelta:
			sawDelta = true
		case convo.KindThinkingDelta:
			sawThinking = true
		case convo.KindToolCall:
			t.Error("finalized ToolCallItem forwarded to the UI stream")
		}
	}
	if !sawDelta || !sawThinking {
		t.Errorf("missing streaming deltas: content=%v thinking=%v", sawDelta, sawThinking)
	}
	if last := events[len(events)-1]; last.Kind != convo.KindResponseMetadata {
		t.Errorf("last event = %v, want ResponseMetadata", last.Kind)
	}
}

func TestAssistantContentEqualsDeltas(t *testing.T) {
	prov := provider.NewMock("mock", "").Enqueue(
		provider.StreamEvent{Type: provider.EventContentDelta, Content: "hel"},
		provider.StreamEvent{Type: provider.EventContentDelta, Content: "lo"},
	)

	var deltas string
	res, err := RunProviderAdapter(context.Background(), prov, "m", nil, nil, func(item convo.Item) {
		if item.Kind == convo.KindAssistantMessageDelta {
			deltas += item.Content
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != deltas {
		t.Fatalf("final content %q != concatenated deltas %q", res.Content, deltas)
	}
}

func TestRunTaskToolRoundTrip(t *testing.T) {
	prov := provider.NewMock("mock", "").
		EnqueueToolCall("call_1", "echo", `{"text":"hi"}`).
		EnqueueText("all done")

	opts, sess := newTestTurn(t, prov)
	result, err := RunTask(context.Background(), TaskOptions{TurnOptions: opts})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.Content != "all done" {
		t.Fatalf("task result = %q, want %q", result.Content, "all done")
	}

	hist := sess.History()
	var callIDs, resultIDs []string
	for _, item := range hist {
		switch item.Kind {
		case convo.KindToolCall:
			callIDs = append(callIDs, item.CallID)
		case convo.KindToolResult:
			resultIDs = append(resultIDs, item.CallID)
			if item.Output != "hi" {
				t.Errorf("tool result output = %q", item.Output)
			}
		}
	}
	if len(callIDs) != 1 || len(resultIDs) != 1 || callIDs[0] != resultIDs[0] {
		t.Fatalf("call/result ids mismatch: %v vs %v", callIDs, resultIDs)
	}
}

func TestRunTaskRetriesAfterStreamError(t *testing.T) {
	prov := provider.NewMock("mock", "").
		EnqueueStreamError("partial", errors.New("429 rate limit")).
		EnqueueText("recovered")

	opts, sess := newTestTurn(t, prov)
	var retryMsgs []string
	result, err := RunTask(context.Background(), TaskOptions{
		TurnOptions: opts,
		OnError: func(msg string, canRetry bool) {
			if !canRetry {
				t.Errorf("expected retryable error, got final: %s", msg)
			}
			retryMsgs = append(retryMsgs, msg)
		},
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.Content != "recovered" {
		t.Fatalf("task result = %q", result.Content)
	}
	if len(retryMsgs) != 1 {
		t.Fatalf("retry notifications = %v", retryMsgs)
	}
	if prov.Calls() != 2 {
		t.Fatalf("provider calls = %d, want 2", prov.Calls())
	}

	// The failed turn must leave no trace: exactly one assistant message
	// and one response metadata in history.
	var assistants, metas int
	for _, item := range sess.History() {
		switch item.Kind {
		case convo.KindAssistantMessage:
			assistants++
		case convo.KindResponseMetadata:
			metas++
		}
	}
	if assistants != 1 || metas != 1 {
		t.Fatalf("history after retry: %d assistants, %d metadata items", assistants, metas)
	}
}

func TestEmptyTodoReminderWaitsForLongTasks(t *testing.T) {
	sess := session.New("sess_r", t.TempDir(), nil)

	if item := EmptyTodoReminder(sess, 0); item != nil {
		t.Fatal("empty_todo must not fire on a fresh task")
	}
	item := EmptyTodoReminder(sess, emptyTodoAfterRounds)
	if item == nil {
		t.Fatal("empty_todo should fire once a task has run multiple rounds without a plan")
	}
	if len(item.Reminders) != 1 || item.Reminders[0] != "empty_todo" {
		t.Fatalf("reminder kinds = %v", item.Reminders)
	}

	if _, err := sess.Todo.Set([]convo.Todo{{Content: "plan", Status: convo.TodoPending}}); err != nil {
		t.Fatal(err)
	}
	if item := EmptyTodoReminder(sess, emptyTodoAfterRounds); item != nil {
		t.Fatal("empty_todo must not fire once a plan exists")
	}
}

func TestTodoNotUsedRecentlyReminder(t *testing.T) {
	sess := session.New("sess_r2", t.TempDir(), nil)
	if _, err := sess.Todo.Set([]convo.Todo{{Content: "step", Status: convo.TodoInProgress}}); err != nil {
		t.Fatal(err)
	}

	if item := TodoNotUsedRecentlyReminder(sess, 1); item != nil {
		t.Fatal("must not fire while the plan is within the recent window")
	}

	for i := 0; i < todoStaleAfterItems; i++ {
		sess.Append(convo.NewToolResult("call_x", "Bash", convo.StatusSuccess, "ok"))
	}
	item := TodoNotUsedRecentlyReminder(sess, 1)
	if item == nil {
		t.Fatal("should fire after a long stretch without TodoWrite")
	}
	if item.Reminders[0] != "todo_not_used_recently" {
		t.Fatalf("reminder kinds = %v", item.Reminders)
	}

	sess.Append(convo.NewToolResult("call_t", "TodoWrite", convo.StatusSuccess, "Updated to-do list (1 items)"))
	if item := TodoNotUsedRecentlyReminder(sess, 1); item != nil {
		t.Fatal("a recent TodoWrite should suppress the reminder")
	}
}

func TestRunTaskCancellation(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("never seen")
	prov.SetDelay(200 * time.Millisecond)

	opts, _ := newTestTurn(t, prov)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunTask(ctx, TaskOptions{TurnOptions: opts}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
