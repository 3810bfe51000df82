package executor

import (
	"context"
	"testing"
	"time"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/tools"
)

func newTestBus(t *testing.T, prov provider.Provider) *Bus {
	t.Helper()
	reg := tools.NewRegistry()
	bus := New(AgentProfile{
		Provider:  prov,
		ModelID:   "test-model",
		ModelName: "test-model",
		Registry:  reg,
		WorkDir:   t.TempDir(),
	}, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)
	return bus
}

// drain collects events until the terminal one for a submission arrives.
func drain(t *testing.T, bus *Bus) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt := <-bus.Events():
			events = append(events, evt)
			if evt.Terminal {
				return events
			}
		case <-timeout:
			t.Fatalf("no terminal event; got %d events so far", len(events))
		}
	}
}

func TestBusSingleTurnFlow(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("hello there")
	bus := newTestBus(t, prov)

	initID := bus.Submit(Operation{Kind: OpInitAgent, SessionID: "sess_b1"})
	drain(t, bus)
	bus.WaitFor(initID)

	subID := bus.Submit(Operation{Kind: OpUserInput, SessionID: "sess_b1", Text: "hi"})
	events := drain(t, bus)
	bus.WaitFor(subID)

	last := events[len(events)-1]
	if !last.Terminal || last.TaskResult != "hello there" {
		t.Fatalf("terminal event = %+v, want TaskResult %q", last, "hello there")
	}
	if last.Item.Kind != convo.KindTaskMetadata {
		t.Fatalf("terminal item kind = %v, want TaskMetadata", last.Item.Kind)
	}

	var sawUser, sawDelta, sawAssistant bool
	for _, evt := range events {
		if !evt.HasItem {
			continue
		}
		switch evt.Item.Kind {
		case convo.KindUserMessage:
			sawUser = true
		case convo.KindAssistantMessageDelta:
			sawDelta = true
		case convo.KindAssistantMessage:
			sawAssistant = true
		}
	}
	if !sawUser || !sawDelta || !sawAssistant {
		t.Fatalf("event coverage: user=%v delta=%v assistant=%v", sawUser, sawDelta, sawAssistant)
	}
}

func TestBusUserInputWithoutInit(t *testing.T) {
	prov := provider.NewMock("mock", "").EnqueueText("unused")
	bus := newTestBus(t, prov)

	subID := bus.Submit(Operation{Kind: OpUserInput, SessionID: "sess_missing", Text: "hi"})
	events := drain(t, bus)
	bus.WaitFor(subID)

	last := events[len(events)-1]
	if last.Err == nil {
		t.Fatal("user_input before init_agent should surface an error")
	}
}
