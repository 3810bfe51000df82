package convo

import (
	"testing"
	"time"
)

func TestTimingFirstTokenLatency(t *testing.T) {
	start := time.Now()
	tm := Timing{RequestStart: start, FirstToken: start.Add(250 * time.Millisecond)}
	got := tm.FirstTokenLatencyMS()
	if got < 249 || got > 251 {
		t.Fatalf("FirstTokenLatencyMS() = %v, want ~250", got)
	}

	if (Timing{}).FirstTokenLatencyMS() != -1 {
		t.Fatal("unknown first token should report -1")
	}
}

func TestTimingThroughputNeedsDuration(t *testing.T) {
	start := time.Now()

	short := Timing{FirstToken: start, LastToken: start.Add(100 * time.Millisecond)}
	if short.ThroughputTPS(50) != -1 {
		t.Fatal("sub-150ms stream should not report throughput")
	}

	long := Timing{FirstToken: start, LastToken: start.Add(2 * time.Second)}
	got := long.ThroughputTPS(100)
	if got < 49 || got > 51 {
		t.Fatalf("ThroughputTPS(100) over 2s = %v, want ~50", got)
	}
	if long.ThroughputTPS(0) != -1 {
		t.Fatal("zero output tokens should not report throughput")
	}
}

func TestKindIsPersisted(t *testing.T) {
	for _, k := range []Kind{KindAssistantMessageDelta, KindThinkingDelta, KindToolCallStart} {
		if k.IsPersisted() {
			t.Errorf("%v should be UI-only", k)
		}
	}
	for _, k := range []Kind{KindStart, KindUserMessage, KindAssistantMessage, KindReasoningText, KindReasoningEncrypted, KindToolCall, KindToolResult, KindResponseMetadata, KindTaskMetadata, KindStreamError, KindInterrupt, KindDeveloperMessage} {
		if !k.IsPersisted() {
			t.Errorf("%v should persist to history", k)
		}
	}
}

func TestTaskMetadataAccumulates(t *testing.T) {
	tm := NewTaskMetadata()
	tm.Add("m1", Usage{InputTokens: 10, OutputTokens: 5})
	tm.Add("m1", Usage{InputTokens: 3, OutputTokens: 2, ReasoningTokens: 1})
	tm.Add("m2", Usage{OutputTokens: 7})

	u := tm.ModelUsage["m1"]
	if u.InputTokens != 13 || u.OutputTokens != 7 || u.ReasoningTokens != 1 {
		t.Fatalf("m1 usage = %+v", u)
	}
	if tm.ModelUsage["m2"].OutputTokens != 7 {
		t.Fatalf("m2 usage = %+v", tm.ModelUsage["m2"])
	}
}
