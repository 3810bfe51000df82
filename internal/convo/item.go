// Package convo defines the Conversation Item model: the tagged-union
// record type shared by session history, provider adapters, the tool
// executor, and the event stream consumed by UIs.
package convo

import (
	"encoding/json"
	"time"
)

// Kind identifies which variant of Item is populated.
type Kind int

const (
	KindStart Kind = iota
	KindUserMessage
	KindAssistantMessageDelta
	KindThinkingDelta
	KindAssistantMessage
	KindReasoningText
	KindReasoningEncrypted
	KindToolCallStart
	KindToolCall
	KindToolResult
	KindResponseMetadata
	KindTaskMetadata
	KindStreamError
	KindInterrupt
	KindDeveloperMessage
)

// String returns a human-readable name, used in logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindUserMessage:
		return "UserMessage"
	case KindAssistantMessageDelta:
		return "AssistantMessageDelta"
	case KindThinkingDelta:
		return "ThinkingDelta"
	case KindAssistantMessage:
		return "AssistantMessage"
	case KindReasoningText:
		return "ReasoningText"
	case KindReasoningEncrypted:
		return "ReasoningEncrypted"
	case KindToolCallStart:
		return "ToolCallStart"
	case KindToolCall:
		return "ToolCall"
	case KindToolResult:
		return "ToolResult"
	case KindResponseMetadata:
		return "ResponseMetadata"
	case KindTaskMetadata:
		return "TaskMetadata"
	case KindStreamError:
		return "StreamError"
	case KindInterrupt:
		return "Interrupt"
	case KindDeveloperMessage:
		return "DeveloperMessage"
	default:
		return "Unknown"
	}
}

// ToolStatus is the outcome of a tool invocation.
type ToolStatus string

const (
	StatusSuccess ToolStatus = "success"
	StatusError   ToolStatus = "error"
)

// TextPart is plain user-supplied text.
type TextPart struct {
	Text string
}

// ImageRef is a user-supplied image, either inline or by path.
type ImageRef struct {
	URL      string // base64 data URL or public URL
	FilePath string // disk path, mutually exclusive with URL
	MimeType string
}

// UserPart is one element of a UserMessage's ordered content.
type UserPart struct {
	Text  *TextPart
	Image *ImageRef
}

// Usage holds per-field token counts for one provider response.
type Usage struct {
	InputTokens  int
	CachedTokens int
	ReasoningTokens int
	OutputTokens int
}

// Add accumulates another usage's counts into u, used by MetadataAccumulator.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.CachedTokens += o.CachedTokens
	u.ReasoningTokens += o.ReasoningTokens
	u.OutputTokens += o.OutputTokens
}

// Timing holds the latency/throughput figures derived in §4.1.3.
type Timing struct {
	RequestStart time.Time
	FirstToken   time.Time
	LastToken    time.Time
}

// FirstTokenLatencyMS returns the latency, or -1 if unknown.
func (t Timing) FirstTokenLatencyMS() float64 {
	if t.FirstToken.IsZero() || t.RequestStart.IsZero() {
		return -1
	}
	return float64(t.FirstToken.Sub(t.RequestStart)) / float64(time.Millisecond)
}

// ThroughputTPS returns output tokens/sec, or -1 when the duration is
// under 150ms or there were no output tokens.
func (t Timing) ThroughputTPS(outputTokens int) float64 {
	if t.FirstToken.IsZero() || t.LastToken.IsZero() || outputTokens <= 0 {
		return -1
	}
	d := t.LastToken.Sub(t.FirstToken)
	if d < 150*time.Millisecond {
		return -1
	}
	return float64(outputTokens) / d.Seconds()
}

// TaskMetadata aggregates usage across a task's turns, keyed by model name.
type TaskMetadata struct {
	ModelUsage    map[string]Usage
	SubAgentTasks []TaskMetadata
}

// NewTaskMetadata returns an empty accumulator.
func NewTaskMetadata() TaskMetadata {
	return TaskMetadata{ModelUsage: make(map[string]Usage)}
}

// Add merges a single response's usage into the accumulator for modelName.
func (m *TaskMetadata) Add(modelName string, u Usage) {
	if m.ModelUsage == nil {
		m.ModelUsage = make(map[string]Usage)
	}
	existing := m.ModelUsage[modelName]
	existing.Add(u)
	m.ModelUsage[modelName] = existing
}

// Todo is one entry in the agent's to-do context.
type Todo struct {
	Content    string
	Status     TodoStatus
	ActiveForm string
}

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// SideEffect names a side channel a tool result can signal through.
type SideEffect string

const TodoChange SideEffect = "TODO_CHANGE"

// Item is the tagged-union Conversation Item. Exactly the fields relevant
// to Kind are populated; all others are zero. This mirrors the flat
// discriminated-struct shape used for provider.StreamEvent — one type,
// switched on a Kind/Type field, rather than an interface hierarchy.
type Item struct {
	Kind      Kind
	CreatedAt time.Time
	ResponseID string // carried by items tied to one model response

	// KindUserMessage
	UserParts []UserPart

	// KindAssistantMessageDelta, KindAssistantMessage, KindReasoningText
	Content string

	// KindAssistantMessage
	Annotations []string

	// KindReasoningText, KindReasoningEncrypted
	ModelID string

	// KindReasoningEncrypted
	Blob   string
	Format string // e.g. "anthropic-signature", "responses-encrypted-content"

	// KindToolCallStart, KindToolCall, KindToolResult
	CallID   string
	ToolName string

	// KindToolCall
	ArgumentsJSON json.RawMessage

	// KindToolResult
	Status      ToolStatus
	Output      string
	UIExtra     map[string]any
	SideEffects []SideEffect
	ResultImages []ImageRef
	TruncatedFrom string // on-disk path to the untruncated output, if truncated

	// KindResponseMetadata
	Usage       Usage
	Timing      Timing
	ModelName   string
	Provider    string
	StreamStatus string // "completed" or a provider-specific non-completed status

	// KindTaskMetadata
	Task TaskMetadata

	// KindStreamError
	Err string

	// KindDeveloperMessage
	Reminders     []string
	CommandOutput string
}

// NewStart returns a StartItem.
func NewStart(responseID string) Item {
	return Item{Kind: KindStart, CreatedAt: now(), ResponseID: responseID}
}

// NewUserMessage returns a UserMessage with the given parts.
func NewUserMessage(parts ...UserPart) Item {
	return Item{Kind: KindUserMessage, CreatedAt: now(), UserParts: parts}
}

// NewUserText is a convenience constructor for a plain-text user message.
func NewUserText(text string) Item {
	return NewUserMessage(UserPart{Text: &TextPart{Text: text}})
}

// NewAssistantMessage returns a finalized AssistantMessage.
func NewAssistantMessage(responseID, content string) Item {
	return Item{Kind: KindAssistantMessage, CreatedAt: now(), ResponseID: responseID, Content: content}
}

// NewReasoningText returns a ReasoningTextItem.
func NewReasoningText(responseID, modelID, content string) Item {
	return Item{Kind: KindReasoningText, CreatedAt: now(), ResponseID: responseID, ModelID: modelID, Content: content}
}

// NewReasoningEncrypted returns a ReasoningEncryptedItem.
func NewReasoningEncrypted(responseID, modelID, blob, format string) Item {
	return Item{Kind: KindReasoningEncrypted, CreatedAt: now(), ResponseID: responseID, ModelID: modelID, Blob: blob, Format: format}
}

// NewAssistantMessageDelta returns an incremental text chunk for UI
// streaming. Never persisted to history.
func NewAssistantMessageDelta(responseID, content string) Item {
	return Item{Kind: KindAssistantMessageDelta, CreatedAt: now(), ResponseID: responseID, Content: content}
}

// NewThinkingDelta returns an incremental reasoning chunk for UI
// streaming. Never persisted to history.
func NewThinkingDelta(responseID, content string) Item {
	return Item{Kind: KindThinkingDelta, CreatedAt: now(), ResponseID: responseID, Content: content}
}

// NewToolCallStart returns a ToolCallStartItem. Never persisted to history.
func NewToolCallStart(responseID, callID, name string) Item {
	return Item{Kind: KindToolCallStart, CreatedAt: now(), ResponseID: responseID, CallID: callID, ToolName: name}
}

// NewToolCall returns a finalized ToolCallItem.
func NewToolCall(responseID, callID, name string, args json.RawMessage) Item {
	return Item{Kind: KindToolCall, CreatedAt: now(), ResponseID: responseID, CallID: callID, ToolName: name, ArgumentsJSON: args}
}

// NewToolResult returns a ToolResultItem.
func NewToolResult(callID, toolName string, status ToolStatus, output string) Item {
	return Item{Kind: KindToolResult, CreatedAt: now(), CallID: callID, ToolName: toolName, Status: status, Output: output}
}

// NewResponseMetadata returns a ResponseMetadataItem.
func NewResponseMetadata(responseID, modelName, providerName string, usage Usage) Item {
	return Item{Kind: KindResponseMetadata, CreatedAt: now(), ResponseID: responseID, ModelName: modelName, Provider: providerName, Usage: usage, StreamStatus: "completed"}
}

// NewTaskMetadataItem returns a TaskMetadataItem.
func NewTaskMetadataItem(task TaskMetadata) Item {
	return Item{Kind: KindTaskMetadata, CreatedAt: now(), Task: task}
}

// NewStreamError returns a StreamErrorItem.
func NewStreamError(responseID string, err error) Item {
	return Item{Kind: KindStreamError, CreatedAt: now(), ResponseID: responseID, Err: err.Error()}
}

// NewInterrupt returns an InterruptItem.
func NewInterrupt() Item {
	return Item{Kind: KindInterrupt, CreatedAt: now()}
}

// NewDeveloperMessage returns a DeveloperMessage carrying reminders.
func NewDeveloperMessage(content string, reminders ...string) Item {
	return Item{Kind: KindDeveloperMessage, CreatedAt: now(), Content: content, Reminders: reminders}
}

var nowFn = time.Now

func now() time.Time { return nowFn() }

// IsPersisted reports whether an item of this kind is appended to session
// history. Deltas and tool-call-start signals exist only for UI streaming.
func (k Kind) IsPersisted() bool {
	switch k {
	case KindAssistantMessageDelta, KindThinkingDelta, KindToolCallStart:
		return false
	default:
		return true
	}
}
