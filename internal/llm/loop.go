// Package llm implements the Provider Adapter, Turn Executor, and Task
// Executor: turning a provider's wire-protocol stream into Conversation
// Items, running one provider call plus its tool calls, and repeating
// turns until the agent has nothing left to do.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/constants"
	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/ids"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/tools"
)

// MaxDepth is the maximum sub-agent recursion depth (spec §4.5: no
// nested spawning beyond one level).
const MaxDepth = 1

// adapterResult is what one Provider Adapter pass over a stream yields:
// the finalized Conversation Items for history, plus the pieces the
// Turn/Task Executors branch on.
type adapterResult struct {
	ResponseID string
	// Items is the persisted record of the turn, in the order history
	// requires: Start, reasoning (text then encrypted), one assistant
	// message, tool calls, response metadata.
	Items     []convo.Item
	ToolCalls []convo.Item // KindToolCall subset of Items, finalized
	Content   string
	Usage     convo.Usage
}

// streamAccumulator assembles one response from raw provider events:
// reasoning and content text grow by concatenation, encrypted reasoning
// blobs collect in arrival order, and tool calls build per wire index.
// It is the single stream state machine every wire protocol feeds,
// regardless of how that protocol frames its events.
type streamAccumulator struct {
	reasoning  string
	signatures []provider.StreamEvent // EventReasoningSignature events, in order
	content    string
	usage      convo.Usage
	timing     convo.Timing
	tca        *toolCallAccumulator
}

// mark stamps first/last-token times as stream events arrive, feeding
// the latency and throughput figures on the response metadata.
func (acc *streamAccumulator) mark() {
	now := time.Now()
	if acc.timing.FirstToken.IsZero() {
		acc.timing.FirstToken = now
	}
	acc.timing.LastToken = now
}

// toolCallAccumulator tracks tool calls as they stream in, by index, and
// fills in a synthetic call id via internal/ids when the wire protocol
// doesn't hand one back (some OpenAI-compatible backends omit it until
// the final chunk).
type toolCallAccumulator struct {
	byIndex     map[int]int
	calls       []provider.ToolCall
	argBuilders []string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) begin(evt provider.StreamEvent) string {
	id := evt.ToolCallID
	if id == "" {
		id = ids.NewCallID()
	}
	pos := len(a.calls)
	a.byIndex[evt.ToolCallIndex] = pos
	a.calls = append(a.calls, provider.ToolCall{ID: id, Name: evt.ToolCallName})
	a.argBuilders = append(a.argBuilders, "")
	return id
}

func (a *toolCallAccumulator) delta(evt provider.StreamEvent) {
	if pos, ok := a.byIndex[evt.ToolCallIndex]; ok {
		a.argBuilders[pos] += evt.ToolCallArgs
	}
}

func (a *toolCallAccumulator) finalize() []provider.ToolCall {
	for i := range a.calls {
		if i < len(a.argBuilders) {
			a.calls[i].Arguments = json.RawMessage(a.argBuilders[i])
		}
	}
	return a.calls
}

// RunProviderAdapter streams one provider call and converts the wire
// events into Conversation Items. onEvent receives UI-facing items as
// they happen: the StartItem as soon as the response id exists, one
// AssistantMessageDelta/ThinkingDelta per text chunk, and a
// ToolCallStart as soon as each call's name is known. Finalized
// ToolCallItems are NOT forwarded here — the Tool Executor emits the
// ToolCallEvent at invocation time, so forwarding both would render
// every call twice. On stream failure a StreamError is forwarded,
// followed by a ResponseMetadata carrying whatever usage was seen.
//
// modelID tags reasoning items so session.BuildLLMInput's re-emission
// rule (§3 rule 4) can tell same-model reasoning from stale reasoning.
func RunProviderAdapter(ctx context.Context, prov provider.Provider, modelID string, messages []provider.Message, toolDefs []provider.Tool, onEvent func(convo.Item)) (*adapterResult, error) {
	const maxEmptyRetries = 1
	responseID := ids.NewResponseID()
	emit := onEvent
	if emit == nil {
		emit = func(convo.Item) {}
	}

	emit(convo.NewStart(responseID))

	for attempt := 0; attempt <= maxEmptyRetries; attempt++ {
		stream, err := prov.ChatStream(ctx, messages, toolDefs)
		if err != nil {
			emit(convo.NewStreamError(responseID, err))
			emit(convo.NewResponseMetadata(responseID, modelID, prov.Name(), convo.Usage{}))
			return nil, err
		}

		acc, err := collectStream(stream, responseID, emit)
		if err != nil {
			emit(convo.NewStreamError(responseID, err))
			meta := convo.NewResponseMetadata(responseID, modelID, prov.Name(), acc.usage)
			meta.StreamStatus = "error"
			emit(meta)
			return nil, err
		}

		res := finalizeResponse(acc, responseID, modelID, prov.Name())
		if res != nil {
			for _, item := range res.Items {
				if item.Kind != convo.KindToolCall && item.Kind != convo.KindStart {
					emit(item)
				}
			}
			return res, nil
		}

		log.Warn().Str("provider", prov.Name()).Int("attempt", attempt+1).Msg("empty response from provider")
	}

	err := fmt.Errorf("empty response from provider %s", prov.Name())
	emit(convo.NewStreamError(responseID, err))
	emit(convo.NewResponseMetadata(responseID, modelID, prov.Name(), convo.Usage{}))
	return nil, err
}

// collectStream reads every event off ch, forwarding delta items
// immediately (they are UI-only signals, never persisted) and
// accumulating the response for finalizeResponse.
func collectStream(ch <-chan provider.StreamEvent, responseID string, emit func(convo.Item)) (*streamAccumulator, error) {
	acc := &streamAccumulator{tca: newToolCallAccumulator()}
	acc.timing.RequestStart = time.Now()

	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			acc.mark()
			acc.content += evt.Content
			emit(convo.NewAssistantMessageDelta(responseID, evt.Content))
		case provider.EventReasoningDelta:
			acc.mark()
			acc.reasoning += evt.Content
			emit(convo.NewThinkingDelta(responseID, evt.Content))
		case provider.EventReasoningSignature:
			acc.mark()
			acc.signatures = append(acc.signatures, evt)
		case provider.EventToolCallBegin:
			acc.mark()
			id := acc.tca.begin(evt)
			emit(convo.NewToolCallStart(responseID, id, evt.ToolCallName))
		case provider.EventToolCallDelta:
			acc.mark()
			acc.tca.delta(evt)
		case provider.EventUsage:
			if evt.InputTokens > acc.usage.InputTokens {
				acc.usage.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > acc.usage.OutputTokens {
				acc.usage.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return acc, evt.Err
		case provider.EventDone:
			// finalize below
		}
	}
	return acc, nil
}

// finalizeResponse turns an accumulated stream into the persisted item
// sequence, in the order history mandates: reasoning text, encrypted
// reasoning, exactly one assistant message (possibly empty when the
// model went straight to tools), tool calls, metadata. Returns nil for
// a fully empty response so the adapter can retry once.
func finalizeResponse(acc *streamAccumulator, responseID, modelID, providerName string) *adapterResult {
	toolCalls := acc.tca.finalize()
	if acc.content == "" && acc.reasoning == "" && len(toolCalls) == 0 {
		return nil
	}

	res := &adapterResult{ResponseID: responseID, Content: acc.content, Usage: acc.usage}
	res.Items = append(res.Items, convo.NewStart(responseID))
	if acc.reasoning != "" {
		res.Items = append(res.Items, convo.NewReasoningText(responseID, modelID, acc.reasoning))
	}
	for _, sig := range acc.signatures {
		res.Items = append(res.Items, convo.NewReasoningEncrypted(responseID, modelID, sig.Content, sig.Format))
	}
	res.Items = append(res.Items, convo.NewAssistantMessage(responseID, acc.content))
	for _, tc := range toolCalls {
		item := convo.NewToolCall(responseID, tc.ID, tc.Name, tc.Arguments)
		res.Items = append(res.Items, item)
		res.ToolCalls = append(res.ToolCalls, item)
	}
	meta := convo.NewResponseMetadata(responseID, modelID, providerName, acc.usage)
	meta.Timing = acc.timing
	res.Items = append(res.Items, meta)
	return res
}

// TurnOptions configures one Turn Executor pass: one provider call, plus
// execution of whatever tool calls it produced.
type TurnOptions struct {
	Provider     provider.Provider
	ModelID      string
	ModelName    string
	SystemPrompt string
	Session      *session.Session
	Registry     *tools.Registry
	Executor     *tools.Executor
	Parallel     bool

	// OnEvent receives every UI-facing item the turn produces, in
	// emission order: stream deltas, finalized items, and (via the Tool
	// Executor's own OnItem) tool calls and results. Nil is a valid
	// no-op sink.
	OnEvent func(convo.Item)
}

// TurnResult summarizes one executed turn for the Task Executor.
type TurnResult struct {
	ToolCallCount int
	Content       string
}

// RunTurn executes one turn: builds the provider-facing history from the
// session's item log, streams the response, and — only on success —
// appends the turn's items to history (a failed turn leaves no history
// trace, so a retry re-sends the identical history). Tool calls, if
// any, run through the Tool Executor and their results are appended too.
func RunTurn(ctx context.Context, opts TurnOptions) (TurnResult, error) {
	messages := session.BuildLLMInput(opts.SystemPrompt, opts.Session.History(), opts.ModelID)
	providerTools := opts.Registry.Schemas()

	res, err := RunProviderAdapter(ctx, opts.Provider, opts.ModelID, messages, providerTools, opts.OnEvent)
	if err != nil {
		return TurnResult{}, fmt.Errorf("provider adapter: %w", err)
	}

	opts.Session.Append(res.Items...)
	opts.Session.AccumulateUsage(opts.ModelName, res.Usage)

	if len(res.ToolCalls) == 0 {
		return TurnResult{Content: res.Content}, nil
	}

	results := opts.Executor.Run(ctx, res.ToolCalls, opts.Parallel)
	for _, r := range results {
		opts.Session.Append(r)
	}
	return TurnResult{ToolCallCount: len(res.ToolCalls), Content: res.Content}, nil
}

// MaxToolRoundsDefault bounds a single task's tool-calling rounds absent
// an explicit override, matching the donor loop's default.
const MaxToolRoundsDefault = 60

// reminderInterval is the number of rounds between synthetic plan
// reminders injected into the tail of history, keeping a long tool loop
// oriented on its own to-do list.
const reminderInterval = 10

// repeatedCallWindow is how many trailing tool calls TaskExecutor
// compares to detect the model looping on an identical call.
const repeatedCallWindow = 3

// Reminder inspects the session before a turn and returns a developer
// message to inject, or nil when it has nothing to say. Reminders run in
// declared order before every turn of the task; round is the zero-based
// tool round, so a reminder can hold back until a task has proven
// multi-step.
type Reminder func(s *session.Session, round int) *convo.Item

// FileChangedReminder warns the model when tracked files changed on disk
// outside its own edits, so it re-reads before the edit tools refuse.
func FileChangedReminder(s *session.Session, round int) *convo.Item {
	stale := s.Files.StaleFiles()
	if len(stale) == 0 {
		return nil
	}
	msg := "The following files changed on disk since you last read them; re-read before editing:"
	for _, p := range stale {
		msg += "\n- " + p
	}
	item := convo.NewDeveloperMessage(msg, "file_changed_externally")
	return &item
}

// emptyTodoAfterRounds is how many tool rounds a task runs before an
// empty plan is worth nagging about; short tasks never see it.
const emptyTodoAfterRounds = 3

// EmptyTodoReminder nudges the model toward TodoWrite on multi-round
// tasks that never set up a plan.
func EmptyTodoReminder(s *session.Session, round int) *convo.Item {
	if round < emptyTodoAfterRounds || !s.Todo.Empty() {
		return nil
	}
	item := convo.NewDeveloperMessage(
		"Your to-do list is empty. For multi-step work, record a plan with TodoWrite so progress stays visible.",
		"empty_todo")
	return &item
}

// todoStaleAfterItems is how far back TodoNotUsedRecentlyReminder looks
// for a TodoWrite result before considering the plan abandoned.
const todoStaleAfterItems = 16

// TodoNotUsedRecentlyReminder fires when a plan exists with open items
// but the model hasn't touched it for a stretch of history, so statuses
// drift out of date.
func TodoNotUsedRecentlyReminder(s *session.Session, round int) *convo.Item {
	if round == 0 || s.Todo.Empty() {
		return nil
	}
	open := false
	for _, todo := range s.Todo.Get() {
		if todo.Status != convo.TodoCompleted {
			open = true
			break
		}
	}
	if !open {
		return nil
	}

	hist := s.History()
	start := len(hist) - todoStaleAfterItems
	if start < 0 {
		return nil // plan was written recently enough to still be in the window
	}
	for _, item := range hist[start:] {
		if item.Kind == convo.KindToolResult && item.ToolName == "TodoWrite" {
			return nil
		}
	}
	item := convo.NewDeveloperMessage(
		"Your to-do list has open items but hasn't been updated in a while. Mark finished items completed and set the current one in_progress with TodoWrite.",
		"todo_not_used_recently")
	return &item
}

// DefaultReminders is the main agent's reminder list, in firing order.
// Sub-agents run with none: their tasks are single-shot and have no
// plan surface worth nagging about.
func DefaultReminders() []Reminder {
	return []Reminder{
		EmptyTodoReminder,
		TodoNotUsedRecentlyReminder,
		FileChangedReminder,
	}
}

// TaskOptions configures the Task Executor / Agent Loop: repeated Turns
// until the model stops calling tools, or the round budget runs out.
type TaskOptions struct {
	TurnOptions
	MaxToolRounds int
	Depth         int
	Reminders     []Reminder

	// OnError is invoked for each failed turn, before a retry (canRetry
	// true) or before giving up (canRetry false). Nil is a no-op sink.
	OnError func(message string, canRetry bool)
}

// TaskResult is what a completed agent loop reports upward.
type TaskResult struct {
	Content string // final assistant message content, "" if none
}

// RunTask drives the agent loop: alternating provider turns and tool
// execution until a turn produces no tool calls, retrying failed turns
// with exponential backoff, injecting reminders before each turn and a
// warning if the model repeats the same call three times running.
func RunTask(ctx context.Context, opts TaskOptions) (TaskResult, error) {
	if opts.Depth > MaxDepth {
		return TaskResult{}, fmt.Errorf("max sub-agent depth exceeded: %d > %d", opts.Depth, MaxDepth)
	}
	maxRounds := opts.MaxToolRounds
	if maxRounds == 0 {
		maxRounds = MaxToolRoundsDefault
	}

	var recent []string
	for round := 0; round < maxRounds; round++ {
		runReminders(opts, round)

		turn, err := runTurnWithRetry(ctx, opts)
		if err != nil {
			return TaskResult{}, err
		}
		if turn.ToolCallCount == 0 {
			return TaskResult{Content: turn.Content}, nil
		}

		for _, item := range lastNToolCalls(opts.Session, turn.ToolCallCount) {
			recent = append(recent, item.ToolName+"\x00"+string(item.ArgumentsJSON))
		}
		if len(recent) >= repeatedCallWindow {
			tail := recent[len(recent)-repeatedCallWindow:]
			if allEqual(tail) {
				opts.Session.Append(convo.NewDeveloperMessage(
					"WARNING: you are repeating the same tool call with the same arguments. Stop and either try a different approach, summarize what you know, or ask the user for help."))
			}
		}

		if err := ctx.Err(); err != nil {
			return TaskResult{}, err
		}
	}

	opts.Session.Append(convo.NewUserText("You have exhausted your tool call limit for this turn. Respond in text only. Summarize what you accomplished and what remains."))
	turn, err := runTurnWithRetry(ctx, opts)
	if err != nil {
		return TaskResult{}, fmt.Errorf("final text-only turn: %w", err)
	}
	return TaskResult{Content: turn.Content}, nil
}

// runTurnWithRetry runs one turn, retrying transient stream failures
// with exponential backoff. A failed attempt left nothing in history
// (see RunTurn), so every retry re-sends the identical conversation.
func runTurnWithRetry(ctx context.Context, opts TaskOptions) (TurnResult, error) {
	for attempt := 1; ; attempt++ {
		turn, err := RunTurn(ctx, opts.TurnOptions)
		if err == nil {
			return turn, nil
		}
		if ctx.Err() != nil {
			return TurnResult{}, err
		}
		if attempt >= constants.MaxFailedTurnRetries {
			notifyError(opts, fmt.Sprintf("Giving up after %d attempts - %v", attempt, err), false)
			return TurnResult{}, err
		}

		delay := constants.InitialRetryDelay << (attempt - 1)
		if delay > constants.MaxRetryDelay {
			delay = constants.MaxRetryDelay
		}
		notifyError(opts, fmt.Sprintf("Retrying %d/%d in %s - %v", attempt, constants.MaxFailedTurnRetries, delay, err), true)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TurnResult{}, err
		case <-timer.C:
		}
	}
}

func notifyError(opts TaskOptions, message string, canRetry bool) {
	if opts.OnError != nil {
		opts.OnError(message, canRetry)
	}
}

// runReminders injects any firing reminder as a developer message, plus
// the periodic plan recitation. Duplicate reminder kinds within one
// task are suppressed by checking the trailing history window.
func runReminders(opts TaskOptions, round int) {
	for _, r := range opts.Reminders {
		if item := r(opts.Session, round); item != nil && !recentlyReminded(opts.Session, item.Reminders) {
			opts.Session.Append(*item)
			if opts.OnEvent != nil {
				opts.OnEvent(*item)
			}
		}
	}
	injectRecitation(opts.Session, round)
}

// recentlyReminded reports whether a developer message carrying any of
// the given reminder kinds already sits in the trailing history window.
func recentlyReminded(s *session.Session, kinds []string) bool {
	if len(kinds) == 0 {
		return false
	}
	hist := s.History()
	start := len(hist) - reminderInterval
	if start < 0 {
		start = 0
	}
	for _, item := range hist[start:] {
		if item.Kind != convo.KindDeveloperMessage {
			continue
		}
		for _, have := range item.Reminders {
			for _, want := range kinds {
				if have == want {
					return true
				}
			}
		}
	}
	return false
}

func allEqual(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func lastNToolCalls(s *session.Session, n int) []convo.Item {
	hist := s.History()
	var calls []convo.Item
	for i := len(hist) - 1; i >= 0 && len(calls) < n; i-- {
		if hist[i].Kind == convo.KindToolCall {
			calls = append(calls, hist[i])
		}
	}
	return calls
}

// injectRecitation appends a developer-message reminder carrying the
// session's current plan every reminderInterval rounds, the same
// anti-drift idiom the turn loop has always used, generalized from a
// ScratchpadReader to session.TodoContext.
func injectRecitation(s *session.Session, round int) {
	if round == 0 || round%reminderInterval != 0 {
		return
	}
	plan := s.Todo.Recitation()
	if plan == "" {
		return
	}
	s.Append(convo.NewDeveloperMessage(plan))
}
