// Package executor implements the Executor (Submission Bus): the single
// entry point a UI submits opaque operations to (init_agent, user_input,
// interrupt), and the single ordered event queue it reads back from.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/ids"
	"github.com/xonecas/symb/internal/llm"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/store"
	"github.com/xonecas/symb/internal/subagent"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/treesitter"
	"github.com/xonecas/symb/internal/truncate"
)

// OpKind names the three operations a UI may submit, per spec §4.7.
type OpKind string

const (
	OpInitAgent OpKind = "init_agent"
	OpUserInput OpKind = "user_input"
	OpInterrupt OpKind = "interrupt"
)

// Operation is one opaque unit of work placed on the bus.
type Operation struct {
	Kind            OpKind
	SessionID       string // target for user_input/interrupt; requested id for init_agent
	Text            string
	Images          []convo.ImageRef
	TargetSessionID string // interrupt's target; empty means "all sessions"
}

// Event is one item emitted to the bus's subscribers, tagged with the
// session it belongs to. Terminal marks the event that resolves a
// pending wait_for(id) call; a terminal event for a user_input carries
// the task's final assistant text in TaskResult.
type Event struct {
	SessionID  string
	Item       convo.Item
	HasItem    bool
	Terminal   bool
	TaskResult string
	Err        error
}

// AgentProfile is the agent configuration an init_agent operation builds
// a session against: the active LLM client plus the tool surface it is
// allowed to use. One Bus runs against one profile.
type AgentProfile struct {
	Provider     provider.Provider
	ModelID      string
	ModelName    string
	SystemPrompt string
	Registry     *tools.Registry
	Outline      *treesitter.Index
	LSP          *lsp.Manager
	WorkDir      string
	Store        *store.Cache

	// AskUser resolves an AskUserQuestion tool call. Nil disables the
	// tool (it reports the session as non-interactive).
	AskUser func(ctx context.Context, question string, options []string) (string, error)
}

type agentState struct {
	session *session.Session
	running sync.Mutex // held while a Task Executor is in flight

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	lastTurn int64 // most recent delta-tracked turn, for undo
}

// Bus owns the FIFO operation queue, the active agents it has spawned,
// and the single event output queue every subscriber reads from.
type Bus struct {
	profile AgentProfile
	trunc   *truncate.Policy
	subMgr  *subagent.Manager
	deltas  *delta.Tracker

	opQueue chan queuedOp
	events  chan Event

	mu        sync.Mutex
	agents    map[string]*agentState
	waits     map[string]chan struct{}
	turnCount int64

	runWG sync.WaitGroup
}

type queuedOp struct {
	id string
	op Operation
}

// New returns a Bus for profile. truncDir backs the Tool Executor's
// truncation cache (spec §4.3).
func New(profile AgentProfile, truncDir string) *Bus {
	trunc := truncate.New(truncDir)
	b := &Bus{
		profile: profile,
		trunc:   trunc,
		opQueue: make(chan queuedOp, 64),
		events:  make(chan Event, 256),
		agents:  make(map[string]*agentState),
		waits:   make(map[string]chan struct{}),
	}
	if db := profile.Store.DB(); db != nil {
		b.deltas = delta.New(db)
	}
	b.subMgr = &subagent.Manager{
		Provider:  profile.Provider,
		ModelID:   profile.ModelID,
		ModelName: profile.ModelName,
		WorkDir:   profile.WorkDir,
		Registry:  profile.Registry,
		Outline:   profile.Outline,
		Truncate:  trunc,
		OnItem: func(sessionID string, item convo.Item) {
			b.emit(Event{SessionID: sessionID, Item: item, HasItem: true})
		},
	}
	return b
}

// Events returns the bus's single ordered output queue.
func (b *Bus) Events() <-chan Event { return b.events }

// Submit enqueues op and returns its submission id. Dispatch order
// matches submission order (spec §4.7's FIFO operation queue).
func (b *Bus) Submit(op Operation) string {
	id := ids.NewSubmissionID()
	b.mu.Lock()
	b.waits[id] = make(chan struct{})
	b.mu.Unlock()
	b.opQueue <- queuedOp{id: id, op: op}
	return id
}

// WaitFor blocks until submission id's terminal event has been enqueued.
func (b *Bus) WaitFor(id string) {
	b.mu.Lock()
	ch, ok := b.waits[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	<-ch
}

func (b *Bus) resolve(id string) {
	b.mu.Lock()
	ch, ok := b.waits[id]
	delete(b.waits, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Run drains the operation queue, dispatching each in order, until ctx is
// cancelled. init_agent and interrupt are handled synchronously inline;
// user_input spawns the Task Executor in its own goroutine so a
// long-running task never blocks the dispatch of the next operation
// (spec §4.7's suspension points are per-task, not bus-wide).
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.runWG.Wait()
			return
		case qo := <-b.opQueue:
			b.dispatch(ctx, qo)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, qo queuedOp) {
	switch qo.op.Kind {
	case OpInitAgent:
		b.handleInitAgent(qo)
	case OpUserInput:
		b.runWG.Add(1)
		go func() {
			defer b.runWG.Done()
			b.handleUserInput(ctx, qo)
		}()
	case OpInterrupt:
		b.handleInterrupt(qo)
	default:
		b.emit(Event{SessionID: qo.op.SessionID, Terminal: true, Err: fmt.Errorf("unknown operation %q", qo.op.Kind)})
		b.resolve(qo.id)
	}
}

func (b *Bus) handleInitAgent(qo queuedOp) {
	sid := qo.op.SessionID
	if sid == "" {
		sid = ids.NewSessionID()
	}

	b.mu.Lock()
	st, exists := b.agents[sid]
	b.mu.Unlock()

	var sess *session.Session
	var replay []convo.Item
	if exists {
		sess = st.session
		replay = sess.History()
	} else if b.profile.Store != nil {
		if ok, _ := b.profile.Store.SessionExists(sid); ok {
			s, err := session.Resume(sid, b.profile.WorkDir, b.profile.Store)
			if err != nil {
				b.emit(Event{SessionID: sid, Terminal: true, Err: err})
				b.resolve(qo.id)
				return
			}
			sess = s
			replay = sess.History()
			b.registerAgent(sid, sess)
		}
	}
	if sess == nil {
		sess = session.New(sid, b.profile.WorkDir, b.profile.Store)
		b.registerAgent(sid, sess)
	}

	b.emit(Event{SessionID: sid, Item: convo.NewStart(sid), HasItem: true})
	for _, item := range replay {
		b.emit(Event{SessionID: sid, Item: item, HasItem: true})
	}
	b.emit(Event{SessionID: sid, Terminal: true})
	b.resolve(qo.id)
}

func (b *Bus) registerAgent(sid string, sess *session.Session) {
	b.mu.Lock()
	b.agents[sid] = &agentState{session: sess}
	b.mu.Unlock()
}

func (b *Bus) handleUserInput(ctx context.Context, qo queuedOp) {
	sid := qo.op.SessionID
	b.mu.Lock()
	st, ok := b.agents[sid]
	b.mu.Unlock()
	if !ok {
		b.emit(Event{SessionID: sid, Terminal: true, Err: fmt.Errorf("no active agent for session %s; submit init_agent first", sid)})
		b.resolve(qo.id)
		return
	}

	st.running.Lock()
	defer st.running.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	st.cancelMu.Lock()
	st.cancel = cancel
	st.cancelMu.Unlock()
	defer cancel()

	if b.deltas != nil {
		b.mu.Lock()
		b.turnCount++
		turn := b.turnCount
		b.mu.Unlock()
		b.deltas.SetSession(sid)
		b.deltas.BeginTurn(turn)
		st.cancelMu.Lock()
		st.lastTurn = turn
		st.cancelMu.Unlock()
	}

	var parts []convo.UserPart
	parts = append(parts, convo.UserPart{Text: &convo.TextPart{Text: qo.op.Text}})
	for _, img := range qo.op.Images {
		img := img
		parts = append(parts, convo.UserPart{Image: &img})
	}
	userItem := convo.NewUserMessage(parts...)
	st.session.Append(userItem)
	b.emit(Event{SessionID: sid, Item: userItem, HasItem: true})

	// partial tracks the latest assistant text so an interrupted task can
	// still report what it had (spec §4.6's cancellation semantics).
	var partialMu sync.Mutex
	var partial string
	onEvent := func(item convo.Item) {
		if item.Kind == convo.KindAssistantMessage && item.Content != "" {
			partialMu.Lock()
			partial = item.Content
			partialMu.Unlock()
		}
		b.emit(Event{SessionID: sid, Item: item, HasItem: true})
	}

	executor := &tools.Executor{
		Registry:    b.profile.Registry,
		Truncate:    b.trunc,
		SessionID:   sid,
		WorkDir:     b.profile.WorkDir,
		Files:       st.session.Files,
		Todo:        st.session.Todo,
		Outline:     b.profile.Outline,
		Deltas: b.deltas,
		LSP:    b.profile.LSP,
		RunSubAgent: func(ctx context.Context, req tools.SubAgentRequest) (tools.SubAgentResult, error) {
			return b.subMgr.RunReporting(ctx, req, st.session.AddSubAgentTask)
		},
		AskUser: b.profile.AskUser,
		OnItem:  onEvent,
	}

	result, err := llm.RunTask(taskCtx, llm.TaskOptions{
		TurnOptions: llm.TurnOptions{
			Provider:     b.profile.Provider,
			ModelID:      b.profile.ModelID,
			ModelName:    b.profile.ModelName,
			SystemPrompt: b.profile.SystemPrompt,
			Session:      st.session,
			Registry:     b.profile.Registry,
			Executor:     executor,
			OnEvent:      onEvent,
		},
		Reminders: llm.DefaultReminders(),
		OnError: func(message string, canRetry bool) {
			b.emit(Event{SessionID: sid, Err: errors.New(message)})
		},
		Depth: 0,
	})

	taskResult := result.Content
	if err != nil {
		if taskCtx.Err() != nil {
			interrupt := convo.NewInterrupt()
			st.session.Append(interrupt)
			b.emit(Event{SessionID: sid, Item: interrupt, HasItem: true})
			partialMu.Lock()
			taskResult = partial
			partialMu.Unlock()
		} else {
			b.emit(Event{SessionID: sid, Err: err})
		}
	}

	task := convo.NewTaskMetadataItem(st.session.TaskMetadata())
	st.session.Append(task)
	st.session.WaitForFlush()
	b.emit(Event{SessionID: sid, Item: task, HasItem: true, Terminal: true, TaskResult: taskResult})
	b.resolve(qo.id)
}

func (b *Bus) handleInterrupt(qo queuedOp) {
	target := qo.op.TargetSessionID

	b.mu.Lock()
	var targets []*agentState
	if target == "" {
		for _, st := range b.agents {
			targets = append(targets, st)
		}
	} else if st, ok := b.agents[target]; ok {
		targets = append(targets, st)
	}
	b.mu.Unlock()

	for _, st := range targets {
		st.cancelMu.Lock()
		if st.cancel != nil {
			st.cancel()
		}
		st.cancelMu.Unlock()
	}
	b.emit(Event{SessionID: target, Terminal: true})
	b.resolve(qo.id)
}

// Undo reverses the filesystem changes of sessionID's most recent
// delta-tracked turn and returns the affected paths. Each turn can be
// undone once; the delta records are deleted after replay.
func (b *Bus) Undo(sessionID string) ([]string, error) {
	if b.deltas == nil {
		return nil, errors.New("undo unavailable: no store configured")
	}
	b.mu.Lock()
	st, ok := b.agents[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active agent for session %s", sessionID)
	}

	st.cancelMu.Lock()
	turn := st.lastTurn
	st.lastTurn = 0
	st.cancelMu.Unlock()
	if turn == 0 {
		return nil, errors.New("nothing to undo")
	}

	affected, err := b.deltas.Undo(sessionID, turn)
	if err != nil {
		return nil, err
	}
	b.deltas.DeleteTurn(sessionID, turn)

	// Undone files no longer match the tracker's last observation; let
	// the staleness guard force a re-read rather than guessing here.
	return affected, nil
}

func (b *Bus) emit(evt Event) {
	b.events <- evt
}
