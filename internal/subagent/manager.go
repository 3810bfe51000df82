// Package subagent implements the Sub-Agent Manager (spec §4.5): spawning
// an isolated, depth-guarded agent run that shares the parent's provider
// and tool registry but gets its own Session, FileTracker, and
// TodoContext, restricted to the tool subset its kind is allowed.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/ids"
	"github.com/xonecas/symb/internal/llm"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/tools"
	"github.com/xonecas/symb/internal/treesitter"
	"github.com/xonecas/symb/internal/truncate"
)

// Kind selects a sub-agent's role, which determines its system prompt and
// which tools it is allowed to call. All four kinds share one runner;
// only the prompt and tool subset differ.
type Kind string

const (
	KindTask          Kind = "Task"          // general-purpose, full read/write tool access
	KindOracle        Kind = "Oracle"        // read-only investigation and advice
	KindExplore       Kind = "Explore"       // codebase search/navigation, no edits
	KindWebFetchAgent Kind = "WebFetchAgent" // fetch and summarize a URL
)

const (
	// MaxIterations is the default tool-round budget for a sub-agent run.
	MaxIterations = 5
	// MaxAllowedIterations is the upper bound a caller may request.
	MaxAllowedIterations = 20
)

// argPreviewLen bounds how much of a tool call's arguments the partial
// progress report quotes.
const argPreviewLen = 500

// toolNames returns the tool subset a given kind may use. Unknown kinds
// get Read only, the most restricted set.
func toolNames(kind Kind) []string {
	switch kind {
	case KindTask:
		return []string{"Read", "Edit", "Write", "apply_patch", "Bash", "TodoWrite"}
	case KindOracle:
		return []string{"Read", "Bash"}
	case KindWebFetchAgent:
		return []string{"Read"}
	case KindExplore:
		return []string{"Read", "Bash"}
	default:
		return []string{"Read"}
	}
}

func systemPrompt(kind Kind, description string) string {
	var role string
	switch kind {
	case KindTask:
		role = "a focused sub-agent completing a specific task assigned by a parent agent. Use tools as needed, then report what you changed."
	case KindOracle:
		role = "a read-only advisory sub-agent. Investigate the codebase and answer the question; do not attempt edits, you have none of the write tools."
	case KindExplore:
		role = "a codebase exploration sub-agent. Find and report the relevant files, symbols, and structure; do not attempt edits."
	case KindWebFetchAgent:
		role = "a content-summarization sub-agent. Extract and summarize the information the parent agent asked for."
	default:
		role = "a sub-agent completing a narrow task."
	}
	return strings.TrimSpace(fmt.Sprintf(`You are %s

You cannot spawn further sub-agents. You have a limited number of tool rounds; work efficiently and end with a clear final response summarizing what you found or accomplished.

Task: %s`, role, description))
}

// Manager runs sub-agents on behalf of the Task Executor. One Manager is
// shared by every RunSubAgent call in a session; completed child
// sessions are retained in memory so a later call can resume them by id.
type Manager struct {
	Provider  provider.Provider
	ModelID   string
	ModelName string
	WorkDir   string
	Registry  *tools.Registry
	Outline   *treesitter.Index
	Truncate  *truncate.Policy

	// OnItem proxies every item a child run produces onto the parent's
	// event stream, tagged with the child session id. Nil is a no-op.
	OnItem func(sessionID string, item convo.Item)

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// structuredOutputInstruction is appended to a schema-constrained
// sub-agent's system prompt. Only report_back's payload travels to the
// parent; free text is discarded.
const structuredOutputInstruction = `

When your task is complete you MUST call the report_back tool with a payload matching its schema. Only report_back's payload is returned to the caller; any other text you write is discarded.`

// reportBackTool captures the structured payload a schema-constrained
// sub-agent delivers. The arguments schema is the caller's
// output_schema, so the model shapes the payload directly.
type reportBackTool struct {
	schema json.RawMessage

	mu      sync.Mutex
	payload json.RawMessage
}

func (t *reportBackTool) Schema() tools.Schema {
	return tools.Schema{
		Name:        "report_back",
		Description: "Deliver your final structured result. Call exactly once, when the task is complete.",
		Parameters:  t.schema,
	}
}

func (t *reportBackTool) Call(ctx *tools.Context, argsJSON json.RawMessage) (tools.Result, error) {
	t.mu.Lock()
	t.payload = append(json.RawMessage(nil), argsJSON...)
	t.mu.Unlock()
	return tools.Ok("Result recorded."), nil
}

func (t *reportBackTool) take() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.payload) == 0 {
		return "", false
	}
	return string(t.payload), true
}

// Run spawns one sub-agent of the given kind, or resumes a prior child
// session when req.Resume names one, and blocks until it finishes or ctx
// is cancelled. The run always executes its Task Executor at depth 1;
// a sub-agent's Context never carries RunSubAgent, so no call can
// recurse past llm.MaxDepth.
func (m *Manager) Run(ctx context.Context, req tools.SubAgentRequest) (tools.SubAgentResult, error) {
	return m.RunReporting(ctx, req, nil)
}

// RunReporting behaves like Run and additionally hands the child's
// final task metadata to report (when non-nil), so the parent session
// can fold it into its own aggregate.
func (m *Manager) RunReporting(ctx context.Context, req tools.SubAgentRequest, report func(convo.TaskMetadata)) (tools.SubAgentResult, error) {
	k := Kind(req.Kind)

	sess, err := m.sessionFor(req)
	if err != nil {
		return tools.SubAgentResult{}, err
	}
	sess.Append(convo.NewUserText(req.Prompt))

	emit := func(item convo.Item) {
		if m.OnItem != nil {
			m.OnItem(sess.ID, item)
		}
	}

	prompt := systemPrompt(k, req.Description)
	subRegistry := m.Registry.Subset(toolNames(k)...)

	// A caller-supplied output schema wraps the profile: the child gains
	// a report_back tool whose arguments match the schema, and only that
	// payload is handed back upward.
	var reportBack *reportBackTool
	if len(req.OutputSchema) > 0 {
		reportBack = &reportBackTool{schema: req.OutputSchema}
		subRegistry.Register(reportBack)
		prompt += structuredOutputInstruction
	}

	executor := &tools.Executor{
		Registry:  subRegistry,
		Truncate:  m.Truncate,
		SessionID: sess.ID,
		WorkDir:   m.WorkDir,
		Files:     sess.Files,
		Todo:      sess.Todo,
		Outline:   m.Outline,
		OnItem:    emit,
		// RunSubAgent and AskUser are deliberately nil: sub-agents cannot
		// spawn further sub-agents or interrupt the task for user input.
	}

	result, err := llm.RunTask(ctx, llm.TaskOptions{
		TurnOptions: llm.TurnOptions{
			Provider:     m.Provider,
			ModelID:      m.ModelID,
			ModelName:    m.ModelName,
			SystemPrompt: prompt,
			Session:      sess,
			Registry:     subRegistry,
			Executor:     executor,
			OnEvent:      emit,
		},
		MaxToolRounds: MaxIterations,
		Depth:         1,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the parent: report what the child got done
			// rather than surfacing the cancellation as a failure.
			return tools.SubAgentResult{Output: partialReport(sess), SessionID: sess.ID}, nil
		}
		return tools.SubAgentResult{}, fmt.Errorf("sub-agent %s failed: %w", req.Kind, err)
	}

	task := sess.TaskMetadata()
	if report != nil {
		report(task)
	}

	if reportBack != nil {
		if payload, ok := reportBack.take(); ok {
			return tools.SubAgentResult{
				Output:     fmt.Sprintf("%s\n\nagentId: %s", payload, sess.ID),
				SessionID:  sess.ID,
				Structured: true,
			}, nil
		}
		return tools.SubAgentResult{}, fmt.Errorf("sub-agent %s finished without calling report_back", req.Kind)
	}

	final := result.Content
	if final == "" {
		final = lastAssistantText(sess)
	}
	if final == "" {
		return tools.SubAgentResult{}, fmt.Errorf("sub-agent %s produced no final response", req.Kind)
	}

	var totalIn, totalOut int
	for _, u := range task.ModelUsage {
		totalIn += u.InputTokens
		totalOut += u.OutputTokens
	}
	return tools.SubAgentResult{
		Output:    fmt.Sprintf("%s\n\n---\nToken usage: %d in, %d out\nagentId: %s", final, totalIn, totalOut, sess.ID),
		SessionID: sess.ID,
	}, nil
}

// sessionFor loads the resumable child session req names, or creates a
// fresh one. Child sessions live only in this Manager's memory — they
// are never persisted to the store (spec §4.5 isolation) — so resume
// reaches exactly the sessions spawned earlier in this process.
func (m *Manager) sessionFor(req tools.SubAgentRequest) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*session.Session)
	}
	if req.Resume != "" {
		sess, ok := m.sessions[req.Resume]
		if !ok {
			return nil, fmt.Errorf("no sub-agent session %q to resume", req.Resume)
		}
		return sess, nil
	}
	sess := session.New(ids.NewSessionID(), m.WorkDir, nil)
	m.sessions[sess.ID] = sess
	return sess, nil
}

// partialReport renders the cancelled child's tool activity as a bullet
// list, each call marked completed or interrupted, plus any partial
// assistant text.
func partialReport(sess *session.Session) string {
	hist := sess.History()
	resolved := make(map[string]bool)
	for _, item := range hist {
		if item.Kind == convo.KindToolResult {
			resolved[item.CallID] = item.Output != "Interrupted"
		}
	}

	var b strings.Builder
	b.WriteString("[interrupted] Partial sub-agent progress:\n")
	for _, item := range hist {
		if item.Kind != convo.KindToolCall {
			continue
		}
		args := string(item.ArgumentsJSON)
		if len(args) > argPreviewLen {
			args = args[:argPreviewLen]
		}
		status := "interrupted"
		if resolved[item.CallID] {
			status = "completed"
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", item.ToolName, args, status)
	}
	if text := lastAssistantText(sess); text != "" {
		b.WriteString("\nPartial response:\n")
		b.WriteString(text)
	}
	b.WriteString("\nagentId: " + sess.ID)
	return b.String()
}

func lastAssistantText(sess *session.Session) string {
	hist := sess.History()
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Kind == convo.KindAssistantMessage && hist[i].Content != "" {
			return hist[i].Content
		}
	}
	return ""
}
