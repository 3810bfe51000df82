package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/treesitter"
	"github.com/xonecas/symb/internal/truncate"
)

// Run caps concurrency at len(batch); there is no
// global worker pool (spec §4.2.2 rule 6).

// Executor runs a batch of ToolCallItems against a Registry and turns
// each into a ToolResultItem, applying truncation and surfacing
// TODO_CHANGE side effects as it goes.
type Executor struct {
	Registry  *Registry
	Truncate  *truncate.Policy
	SessionID string
	WorkDir   string
	Files     *session.FileTracker
	Todo      *session.TodoContext
	Outline   *treesitter.Index
	Deltas    *delta.Tracker
	LSP       *lsp.Manager

	RunSubAgent func(ctx context.Context, req SubAgentRequest) (SubAgentResult, error)
	AskUser     func(ctx context.Context, question string, options []string) (string, error)

	// OnItem is invoked with every ToolCallItem/ToolResultItem the batch
	// produces, before truncation for calls and after for results. Nil is
	// a valid no-op sink.
	OnItem func(convo.Item)

	// OnTodoChange is invoked with the new to-do list whenever a result
	// carries the TodoChange side effect.
	OnTodoChange func([]convo.Todo)
}

// Run executes every call in calls. If parallel is false, or the batch
// has one entry, calls run sequentially in order; otherwise all calls
// run concurrently, bounded by len(calls).
func (e *Executor) Run(ctx context.Context, calls []convo.Item, parallel bool) []convo.Item {
	results := make([]convo.Item, len(calls))

	run := func(i int) {
		results[i] = e.runOne(ctx, calls[i])
	}

	if !parallel || len(calls) <= 1 {
		for i := range calls {
			run(i)
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run(i)
		}(i)
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, call convo.Item) convo.Item {
	e.emit(call)

	if ctx.Err() != nil {
		return e.finish(convo.NewToolResult(call.CallID, call.ToolName, convo.StatusError, "Interrupted"))
	}

	tool := e.Registry.Lookup(call.ToolName)
	if tool == nil {
		return e.finish(convo.NewToolResult(call.CallID, call.ToolName, convo.StatusError,
			fmt.Sprintf("Unknown tool: %s", call.ToolName)))
	}

	var args json.RawMessage = call.ArgumentsJSON
	if !json.Valid(args) {
		return e.finish(convo.NewToolResult(call.CallID, call.ToolName, convo.StatusError,
			fmt.Sprintf("Invalid arguments: %s", call.ArgumentsJSON)))
	}

	tc := &Context{
		Context:     ctx,
		SessionID:   e.SessionID,
		WorkDir:     e.WorkDir,
		Files:       e.Files,
		Todo:        e.Todo,
		Outline:     e.Outline,
		Deltas:      e.Deltas,
		LSP:         e.LSP,
		RunSubAgent: e.RunSubAgent,
		AskUser:     e.AskUser,
	}

	res, err := tool.Call(tc, args)
	if ctx.Err() != nil {
		// The batch was cancelled while this call was in flight; the
		// synthetic result is the executor's, not the tool's.
		return e.finish(convo.NewToolResult(call.CallID, call.ToolName, convo.StatusError, "Interrupted"))
	}
	if err != nil {
		return e.finish(convo.NewToolResult(call.CallID, call.ToolName, convo.StatusError, err.Error()))
	}

	output := res.Output
	if call.ToolName != "Read" {
		tr := e.Truncate.Apply(call.CallID, output)
		item := convo.NewToolResult(call.CallID, call.ToolName, res.Status, tr.Output)
		item.TruncatedFrom = tr.SourcePath
		item.UIExtra = res.UIExtra
		item.SideEffects = res.SideEffects
		item.ResultImages = res.Images
		return e.finish(item)
	}

	item := convo.NewToolResult(call.CallID, call.ToolName, res.Status, output)
	item.UIExtra = res.UIExtra
	item.SideEffects = res.SideEffects
	item.ResultImages = res.Images
	return e.finish(item)
}

// finish emits the result/todo-change events and returns the item for
// the caller to fold into history.
func (e *Executor) finish(item convo.Item) convo.Item {
	e.emit(item)
	for _, se := range item.SideEffects {
		if se == convo.TodoChange && e.Todo != nil && e.OnTodoChange != nil {
			e.OnTodoChange(e.Todo.Get())
		}
	}
	return item
}

func (e *Executor) emit(item convo.Item) {
	if e.OnItem != nil {
		e.OnItem(item)
	}
}

// Cancel-on-context is handled by each call observing ctx.Done(); the
// executor has no separate cancel() method because context.Context
// already is the cancellation channel (see runOne's ctx.Err() check and
// each tool's own ctx usage, e.g. Bash's timeout context).
