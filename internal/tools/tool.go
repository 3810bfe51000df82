// Package tools implements the Tool Registry & Executor: the contract
// every tool satisfies, the registry that looks tools up by name, and
// the executor that runs a batch of tool calls per spec §4.2.
package tools

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/treesitter"
)

// Context is what a tool's Call receives. Tools are pure functions over
// Context; they never reach for hidden globals.
type Context struct {
	context.Context

	SessionID string
	WorkDir   string
	Files     *session.FileTracker
	Todo      *session.TodoContext

	// Outline is the project's tree-sitter symbol index. Read/Edit/Write/
	// apply_patch refresh it after a successful edit so later Read calls
	// and the agent's context stay in sync with what's on disk; nil when
	// no index has been built (e.g. inside a sub-agent's restricted tools).
	Outline *treesitter.Index

	// Deltas records pre-write file content so a turn's filesystem
	// changes can be undone. Nil disables recording (sub-agents,
	// store-less runs).
	Deltas *delta.Tracker

	// LSP folds language-server diagnostics into file-mutating tool
	// results. Nil when no language server is configured.
	LSP *lsp.Manager

	// RunSubAgent spawns a nested agent run and blocks until it finishes.
	// Nil outside agents that may spawn sub-agents (depth guard lives with
	// the caller: sub-agent Contexts never set this).
	RunSubAgent func(ctx context.Context, req SubAgentRequest) (SubAgentResult, error)

	// AskUser pauses the batch and requests a user decision. Nil when the
	// AskUserQuestion tool isn't wired (e.g. headless/non-interactive runs).
	AskUser func(ctx context.Context, question string, options []string) (string, error)
}

// SubAgentRequest is what the Task tool hands the Sub-Agent Manager:
// the role to assume, its framing, the task itself, optionally a prior
// child session id to continue, and optionally a JSON Schema the
// child's final answer must satisfy (delivered via a report_back tool).
type SubAgentRequest struct {
	Kind         string
	Description  string
	Prompt       string
	Resume       string
	OutputSchema json.RawMessage
}

// SubAgentResult is what a finished sub-agent run hands back to the
// Task tool.
type SubAgentResult struct {
	Output     string
	SessionID  string
	Structured bool // Output is the report_back payload, not free text
}

// Result is what a tool call produces, before truncation and event
// emission by the executor.
type Result struct {
	Status      convo.ToolStatus
	Output      string
	UIExtra     map[string]any
	SideEffects []convo.SideEffect
	Images      []convo.ImageRef
}

// Ok returns a successful Result.
func Ok(output string) Result { return Result{Status: convo.StatusSuccess, Output: output} }

// Err returns an error Result. Tool handlers return this instead of a Go
// error for expected, user-facing failures (bad args, ambiguous match,
// unreadable file); a returned Go error from Call is reserved for
// invocation-level failures the executor itself should log.
func Err(output string) Result { return Result{Status: convo.StatusError, Output: output} }

// Schema is the JSON-Schema tool definition surfaced to the provider
// adapter's tool list.
type Schema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Tool is the contract every registry entry satisfies.
type Tool interface {
	Schema() Schema
	Call(ctx *Context, argumentsJSON json.RawMessage) (Result, error)
}
