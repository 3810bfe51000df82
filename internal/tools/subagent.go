package tools

import (
	"encoding/json"
	"fmt"
)

// SubAgentArgs are the arguments to the Task tool.
type SubAgentArgs struct {
	Kind         string          `json:"kind"`
	Description  string          `json:"description"`
	Prompt       string          `json:"prompt"`
	Resume       string          `json:"resume,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// validSubAgentKinds mirrors subagent.Kind without importing that
// package, which would create an import cycle (subagent imports tools
// for Registry.Subset).
var validSubAgentKinds = map[string]bool{
	"Task": true, "Oracle": true, "Explore": true, "WebFetchAgent": true,
}

// SubAgentTool spawns an isolated sub-agent run via the Context's
// RunSubAgent callback (spec §4.5). Depth-guarded by the Sub-Agent
// Manager: a sub-agent's own Context never has RunSubAgent set, so
// nested spawning fails closed rather than recursing.
type SubAgentTool struct{}

func (SubAgentTool) Schema() Schema {
	return Schema{
		Name: "Task",
		Description: `Spawn a sub-agent to handle a focused task in isolation, with its own file-tracking and to-do state.
kind selects its role and tool access: Task (general read/write), Oracle (read-only advice), Explore (read-only
codebase search), WebFetchAgent (fetch and summarize a URL). Returns the sub-agent's final summary.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"kind":        {"type": "string", "enum": ["Task", "Oracle", "Explore", "WebFetchAgent"]},
				"description": {"type": "string", "description": "One-line framing of what the sub-agent should do"},
				"prompt":      {"type": "string", "description": "The sub-agent's full task, as you'd phrase it to a capable assistant"},
				"resume":      {"type": "string", "description": "agentId from a prior Task result, to continue that sub-agent's session"},
				"output_schema": {"type": "object", "description": "JSON Schema the sub-agent's answer must satisfy; when set, only the matching payload is returned"}
			},
			"required": ["kind", "description", "prompt"]
		}`),
	}
}

func (SubAgentTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args SubAgentArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if !validSubAgentKinds[args.Kind] {
		return Err(fmt.Sprintf("unknown kind %q; must be one of Task, Oracle, Explore, WebFetchAgent", args.Kind)), nil
	}
	if args.Prompt == "" {
		return Err("prompt is required"), nil
	}
	if ctx.RunSubAgent == nil {
		return Err("sub-agents cannot spawn further sub-agents"), nil
	}

	sub, err := ctx.RunSubAgent(ctx.Context, SubAgentRequest{
		Kind:         args.Kind,
		Description:  args.Description,
		Prompt:       args.Prompt,
		Resume:       args.Resume,
		OutputSchema: args.OutputSchema,
	})
	if err != nil {
		return Err(fmt.Sprintf("sub-agent failed: %v", err)), nil
	}

	res := Ok(sub.Output)
	res.UIExtra = map[string]any{"agent_session_id": sub.SessionID}
	if sub.Structured {
		res.UIExtra["structured_output"] = true
	}
	return res, nil
}
