package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xonecas/symb/internal/convo"
)

// TodoWriteArgs are the arguments to the TodoWrite tool.
type TodoWriteArgs struct {
	Todos []TodoArg `json:"todos"`
}

// TodoArg mirrors convo.Todo for JSON decoding.
type TodoArg struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form,omitempty"`
}

// TodoWriteTool replaces the session's to-do list wholesale, enforcing
// the single-in_progress invariant and emitting TODO_CHANGE.
type TodoWriteTool struct{}

func (TodoWriteTool) Schema() Schema {
	return Schema{
		Name:        "TodoWrite",
		Description: `Replace the current to-do list. At most one item may be "in_progress" at a time.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"todos": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"content":     {"type": "string"},
							"status":      {"type": "string", "enum": ["pending", "in_progress", "completed"]},
							"active_form": {"type": "string"}
						},
						"required": ["content", "status"]
					}
				}
			},
			"required": ["todos"]
		}`),
	}
}

func (TodoWriteTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args TodoWriteArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	items := make([]convo.Todo, len(args.Todos))
	for i, t := range args.Todos {
		items[i] = convo.Todo{Content: t.Content, Status: convo.TodoStatus(t.Status), ActiveForm: t.ActiveForm}
	}

	updated, err := ctx.Todo.Set(items)
	if err != nil {
		return Err(err.Error()), nil
	}

	return Result{
		Status:      convo.StatusSuccess,
		Output:      fmt.Sprintf("Updated to-do list (%d items)", len(updated)),
		SideEffects: []convo.SideEffect{convo.TodoChange},
	}, nil
}
