package tools

import (
	"encoding/json"
	"fmt"
)

// AskUserQuestionArgs are the arguments to the AskUserQuestion tool.
type AskUserQuestionArgs struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// AskUserQuestionTool pauses the batch and requests a decision from the
// user, via the Context's AskUser callback (spec §4.2.3).
type AskUserQuestionTool struct{}

func (AskUserQuestionTool) Schema() Schema {
	return Schema{
		Name:        "AskUserQuestion",
		Description: `Ask the user a question and wait for their answer before continuing. Use sparingly, for genuine ambiguity.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string"},
				"options":  {"type": "array", "items": {"type": "string"}, "description": "Optional suggested answers"}
			},
			"required": ["question"]
		}`),
	}
}

func (AskUserQuestionTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args AskUserQuestionArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.Question == "" {
		return Err("question is required"), nil
	}
	if ctx.AskUser == nil {
		return Err("this session cannot take interactive input right now"), nil
	}

	answer, err := ctx.AskUser(ctx.Context, args.Question, args.Options)
	if err != nil {
		return Err(fmt.Sprintf("interrupted while waiting for an answer: %v", err)), nil
	}
	return Ok(answer), nil
}
