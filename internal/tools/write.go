package tools

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteArgs are the arguments to the Write tool.
type WriteArgs struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// WriteTool overwrites a file's entire content. The file must be either
// nonexistent or previously read (spec §4.2.3).
type WriteTool struct{}

func (WriteTool) Schema() Schema {
	return Schema{
		Name:        "Write",
		Description: `Write a file's full content. The file must not already exist, or must have been Read first.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":    {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["file", "content"]
		}`),
	}
}

func (WriteTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args WriteArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.File == "" {
		return Err("file is required"), nil
	}

	abs, err := resolvePath(ctx.WorkDir, args.File)
	if err != nil {
		return Err(err.Error()), nil
	}

	var before string
	exists := false
	if data, statErr := os.ReadFile(abs); statErr == nil {
		if !ctx.Files.WasRead(abs) {
			return Err(fmt.Sprintf("%s already exists; Read it first before overwriting with Write.", args.File)), nil
		}
		before = string(data)
		exists = true
	}

	if ctx.Deltas != nil {
		if exists {
			ctx.Deltas.RecordModify(abs, []byte(before))
		} else {
			ctx.Deltas.RecordCreate(abs)
		}
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return Err(fmt.Sprintf("cannot write %s: %v", args.File, err)), nil
	}
	if err := ctx.Files.Observe(abs); err != nil {
		return Err(fmt.Sprintf("wrote file but failed to refresh tracker for %s: %v", args.File, err)), nil
	}
	refreshOutline(ctx.Outline, abs)

	res := Ok(fmt.Sprintf("Wrote %s", args.File) + lspDiagnostics(ctx, abs, args.File))
	res.UIExtra = map[string]any{"diff_text": unifiedDiff(args.File, before, args.Content)}
	return res, nil
}
