package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// EditArgs are the arguments to the Edit tool: a literal
// old_string -> new_string replacement, per spec §4.2.3.
type EditArgs struct {
	File       string `json:"file"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// EditTool performs literal string replacement within a file the
// session has already read, guarded by the FileTracker's staleness
// check.
type EditTool struct{}

func (EditTool) Schema() Schema {
	return Schema{
		Name: "Edit",
		Description: `Replace text in a file. old_string must match exactly (including whitespace).
If old_string is empty, the file must be new or empty. If replace_all is false, old_string must match
exactly once, or the call fails naming the ambiguity.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":        {"type": "string"},
				"old_string":  {"type": "string"},
				"new_string":  {"type": "string"},
				"replace_all": {"type": "boolean"}
			},
			"required": ["file", "old_string", "new_string"]
		}`),
	}
}

func (EditTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args EditArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.File == "" {
		return Err("file is required"), nil
	}
	if args.OldString == args.NewString {
		return Err("old_string and new_string must differ"), nil
	}

	abs, err := resolvePath(ctx.WorkDir, args.File)
	if err != nil {
		return Err(err.Error()), nil
	}

	if args.OldString == "" {
		return createViaEdit(ctx, abs, args)
	}

	if err := ctx.Files.CheckReadable(abs); err != nil {
		return Err(err.Error()), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Err(fmt.Sprintf("cannot read %s: %v", args.File, err)), nil
	}
	content := string(data)

	count := strings.Count(content, args.OldString)
	if count == 0 {
		return Err(fmt.Sprintf("old_string not found in %s", args.File)), nil
	}
	if !args.ReplaceAll && count > 1 {
		return Err(fmt.Sprintf("old_string matches %d times in %s; pass replace_all or include more context to disambiguate", count, args.File)), nil
	}

	var updated string
	if args.ReplaceAll {
		updated = strings.ReplaceAll(content, args.OldString, args.NewString)
	} else {
		updated = strings.Replace(content, args.OldString, args.NewString, 1)
	}

	if ctx.Deltas != nil {
		ctx.Deltas.RecordModify(abs, data)
	}
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return Err(fmt.Sprintf("cannot write %s: %v", args.File, err)), nil
	}
	if err := ctx.Files.Observe(abs); err != nil {
		return Err(fmt.Sprintf("edit applied but failed to refresh tracker for %s: %v", args.File, err)), nil
	}
	refreshOutline(ctx.Outline, abs)

	res := Ok(fmt.Sprintf("Edited %s", args.File) + lspDiagnostics(ctx, abs, args.File))
	res.UIExtra = map[string]any{"diff_text": unifiedDiff(args.File, content, updated)}
	return res, nil
}

// createViaEdit handles the old_string=="" case: the file must be new
// or previously read-as-empty, and new_string becomes its full content.
func createViaEdit(ctx *Context, abs string, args EditArgs) (Result, error) {
	info, statErr := os.Stat(abs)
	exists := statErr == nil
	if exists {
		if info.Size() > 0 {
			return Err(fmt.Sprintf("%s already has content; old_string must be non-empty to edit it", args.File)), nil
		}
		if !ctx.Files.WasRead(abs) {
			return Err(fmt.Sprintf("%s has not been read yet. Read it first before editing.", args.File)), nil
		}
	}

	if ctx.Deltas != nil && !exists {
		ctx.Deltas.RecordCreate(abs)
	}
	if err := os.WriteFile(abs, []byte(args.NewString), 0o644); err != nil {
		return Err(fmt.Sprintf("cannot write %s: %v", args.File, err)), nil
	}
	if err := ctx.Files.Observe(abs); err != nil {
		return Err(fmt.Sprintf("created but failed to refresh tracker for %s: %v", args.File, err)), nil
	}
	refreshOutline(ctx.Outline, abs)

	res := Ok(fmt.Sprintf("Created %s", args.File) + lspDiagnostics(ctx, abs, args.File))
	res.UIExtra = map[string]any{"diff_text": unifiedDiff(args.File, "", args.NewString)}
	return res, nil
}
