package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xonecas/symb/internal/constants"
	"github.com/xonecas/symb/internal/highlight"
)

const defaultReadLimit = 2000

// ReadArgs are the arguments to the Read tool.
type ReadArgs struct {
	File   string `json:"file"`
	Offset int    `json:"offset,omitempty"` // 1-indexed first line to return
	Limit  int    `json:"limit,omitempty"`
}

// ReadTool reads a file within the workspace and records it in the
// session's FileTracker so later edits are permitted.
type ReadTool struct{}

func (ReadTool) Schema() Schema {
	return Schema{
		Name: "Read",
		Description: `Read a file from the filesystem. Returns content with 1-indexed line numbers.
Supports offset/limit for large files. You must Read a file before Edit or Write can touch it.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":   {"type": "string", "description": "Path to the file, absolute or relative to the workspace"},
				"offset": {"type": "integer", "description": "1-indexed line to start from"},
				"limit":  {"type": "integer", "description": "Maximum number of lines to return (default 2000)"}
			},
			"required": ["file"]
		}`),
	}
}

func (ReadTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args ReadArgs
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

	f, err := os.Open(abs)
	if err != nil {
		return Err(fmt.Sprintf("cannot read %s: %v", args.File, err)), nil
	}
	defer f.Close()

	limit := args.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	offset := args.Offset
	if offset < 1 {
		offset = 1
	}

	var b, raw strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	emitted := 0
	for scanner.Scan() {
		line++
		if line < offset {
			continue
		}
		if emitted >= limit {
			break
		}
		fmt.Fprintf(&b, "%6d\t%s\n", line, scanner.Text())
		raw.WriteString(scanner.Text())
		raw.WriteByte('\n')
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return Err(fmt.Sprintf("error reading %s: %v", args.File, err)), nil
	}

	if err := ctx.Files.Observe(abs); err != nil {
		return Err(fmt.Sprintf("cannot stat %s: %v", args.File, err)), nil
	}
	lspTouch(ctx, abs)

	if emitted == 0 {
		return Ok(fmt.Sprintf("(file is empty or offset %d is past end of file)", offset)), nil
	}

	res := Ok(b.String())
	extra := map[string]any{}
	if outline := fileOutline(ctx.Outline, ctx.WorkDir, abs); outline != "" {
		extra["outline"] = outline
	}
	if lang := highlight.DetectLanguage(abs); lang != "" {
		extra["highlighted"] = highlight.Highlight(raw.String(), lang, constants.SyntaxTheme, "#1a1b26")
	}
	if len(extra) > 0 {
		res.UIExtra = extra
	}
	return res, nil
}
