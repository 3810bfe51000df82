package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// GitStatusArgs are the arguments to the GitStatus tool.
type GitStatusArgs struct {
	Long bool `json:"long,omitempty"`
}

// GitStatusTool reports the working tree status via `git status`.
type GitStatusTool struct{}

func (GitStatusTool) Schema() Schema {
	return Schema{
		Name:        "GitStatus",
		Description: "Show the working tree status. Returns modified, staged, and untracked files.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"long": {"type": "boolean", "description": "Use long format output. Default: false (short format)"}
			}
		}`),
	}
}

func (GitStatusTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args GitStatusArgs
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
	}

	gitArgs := []string{"status"}
	if !args.Long {
		gitArgs = append(gitArgs, "--short")
	}

	out, err := runGit(ctx.Context, ctx.WorkDir, gitArgs...)
	if err != nil {
		return Err(err.Error()), nil
	}
	if strings.TrimSpace(out) == "" {
		out = "nothing to commit, working tree clean"
	}
	return Ok(out), nil
}

// GitDiffArgs are the arguments to the GitDiff tool.
type GitDiffArgs struct {
	File   string `json:"file,omitempty"`
	Staged bool   `json:"staged,omitempty"`
}

// GitDiffTool shows unstaged or staged changes via `git diff`.
type GitDiffTool struct{}

func (GitDiffTool) Schema() Schema {
	return Schema{
		Name:        "GitDiff",
		Description: "Show changes between working tree and index (unstaged), or between index and HEAD (staged). Returns unified diff output.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":   {"type": "string", "description": "Optional: specific file path to diff. If omitted, diffs all changed files."},
				"staged": {"type": "boolean", "description": "If true, show staged (cached) changes. Default: false (unstaged changes)"}
			}
		}`),
	}
}

func (GitDiffTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args GitDiffArgs
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
	}

	gitArgs := []string{"diff"}
	if args.Staged {
		gitArgs = append(gitArgs, "--cached")
	}
	if args.File != "" {
		gitArgs = append(gitArgs, "--", args.File)
	}

	out, err := runGit(ctx.Context, ctx.WorkDir, gitArgs...)
	if err != nil {
		return Err(err.Error()), nil
	}
	if strings.TrimSpace(out) == "" {
		label := "unstaged"
		if args.Staged {
			label = "staged"
		}
		out = fmt.Sprintf("no %s changes", label)
	}
	return Ok(out), nil
}

// runGit runs git in dir and returns stdout. A clean exit-1 diff (changes
// present, nothing on stderr) is not treated as an error.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 && stderr.Len() == 0 {
			return stdout.String(), nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git error: %s", msg)
	}
	return stdout.String(), nil
}
