package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/shell"
)

const (
	bashDefaultTimeoutSec = 60
	bashMaxTimeoutSec     = 600
)

// BashArgs are the arguments to the Bash tool.
type BashArgs struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Timeout     int    `json:"timeout,omitempty"`
}

// BashTool runs a command in an in-process POSIX interpreter, persisting
// cwd/env across calls within a session. Grounded on
// internal/mcptools/shell.go's ShellHandler.
type BashTool struct {
	Shell *shell.Shell
}

func (BashTool) Schema() Schema {
	return Schema{
		Name: "Bash",
		Description: `Execute a shell command in an in-process POSIX interpreter.
Commands run inside the project working directory; cwd and environment persist across calls
within the same session. Dangerous commands are blocked.`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command":     {"type": "string"},
				"description": {"type": "string", "description": "Brief description of what this command does"},
				"timeout":     {"type": "integer", "description": "Timeout in seconds (default 60)"}
			},
			"required": ["command", "description"]
		}`),
	}
}

// applyPatchHeredocStartRe detects a Bash invocation that is really an
// apply_patch call disguised inside a heredoc, e.g.
// bash -lc "cd X && apply_patch <<'EOF' ... EOF".
var applyPatchHeredocStartRe = regexp.MustCompile(`apply_patch\s*<<\s*'?(\w+)'?`)

func (b BashTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args BashArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.Command == "" {
		return Err("command is required"), nil
	}

	if body, ok := extractHeredocPatch(args.Command); ok {
		return applyPatchDocument(ctx, body)
	}

	timeout := bashDefaultTimeoutSec
	if args.Timeout > 0 {
		timeout = args.Timeout
	}
	if timeout > bashMaxTimeoutSec {
		timeout = bashMaxTimeoutSec
	}

	runCtx, cancel := context.WithTimeout(ctx.Context, time.Duration(timeout)*time.Second)
	defer cancel()

	// Snapshot the working directory so the command's file changes can
	// be undone and reported. Skipped when no delta tracker is wired
	// (sub-agents, store-less runs).
	var preSnap map[string]delta.FileSnapshot
	if ctx.Deltas != nil {
		preSnap = delta.SnapshotDir(ctx.WorkDir)
	}

	var stdout, stderr bytes.Buffer
	execErr := b.Shell.ExecStream(runCtx, args.Command, &stdout, &stderr)

	exitCode := shell.ExitCode(execErr)
	output := formatShellOutput(stdout.String(), stderr.String(), exitCode, runCtx.Err())
	if output == "" {
		output = "(no output)\n"
	}

	var changed []string
	if ctx.Deltas != nil {
		postSnap := delta.SnapshotDir(ctx.WorkDir)
		delta.RecordDeltas(ctx.Deltas, ctx.WorkDir, preSnap, postSnap)
		changed = delta.ChangedPaths(preSnap, postSnap)
	}

	if exitCode != 0 {
		return Err(output), nil
	}
	res := Ok(output)
	if len(changed) > 0 {
		res.UIExtra = map[string]any{"changed_files": changed}
	}
	return res, nil
}

func formatShellOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		b.WriteString("[timed out]\n")
	}
	if exitCode != 0 && ctxErr == nil {
		fmt.Fprintf(&b, "[exit code %d]\n", exitCode)
	}
	return b.String()
}

// extractHeredocPatch finds an apply_patch-via-heredoc invocation buried
// in a larger shell command (e.g. bash -lc "cd X && apply_patch <<'EOF'
// ... EOF") and returns its body, per spec §4.2.3. Go's RE2 engine has
// no backreferences, so the heredoc terminator is matched by scanning
// for the captured tag on its own line rather than in one regex.
func extractHeredocPatch(command string) (string, bool) {
	loc := applyPatchHeredocStartRe.FindStringSubmatchIndex(command)
	if loc == nil {
		return "", false
	}
	tag := command[loc[2]:loc[3]]
	rest := command[loc[1]:]
	rest = strings.TrimPrefix(rest, "\n")

	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == tag {
			return strings.TrimSpace(strings.Join(lines[:i], "\n")), true
		}
	}
	return "", false
}
