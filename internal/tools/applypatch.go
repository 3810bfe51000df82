package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ApplyPatchArgs are the arguments to the apply_patch tool.
type ApplyPatchArgs struct {
	Patch string `json:"patch"`
}

// ApplyPatchTool applies a patch document in the "*** Begin Patch" /
// "*** Add File:" / "*** Update File:" / "*** Delete File:" format,
// per spec §4.2.3.
type ApplyPatchTool struct{}

func (ApplyPatchTool) Schema() Schema {
	return Schema{
		Name: "apply_patch",
		Description: `Apply a patch document. The document must start with "*** Begin Patch" and end
with "*** End Patch", containing one or more "*** Add File: path", "*** Delete File: path", or
"*** Update File: path" sections (Update sections may include "*** Move to: newpath").`,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"patch": {"type": "string"}
			},
			"required": ["patch"]
		}`),
	}
}

func (ApplyPatchTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args ApplyPatchArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	return applyPatchDocument(ctx, args.Patch)
}

func applyPatchDocument(ctx *Context, patch string) (Result, error) {
	sections, err := parsePatchSections(patch)
	if err != nil {
		return Err(err.Error()), nil
	}

	var applied []string
	diffs := make(map[string]string)
	for _, sec := range sections {
		abs, err := resolveWorkspacePath(ctx.WorkDir, sec.Path)
		if err != nil {
			return Err(err.Error()), nil
		}

		switch sec.Op {
		case patchAdd:
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return Err(fmt.Sprintf("cannot create directory for %s: %v", sec.Path, err)), nil
			}
			if ctx.Deltas != nil {
				ctx.Deltas.RecordCreate(abs)
			}
			if err := os.WriteFile(abs, []byte(sec.Content), 0o644); err != nil {
				return Err(fmt.Sprintf("cannot write %s: %v", sec.Path, err)), nil
			}
			_ = ctx.Files.Observe(abs)
			refreshOutline(ctx.Outline, abs)
			diffs[sec.Path] = unifiedDiff(sec.Path, "", sec.Content)
			applied = append(applied, "Added "+sec.Path+lspDiagnostics(ctx, abs, sec.Path))

		case patchDelete:
			if ctx.Deltas != nil {
				if data, readErr := os.ReadFile(abs); readErr == nil {
					ctx.Deltas.RecordModify(abs, data)
				}
			}
			if err := os.Remove(abs); err != nil {
				return Err(fmt.Sprintf("cannot delete %s: %v", sec.Path, err)), nil
			}
			ctx.Files.Forget(abs)
			applied = append(applied, "Deleted "+sec.Path)

		case patchUpdate:
			if err := ctx.Files.CheckReadable(abs); err != nil {
				return Err(err.Error()), nil
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return Err(fmt.Sprintf("cannot read %s: %v", sec.Path, err)), nil
			}
			original := string(data)
			updated, err := applyUnifiedHunks(original, sec.Content)
			if err != nil {
				return Err(fmt.Sprintf("cannot apply patch to %s: %v", sec.Path, err)), nil
			}

			destAbs := abs
			destPath := sec.Path
			if sec.MoveTo != "" {
				destAbs, err = resolveWorkspacePath(ctx.WorkDir, sec.MoveTo)
				if err != nil {
					return Err(err.Error()), nil
				}
				destPath = sec.MoveTo
			}
			if ctx.Deltas != nil {
				ctx.Deltas.RecordModify(abs, data)
				if destAbs != abs {
					ctx.Deltas.RecordCreate(destAbs)
				}
			}
			if err := os.WriteFile(destAbs, []byte(updated), 0o644); err != nil {
				return Err(fmt.Sprintf("cannot write %s: %v", sec.Path, err)), nil
			}
			if destAbs != abs {
				if err := os.Remove(abs); err != nil {
					return Err(fmt.Sprintf("cannot remove old path %s: %v", sec.Path, err)), nil
				}
				ctx.Files.Forget(abs)
			}
			_ = ctx.Files.Observe(destAbs)
			refreshOutline(ctx.Outline, destAbs)
			diffs[destPath] = unifiedDiff(destPath, original, updated)
			if sec.MoveTo != "" {
				applied = append(applied, fmt.Sprintf("Updated %s (moved to %s)", sec.Path, sec.MoveTo))
			} else {
				applied = append(applied, "Updated "+sec.Path)
			}
			if diag := lspDiagnostics(ctx, destAbs, destPath); diag != "" {
				applied = append(applied, diag)
			}
		}
	}

	res := Ok(strings.Join(applied, "\n"))
	if len(diffs) == 1 {
		for _, d := range diffs {
			res.UIExtra = map[string]any{"diff_text": d}
		}
	} else if len(diffs) > 1 {
		var b strings.Builder
		for _, sec := range sections {
			if d, ok := diffs[sec.Path]; ok && d != "" {
				b.WriteString(d)
			}
		}
		res.UIExtra = map[string]any{"diff_text": b.String()}
	}
	return res, nil
}

type patchOp int

const (
	patchAdd patchOp = iota
	patchDelete
	patchUpdate
)

type patchSection struct {
	Op      patchOp
	Path    string
	MoveTo  string
	Content string // for Add: full content; for Update: the hunk body
}

func parsePatchSections(doc string) ([]patchSection, error) {
	lines := strings.Split(doc, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "*** Begin Patch" {
		return nil, fmt.Errorf("patch must start with '*** Begin Patch'")
	}

	var sections []patchSection
	var cur *patchSection
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Content = body.String()
			sections = append(sections, *cur)
			cur = nil
			body.Reset()
		}
	}

	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "*** End Patch"):
			flush()
		case strings.HasPrefix(line, "*** Add File: "):
			flush()
			cur = &patchSection{Op: patchAdd, Path: strings.TrimPrefix(line, "*** Add File: ")}
		case strings.HasPrefix(line, "*** Delete File: "):
			flush()
			sections = append(sections, patchSection{Op: patchDelete, Path: strings.TrimPrefix(line, "*** Delete File: ")})
		case strings.HasPrefix(line, "*** Update File: "):
			flush()
			cur = &patchSection{Op: patchUpdate, Path: strings.TrimPrefix(line, "*** Update File: ")}
		case cur != nil && strings.HasPrefix(line, "*** Move to: "):
			cur.MoveTo = strings.TrimPrefix(line, "*** Move to: ")
		case cur != nil:
			if cur.Op == patchAdd {
				body.WriteString(strings.TrimPrefix(line, "+"))
				body.WriteByte('\n')
			} else {
				body.WriteString(line)
				body.WriteByte('\n')
			}
		}
	}
	flush()

	if len(sections) == 0 {
		return nil, fmt.Errorf("patch contains no sections")
	}
	return sections, nil
}

// applyUnifiedHunks applies a simplified context-diff hunk body (lines
// prefixed with ' ', '+', '-') to original. Context and deletion lines
// anchor the hunk: the first one is located by scanning forward from
// the current position, so a hunk need not begin at line 1 and several
// "@@"-separated sections apply in order.
func applyUnifiedHunks(original, hunk string) (string, error) {
	origLines := strings.Split(original, "\n")
	var out []string
	pos := 0

	hunkLines := strings.Split(strings.TrimRight(hunk, "\n"), "\n")
	for _, hl := range hunkLines {
		if hl == "" {
			continue
		}
		tag, text := hl[0], hl[1:]
		switch tag {
		case '@':
			// Section marker; the next context line re-anchors.
		case ' ', '-':
			idx := indexLineFrom(origLines, pos, text)
			if idx < 0 {
				kind := "context"
				if tag == '-' {
					kind = "deletion"
				}
				return "", fmt.Errorf("%s mismatch: %q not found after line %d", kind, text, pos)
			}
			out = append(out, origLines[pos:idx]...)
			pos = idx
			if tag == ' ' {
				out = append(out, text)
			}
			pos++
		case '+':
			out = append(out, text)
		default:
			return "", fmt.Errorf("unrecognized hunk line %q", hl)
		}
	}
	out = append(out, origLines[pos:]...)
	return strings.Join(out, "\n"), nil
}

func indexLineFrom(lines []string, from int, text string) int {
	for i := from; i < len(lines); i++ {
		if lines[i] == text {
			return i
		}
	}
	return -1
}
