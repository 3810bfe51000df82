package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xonecas/symb/internal/treesitter"
)

// refreshOutline re-parses abs into the project symbol index after a
// successful edit, keeping the outline the agent sees consistent with
// what's on disk. No-op when idx is nil or the file has no grammar.
func refreshOutline(idx *treesitter.Index, abs string) {
	if idx == nil || !treesitter.Supported(abs) {
		return
	}
	idx.UpdateFile(abs)
}

// fileOutline formats idx's symbols for abs (relative to workDir) as a
// compact signature list, so Read can surface a file's structure without
// a separate round trip. Returns "" when idx is nil, the file has no
// grammar, or the index holds no symbols for it yet.
func fileOutline(idx *treesitter.Index, workDir, abs string) string {
	if idx == nil || !treesitter.Supported(abs) {
		return ""
	}
	rel, err := filepath.Rel(workDir, abs)
	if err != nil {
		return ""
	}
	syms := idx.Symbols(rel)
	if len(syms) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range syms {
		fmt.Fprintf(&b, "%s %s (lines %d-%d)\n", s.Kind, s.Signature, s.StartLine, s.EndLine)
	}
	return strings.TrimRight(b.String(), "\n")
}

// errAbsolutePathNotAllowed is the exact error apply_patch surfaces for
// any absolute path in its envelope, per spec §8's boundary behavior.
var errAbsolutePathNotAllowed = errors.New("Absolute path not allowed")

// resolveWorkspacePath rejects absolute paths unconditionally (apply_patch's
// stricter contract: every path in the patch document must be workspace-
// relative, regardless of whether it would resolve inside root) before
// delegating to resolvePath.
func resolveWorkspacePath(root, file string) (string, error) {
	if filepath.IsAbs(file) {
		return "", errAbsolutePathNotAllowed
	}
	return resolvePath(root, file)
}

// resolvePath resolves file relative to root, rejecting any path,
// absolute or relative, that escapes root. Grounded on internal/mcptools's
// validatePathWithRoot, generalized to take the root explicitly instead
// of os.Getwd() so sub-agents with a different WorkDir resolve correctly.
func resolvePath(root, file string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	var abs string
	if filepath.IsAbs(file) {
		abs = file
	} else {
		abs = filepath.Join(rootAbs, file)
	}
	abs, err = filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("access denied: path outside working directory")
	}
	return abs, nil
}
