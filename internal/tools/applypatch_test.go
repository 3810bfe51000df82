package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyPatchAddFile(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(t, dir)

	patch := "*** Begin Patch\n*** Add File: new.txt\n+line one\n+line two\n*** End Patch"
	res, err := applyPatchDocument(ctx, patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success: %s", res.Output)
	}

	data, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\n" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestApplyPatchUpdateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := newTestContext(t, dir)
	if err := ctx.Files.Observe(path); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Update File: a.txt\n one\n-two\n+TWO\n three\n*** End Patch"
	res, err := applyPatchDocument(ctx, patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success: %s", res.Output)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "one\nTWO\nthree\n" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestApplyPatchUpdateMidFileHunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta\ngamma\ndelta\nepsilon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := newTestContext(t, dir)
	if err := ctx.Files.Observe(path); err != nil {
		t.Fatal(err)
	}

	// The hunk's first context line is mid-file; it must anchor there
	// instead of failing against line 1.
	patch := "*** Begin Patch\n*** Update File: a.txt\n@@\n gamma\n-delta\n+DELTA\n epsilon\n*** End Patch"
	res, err := applyPatchDocument(ctx, patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success: %s", res.Output)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "alpha\nbeta\ngamma\nDELTA\nepsilon\n" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestApplyPatchDeleteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("bye\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := newTestContext(t, dir)

	patch := "*** Begin Patch\n*** Delete File: a.txt\n*** End Patch"
	res, err := applyPatchDocument(ctx, patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success: %s", res.Output)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file to be deleted")
	}
}

func TestExtractHeredocPatch(t *testing.T) {
	cmd := "cd /repo && apply_patch <<'EOF'\n*** Begin Patch\n*** Add File: x.txt\n+hi\n*** End Patch\nEOF"
	body, ok := extractHeredocPatch(cmd)
	if !ok {
		t.Fatal("expected to detect heredoc-wrapped apply_patch")
	}
	if body != "*** Begin Patch\n*** Add File: x.txt\n+hi\n*** End Patch" {
		t.Fatalf("unexpected body: %q", body)
	}
}
