package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/xonecas/symb/internal/session"
)

func newTestContext(t *testing.T, dir string) *Context {
	t.Helper()
	return &Context{
		Context: context.Background(),
		WorkDir: dir,
		Files:   session.NewFileTracker(),
		Todo:    session.NewTodoContext(),
	}
}

func TestEditRefusesUnreadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := newTestContext(t, dir)
	args, _ := json.Marshal(EditArgs{File: "a.txt", OldString: "hello", NewString: "hi"})
	res, err := EditTool{}.Call(ctx, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error status for unread file, got %v: %s", res.Status, res.Output)
	}
}

func TestEditReplacesAfterRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := newTestContext(t, dir)
	if err := ctx.Files.Observe(path); err != nil {
		t.Fatal(err)
	}

	args, _ := json.Marshal(EditArgs{File: "a.txt", OldString: "hello", NewString: "goodbye"})
	res, err := EditTool{}.Call(ctx, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success, got %v: %s", res.Status, res.Output)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "goodbye world\n" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestEditAmbiguousMatchFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("foo\nfoo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := newTestContext(t, dir)
	if err := ctx.Files.Observe(path); err != nil {
		t.Fatal(err)
	}

	args, _ := json.Marshal(EditArgs{File: "a.txt", OldString: "foo", NewString: "bar"})
	res, err := EditTool{}.Call(ctx, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected ambiguity error, got success")
	}
}

func TestEditCreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(t, dir)

	args, _ := json.Marshal(EditArgs{File: "new.txt", OldString: "", NewString: "content\n"})
	res, err := EditTool{}.Call(ctx, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success creating new file, got %s", res.Output)
	}

	data, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content\n" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestEditRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(t, dir)

	args, _ := json.Marshal(EditArgs{File: "../outside.txt", OldString: "", NewString: "x"})
	res, _ := EditTool{}.Call(ctx, args)
	if res.Status != "error" {
		t.Fatalf("expected path-escape rejection, got success")
	}
}
