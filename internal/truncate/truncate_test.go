package truncate

import (
	"os"
	"strings"
	"testing"
)

func TestApplyPassesThroughShortOutput(t *testing.T) {
	p := New(t.TempDir())
	r := p.Apply("call_1", "hello world")
	if r.Truncated {
		t.Fatal("expected no truncation for short output")
	}
	if r.Output != "hello world" {
		t.Fatalf("got %q", r.Output)
	}
}

func TestApplyTruncatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	p.Max, p.Head, p.Tail = 20, 5, 5

	full := strings.Repeat("a", 10) + strings.Repeat("b", 30) + strings.Repeat("c", 10)
	r := p.Apply("call_2", full)

	if !r.Truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasPrefix(r.Output, "aaaaa") {
		t.Fatalf("missing head: %q", r.Output)
	}
	if !strings.HasSuffix(r.Output, "ccccc") {
		t.Fatalf("missing tail: %q", r.Output)
	}
	if !strings.Contains(r.Output, "characters omitted") {
		t.Fatalf("missing omission marker: %q", r.Output)
	}

	data, err := os.ReadFile(r.SourcePath)
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}
	if string(data) != full {
		t.Fatal("cached file does not match full output")
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	got := SanitizeIdentifier("https://example.com/a?b=c")
	if strings.ContainsAny(got, "/:?=") {
		t.Fatalf("unsafe characters survived: %q", got)
	}
}
