package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xonecas/symb/internal/convo"
)

// TodoContext is the agent's ordered plan/to-do list. At most one entry may
// be in_progress at any time; the TodoWrite tool is the only writer. Session-scoped: sub-agents get their own.
type TodoContext struct {
	mu    sync.Mutex
	items []convo.Todo
}

// NewTodoContext returns an empty to-do list.
func NewTodoContext() *TodoContext {
	return &TodoContext{}
}

// Set replaces the to-do list wholesale, validating the single-in_progress
// invariant. Returns the new list's snapshot on success.
func (t *TodoContext) Set(items []convo.Todo) ([]convo.Todo, error) {
	inProgress := 0
	for _, it := range items {
		if it.Status == convo.TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return nil, fmt.Errorf("at most one todo may be in_progress, got %d", inProgress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append([]convo.Todo(nil), items...)
	return t.Snapshot(), nil
}

// Snapshot returns a copy of the current list without taking the lock;
// Set and Get call it while holding t.mu. Callers that do not hold the
// lock use Get.
func (t *TodoContext) Snapshot() []convo.Todo {
	out := make([]convo.Todo, len(t.items))
	copy(out, t.items)
	return out
}

// Get returns the current list, safe for concurrent use.
func (t *TodoContext) Get() []convo.Todo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Snapshot()
}

// Empty reports whether the list has no entries, used by the empty_todo reminder.
func (t *TodoContext) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items) == 0
}

// Recitation renders the to-do list as the text injected into long tool
// loops to keep the agent oriented on its own plan. Empty string when
// there is no plan yet.
func (t *TodoContext) Recitation() string {
	items := t.Get()
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current plan:\n")
	for _, it := range items {
		mark := " "
		switch it.Status {
		case convo.TodoInProgress:
			mark = ">"
		case convo.TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s\n", mark, it.Content)
	}
	return b.String()
}
