// Package session implements the Session & Message History component:
// the Conversation Item log, the file tracker and to-do context guarding
// tool execution, and the async persistence pipeline backing them.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/store"
)

// persistFlushInterval bounds how long an Append call may sit in
// the flush queue before being written, per spec §5 "session persistence
// is debounced behind an async flush".
const persistFlushInterval = 200 * time.Millisecond

// Session holds one conversation's full state: its event log plus the
// guards (FileTracker, TodoContext) that tool execution consults. A
// sub-agent run gets its own Session with a fresh FileTracker/TodoContext
// but typically shares nothing else with its parent.
type Session struct {
	ID      string
	WorkDir string

	mu      sync.RWMutex
	history []convo.Item
	task    convo.TaskMetadata

	Files *FileTracker
	Todo  *TodoContext

	store   *store.Cache
	flushMu sync.Mutex
	pending []convo.Item
	flushed chan struct{}
}

// New creates a fresh in-memory session. If cache is non-nil, history is
// also persisted asynchronously; pass nil for sub-agent sessions, which
// are never persisted directly (spec §4.5: sub-agent isolation).
func New(id, workDir string, cache *store.Cache) *Session {
	s := &Session{
		ID:      id,
		WorkDir: workDir,
		task:    convo.NewTaskMetadata(),
		Files:   NewFileTracker(),
		Todo:    NewTodoContext(),
		store:   cache,
	}
	if cache != nil {
		if err := cache.CreateSession(id, workDir); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("failed to create session record")
		}
	}
	return s
}

// Resume loads a session's persisted event log back into memory.
func Resume(id, workDir string, cache *store.Cache) (*Session, error) {
	s := New(id, workDir, cache)
	if cache == nil {
		return s, nil
	}
	items, err := cache.LoadHistory(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.history = items
	s.mu.Unlock()
	return s, nil
}

// Append adds items to the in-memory history and schedules them for
// async persistence. Items for which Kind.IsPersisted() is false (deltas,
// ToolCallStart) are silently dropped: they exist only for UI streaming
// and must never appear in history.
func (s *Session) Append(items ...convo.Item) {
	kept := items[:0:0]
	for _, item := range items {
		if item.Kind.IsPersisted() {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return
	}

	s.mu.Lock()
	s.history = append(s.history, kept...)
	s.mu.Unlock()

	s.scheduleFlush(kept)
}

// History returns a snapshot of the full Conversation Item log.
func (s *Session) History() []convo.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]convo.Item, len(s.history))
	copy(out, s.history)
	return out
}

// AccumulateUsage folds one response's usage into the session's running
// task metadata, per spec §3's MetadataAccumulator.
func (s *Session) AccumulateUsage(modelName string, u convo.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task.Add(modelName, u)
}

// AddSubAgentTask folds a finished child run's metadata into the
// session's aggregate, so the persisted TaskMetadataItem carries the
// sub-agent breakdown alongside the parent's own usage.
func (s *Session) AddSubAgentTask(t convo.TaskMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task.SubAgentTasks = append(s.task.SubAgentTasks, t)
}

// TaskMetadata returns a copy of the session's accumulated usage.
func (s *Session) TaskMetadata() convo.TaskMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := convo.NewTaskMetadata()
	for model, u := range s.task.ModelUsage {
		cp.ModelUsage[model] = u
	}
	cp.SubAgentTasks = append([]convo.TaskMetadata(nil), s.task.SubAgentTasks...)
	return cp
}

// scheduleFlush queues items for the async write-behind and kicks off a
// flush goroutine if one isn't already running.
func (s *Session) scheduleFlush(items []convo.Item) {
	if s.store == nil {
		return
	}
	s.flushMu.Lock()
	s.pending = append(s.pending, items...)
	startNew := s.flushed == nil
	if startNew {
		s.flushed = make(chan struct{})
	}
	done := s.flushed
	s.flushMu.Unlock()

	if !startNew {
		return
	}
	go func() {
		time.Sleep(persistFlushInterval)
		s.flushMu.Lock()
		batch := s.pending
		s.pending = nil
		s.flushed = nil
		s.flushMu.Unlock()

		if len(batch) > 0 {
			if err := s.store.AppendEvents(s.ID, batch); err != nil {
				log.Warn().Err(err).Str("session", s.ID).Msg("failed to persist session events")
			}
		}
		close(done)
	}()
}

// WaitForFlush blocks until all previously appended items have been
// durably persisted. The sync point named by spec §3's wait_for_flush().
func (s *Session) WaitForFlush() {
	for {
		s.flushMu.Lock()
		done := s.flushed
		s.flushMu.Unlock()
		if done == nil {
			return
		}
		<-done
	}
}

// LastUserMessage returns the most recent UserMessage item, or the zero
// Item and false if none exists. Used to label session listings.
func (s *Session) LastUserMessage() (convo.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Kind == convo.KindUserMessage {
			return s.history[i], true
		}
	}
	return convo.Item{}, false
}
