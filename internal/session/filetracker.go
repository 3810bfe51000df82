package session

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xonecas/symb/internal/hashline"
)

// fileState is what the tracker remembers about a file the agent has
// observed, per spec's "file_tracker (mapping absolute path → (mtime,
// size_or_hash) at the time the agent last observed the file)".
type fileState struct {
	ModTime time.Time
	Size    int64
	Digest  string
}

// contentDigest derives a compact per-line content fingerprint: one
// hashline.LineHash (a single hash byte) per line. An mtime bump with an
// unchanged digest is treated as a touch, not a modification; a changed
// line whose hash byte happens to match the old one goes undetected.
func contentDigest(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	b.Grow(len(lines) * hashline.HashLen)
	for _, line := range lines {
		b.WriteString(hashline.LineHash(line))
	}
	return b.String()
}

// FileTracker guards edit tools against operating on files the agent
// hasn't read, or that changed externally since the last read. It is
// session-scoped; sub-agents get their own instance (see subagent package).
type FileTracker struct {
	mu    sync.RWMutex
	files map[string]fileState
}

// NewFileTracker returns an empty tracker.
func NewFileTracker() *FileTracker {
	return &FileTracker{files: make(map[string]fileState)}
}

// Observe records the current on-disk mtime/size/content digest for
// absPath. Called after every successful Read and after every successful
// write by an edit tool.
func (t *FileTracker) Observe(absPath string) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[absPath] = fileState{ModTime: info.ModTime(), Size: info.Size(), Digest: contentDigest(string(data))}
	return nil
}

// Forget removes absPath from the tracker, used when apply_patch deletes a file.
func (t *FileTracker) Forget(absPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, absPath)
}

// CheckReadable reports whether absPath may be written by an edit tool:
// it must have been observed before, and its content must not have
// changed since. A bare mtime bump with identical content (touch,
// checkout round-trip) refreshes the recorded state and passes. err is
// nil iff the edit may proceed.
func (t *FileTracker) CheckReadable(absPath string) error {
	t.mu.RLock()
	state, tracked := t.files[absPath]
	t.mu.RUnlock()

	if !tracked {
		return errNotRead(absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if info.ModTime().Equal(state.ModTime) && info.Size() == state.Size {
		return nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	if contentDigest(string(data)) != state.Digest {
		return errModifiedExternally(absPath)
	}

	t.mu.Lock()
	t.files[absPath] = fileState{ModTime: info.ModTime(), Size: info.Size(), Digest: state.Digest}
	t.mu.Unlock()
	return nil
}

// WasRead reports whether absPath has ever been observed, without checking
// staleness. Used by tools (e.g. Write) whose precondition is "new or
// previously read", not "unchanged since read".
func (t *FileTracker) WasRead(absPath string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.files[absPath]
	return ok
}

// StaleFiles returns the tracked paths whose on-disk content no longer
// matches what the agent last observed (deleted files included), sorted
// for stable reminder output.
func (t *FileTracker) StaleFiles() []string {
	t.mu.RLock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	t.mu.RUnlock()
	sort.Strings(paths)

	var stale []string
	for _, p := range paths {
		t.mu.RLock()
		state := t.files[p]
		t.mu.RUnlock()

		info, err := os.Stat(p)
		if err != nil {
			stale = append(stale, p)
			continue
		}
		if info.ModTime().Equal(state.ModTime) && info.Size() == state.Size {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil || contentDigest(string(data)) != state.Digest {
			stale = append(stale, p)
		}
	}
	return stale
}

// Snapshot returns a copy of the tracked paths, for diagnostics/tests.
func (t *FileTracker) Snapshot() map[string]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]time.Time, len(t.files))
	for p, s := range t.files {
		out[p] = s.ModTime
	}
	return out
}
