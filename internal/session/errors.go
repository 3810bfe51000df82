package session

import "fmt"

// NotReadError is returned by FileTracker.CheckReadable when the path was
// never observed. Tools surface its message verbatim as the tool result.
type NotReadError struct{ Path string }

func (e *NotReadError) Error() string {
	return fmt.Sprintf("%s has not been read yet. Read it first before editing.", e.Path)
}

func errNotRead(path string) error { return &NotReadError{Path: path} }

// ModifiedExternallyError is returned when the file changed on disk since
// it was last read by this session.
type ModifiedExternallyError struct{ Path string }

func (e *ModifiedExternallyError) Error() string {
	return fmt.Sprintf("%s was modified externally since it was last read. Read it again before editing.", e.Path)
}

func errModifiedExternally(path string) error { return &ModifiedExternallyError{Path: path} }
