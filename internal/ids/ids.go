// Package ids generates the identifiers threaded through a conversation:
// session ids, tool call ids, and submission ids. One generator, backed
// by google/uuid, so every identifier in the system has the same shape
// and collision odds.
package ids

import "github.com/google/uuid"

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// NewCallID returns a fresh tool-call identifier, used when a provider's
// wire format doesn't hand back its own (Anthropic and the Responses API
// do; some local/OpenAI-compatible backends don't).
func NewCallID() string {
	return "call_" + uuid.NewString()
}

// NewSubmissionID returns a fresh identifier for one operation placed on
// the submission bus.
func NewSubmissionID() string {
	return "sub_" + uuid.NewString()
}

// NewResponseID returns a fresh identifier tying together the items
// produced by one provider turn.
func NewResponseID() string {
	return "resp_" + uuid.NewString()
}
