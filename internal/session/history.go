package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/convo"
	"github.com/xonecas/symb/internal/provider"
)

// emptyToolOutputPlaceholder is substituted for a tool result whose output
// is the empty string, per spec §3 rule 6.
const emptyToolOutputPlaceholder = "(no output)"

// BuildLLMInput derives the provider wire history from a session's
// Conversation Item log, per spec §3 "LLM-input view". It is derived
// from (systemPrompt, history, currentModelID), plus the image files that
// file-backed image refs point at and the current time stamped on the
// system message: nothing is mutated and nothing is re-truncated
// (truncation already happened at tool-call time, see internal/truncate).
func BuildLLMInput(systemPrompt string, history []convo.Item, currentModelID string) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: systemPrompt, CreatedAt: time.Now()})
	}

	// Pending reasoning for the assistant message currently being assembled.
	var pendingThinking strings.Builder

	for _, item := range history {
		switch item.Kind {
		case convo.KindUserMessage:
			text, refs := splitUserParts(item.UserParts)
			msgs = append(msgs, provider.Message{
				Role:      "user",
				Content:   text,
				Images:    resolveImages(refs),
				CreatedAt: item.CreatedAt,
			})

		case convo.KindDeveloperMessage:
			msgs = append(msgs, provider.Message{Role: "system", Content: item.Content, CreatedAt: item.CreatedAt})

		case convo.KindReasoningText:
			// Rule 4: re-emitted only when the model matches; otherwise
			// degraded to an inline <thinking> block on the assistant message.
			if item.ModelID == currentModelID {
				msgs = append(msgs, provider.Message{Role: "assistant", Reasoning: item.Content, CreatedAt: item.CreatedAt})
			} else {
				pendingThinking.WriteString(item.Content)
			}

		case convo.KindReasoningEncrypted:
			if item.ModelID == currentModelID {
				msgs = append(msgs, provider.Message{Role: "assistant", Reasoning: item.Blob, CreatedAt: item.CreatedAt})
			}
			// else: encrypted blobs for a different model are dropped entirely.

		case convo.KindAssistantMessage:
			content := item.Content
			if pendingThinking.Len() > 0 {
				content = fmt.Sprintf("<thinking>%s</thinking>\n%s", pendingThinking.String(), content)
				pendingThinking.Reset()
			}
			// An assistant turn that went straight to tools produces an
			// empty message; providers reject empty text blocks, so skip
			// it (the tool calls that follow carry the turn).
			if content == "" {
				continue
			}
			msgs = append(msgs, provider.Message{Role: "assistant", Content: content, CreatedAt: item.CreatedAt})

		case convo.KindToolCall:
			// Consecutive tool calls from one response collapse into a
			// single assistant wire message, the shape every protocol's
			// tool_calls array expects.
			tc := provider.ToolCall{ID: item.CallID, Name: item.ToolName, Arguments: item.ArgumentsJSON}
			if n := len(msgs); n > 0 && msgs[n-1].Role == "assistant" && len(msgs[n-1].ToolCalls) > 0 {
				msgs[n-1].ToolCalls = append(msgs[n-1].ToolCalls, tc)
				continue
			}
			msgs = append(msgs, provider.Message{
				Role:      "assistant",
				ToolCalls: []provider.ToolCall{tc},
				CreatedAt: item.CreatedAt,
			})

		case convo.KindToolResult:
			output := item.Output
			if output == "" {
				output = emptyToolOutputPlaceholder
			}
			msgs = append(msgs, provider.Message{
				Role:         "tool",
				Content:      output,
				Images:       resolveImages(item.ResultImages),
				ToolCallID:   item.CallID,
				FunctionName: item.ToolName,
				CreatedAt:    item.CreatedAt,
			})

		case convo.KindStart, convo.KindTaskMetadata, convo.KindResponseMetadata, convo.KindStreamError, convo.KindInterrupt:
			// Not part of the model-facing wire history.
		}
	}

	return msgs
}

// splitUserParts separates a user message's ordered parts into its text
// (text parts joined by newlines) and its image references.
func splitUserParts(parts []convo.UserPart) (string, []convo.ImageRef) {
	var b strings.Builder
	var refs []convo.ImageRef
	for _, p := range parts {
		if p.Text != nil {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(p.Text.Text)
		} else if p.Image != nil {
			refs = append(refs, *p.Image)
		}
	}
	return b.String(), refs
}

// resolveImages turns image references into wire-ready parts at call
// time: URL refs pass through, file refs are read, mime-sniffed,
// resized when oversized, and base64-encoded (spec's image handling).
// Unreadable files are dropped with a log line rather than failing the
// whole turn.
func resolveImages(refs []convo.ImageRef) []provider.ImagePart {
	var parts []provider.ImagePart
	for _, ref := range refs {
		if ref.URL != "" {
			parts = append(parts, provider.ImagePart{URL: ref.URL, MimeType: ref.MimeType})
			continue
		}
		if ref.FilePath == "" {
			continue
		}
		part, err := provider.EncodeImageFile(ref.FilePath, ref.MimeType)
		if err != nil {
			log.Warn().Err(err).Str("path", ref.FilePath).Msg("dropping unreadable image")
			continue
		}
		parts = append(parts, part)
	}
	return parts
}
