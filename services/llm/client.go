package llm

import (
	"context"

	"github.com/springqna/springqna/services/server/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries one incremental answer fragment.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone signals that the backend finished cleanly. Content
	// is empty. Backends emit it exactly once, after the last token.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}

// StreamCallback consumes stream events as they arrive. Returning a non-nil
// error cancels the upstream stream; no further events are delivered and the
// error propagates out of ChatStream. Callbacks run on the streaming
// goroutine, so they must not block indefinitely.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a conversation. Messages use the
	// internal role vocabulary (system, user, assistant); a leading system
	// message becomes the backend's system instruction where supported.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream is Chat with incremental delivery. The callback receives
	// token events in emission order followed by one done event. Both a
	// callback error and context cancellation abort the stream; in either
	// case no done event is delivered and ChatStream returns the cause.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error
}

// Helper for building optional float parameters inline.
func Float32Ptr(v float32) *float32 { return &v }
