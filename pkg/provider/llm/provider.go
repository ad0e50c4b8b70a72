// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a single blocking completion call. Mira uses
// it for the optional in-process dialogue backend, which turns an utterance and
// the running history into an intent plus a spoken reply.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrNoMessages is returned by Complete for a request without messages.
	ErrNoMessages = errors.New("llm: request has no messages")

	// ErrEmptyResponse is returned when the backend answers without a choice.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction injected before the history.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero uses the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSON asks the backend to constrain its output to a single JSON object.
	// Backends without a JSON mode ignore it.
	JSON bool
}

// Validate reports whether req can be sent to a backend.
func (req CompletionRequest) Validate() error {
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage

	// FinishReason is the backend's stop reason ("stop", "length", ...), when
	// reported.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It must
	// return promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
