// Package llm defines the Provider interface for the text backends that
// receive finished utterances.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, a local
// Ollama instance, ...) and turns one request into one reply. The pipeline
// only ever needs a single non-streaming completion per utterance.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyRequest is returned for requests without messages.
var ErrEmptyRequest = errors.New("llm: request has no messages")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry is normally the
	// user's utterance.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It must
	// return promptly once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Validate reports whether req can be sent.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyRequest
	}
	return nil
}
