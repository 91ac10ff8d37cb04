package dispatch

import (
	"context"
	"fmt"

	"github.com/MrWong99/sofi/pkg/provider/llm"
)

// LLMSink sends each utterance to a language model as a single user turn.
type LLMSink struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
}

var _ TextSink = (*LLMSink)(nil)

// LLMSinkOption configures an LLMSink.
type LLMSinkOption func(*LLMSink)

// WithSystemPrompt sets the instruction sent ahead of every utterance.
func WithSystemPrompt(p string) LLMSinkOption {
	return func(s *LLMSink) { s.systemPrompt = p }
}

// WithTemperature sets the sampling temperature. Zero leaves the backend
// default.
func WithTemperature(t float64) LLMSinkOption {
	return func(s *LLMSink) { s.temperature = t }
}

// WithMaxTokens caps the reply length. Zero leaves the backend default.
func WithMaxTokens(n int) LLMSinkOption {
	return func(s *LLMSink) { s.maxTokens = n }
}

// NewLLMSink adapts p to a [TextSink].
func NewLLMSink(p llm.Provider, opts ...LLMSinkOption) *LLMSink {
	s := &LLMSink{provider: p}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send asks the model about text and returns its answer.
func (s *LLMSink) Send(ctx context.Context, text string) (string, error) {
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: send: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}
