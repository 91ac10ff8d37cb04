package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/llm"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

// IsNeutral reports errors that say nothing about a provider's health: no
// speech in the sample, or the caller giving up.
func IsNeutral(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Transcribers is an [stt.Transcriber] failing over across backends.
type Transcribers struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*Transcribers)(nil)

// NewTranscribers returns a group with primary as the preferred backend.
// cfg.CircuitBreaker.Neutral defaults to [IsNeutral].
func NewTranscribers(primary stt.Transcriber, name string, cfg FallbackConfig) *Transcribers {
	if cfg.CircuitBreaker.Neutral == nil {
		cfg.CircuitBreaker.Neutral = IsNeutral
	}
	return &Transcribers{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another backend.
func (t *Transcribers) AddFallback(name string, tr stt.Transcriber) {
	t.group.AddFallback(name, tr)
}

// Names returns the backends in the order they are tried.
func (t *Transcribers) Names() []string { return t.group.Names() }

// Transcribe asks each healthy backend in turn. [stt.ErrNoSpeech] from any
// backend is returned immediately.
func (t *Transcribers) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	return ExecuteWithResult(t.group, func(tr stt.Transcriber) (string, error) {
		return tr.Transcribe(ctx, sample, languageTag)
	})
}

// Completers is an [llm.Provider] failing over across backends.
type Completers struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*Completers)(nil)

// NewCompleters returns a group with primary as the preferred backend.
// cfg.CircuitBreaker.Neutral defaults to treating cancellation and
// [llm.ErrEmptyRequest] as neutral.
func NewCompleters(primary llm.Provider, name string, cfg FallbackConfig) *Completers {
	if cfg.CircuitBreaker.Neutral == nil {
		cfg.CircuitBreaker.Neutral = func(err error) bool {
			return errors.Is(err, llm.ErrEmptyRequest) || errors.Is(err, context.Canceled)
		}
	}
	return &Completers{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another backend.
func (c *Completers) AddFallback(name string, p llm.Provider) {
	c.group.AddFallback(name, p)
}

// Complete sends req to the first healthy backend that answers.
func (c *Completers) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(c.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
