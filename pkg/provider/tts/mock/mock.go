// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:  make([]byte, 3200),
//	    Format: audio.Mono16k,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio and Format are returned by Synthesize.
	Audio  []byte
	Format audio.Format

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Block, when non-nil, makes Synthesize wait until it is closed or the
	// context is done.
	Block chan struct{}

	// Voices and ListVoicesErr are returned by ListVoices.
	Voices        []tts.Voice
	ListVoicesErr error

	SynthesizeCalls     []SynthesizeCall
	ListVoicesCallCount int
}

// Synthesize records the call and returns Audio, Format, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, audio.Format, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voiceID})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, audio.Format{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return nil, audio.Format{}, p.SynthesizeErr
	}
	return append([]byte(nil), p.Audio...), p.Format, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return append([]tts.Voice(nil), p.Voices...), p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}
