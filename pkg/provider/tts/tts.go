// Package tts defines the Provider interface for text-to-speech backends and
// the [Speaker] that reads replies aloud through an [audio.Player].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/sofi/pkg/audio"
)

// Voice describes a voice offered by a provider.
type Voice struct {
	ID       string
	Name     string
	Provider string

	// Labels holds provider-specific attributes (accent, gender, category).
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns 16-bit
	// little-endian PCM in the returned format.
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, audio.Format, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]Voice, error)
}
