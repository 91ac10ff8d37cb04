package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
)

var (
	// ErrBusy is returned by [Speaker.Speak] while a previous reply is still
	// playing.
	ErrBusy = errors.New("tts: already speaking")

	// ErrPlaybackTimeout is returned when the player does not report
	// completion in time.
	ErrPlaybackTimeout = errors.New("tts: playback did not finish in time")
)

// unspeakable matches everything except letters, digits, whitespace and
// common punctuation.
var unspeakable = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:!?"'()\-–—]`)

// CleanText strips characters a synthesiser would read out literally
// (markdown, emoji, symbols).
func CleanText(text string) string {
	return strings.TrimSpace(unspeakable.ReplaceAllString(text, ""))
}

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithPlaybackGrace sets how much longer than the clip's own duration the
// speaker waits for playback to finish. Default 2s.
func WithPlaybackGrace(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.grace = d }
}

// Speaker synthesises text and plays it, one reply at a time.
type Speaker struct {
	provider Provider
	player   audio.Player
	voice    string
	grace    time.Duration

	mu       sync.Mutex
	speaking bool
}

// NewSpeaker returns a Speaker that renders with provider and voice and
// plays through player.
func NewSpeaker(provider Provider, player audio.Player, voice string, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		provider: provider,
		player:   player,
		voice:    voice,
		grace:    2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speaking reports whether a reply is currently being rendered or played.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Speak cleans text, synthesises it and blocks until playback completes.
// Empty input is a no-op. A call made while another reply is in progress
// returns [ErrBusy] immediately.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil
	}

	s.mu.Lock()
	if s.speaking {
		s.mu.Unlock()
		return ErrBusy
	}
	s.speaking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	}()

	pcm, format, err := s.provider.Synthesize(ctx, cleaned, s.voice)
	if err != nil {
		return fmt.Errorf("tts: synthesize: %w", err)
	}
	if len(pcm) == 0 {
		slog.Debug("tts: provider returned no audio")
		return nil
	}

	wait := format.Duration(len(pcm)) + s.grace
	playCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.player.Play(playCtx, pcm, format) }()

	select {
	case err = <-done:
	case <-playCtx.Done():
		err = playCtx.Err()
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case playCtx.Err() != nil:
		return ErrPlaybackTimeout
	default:
		return fmt.Errorf("tts: play: %w", err)
	}
}
