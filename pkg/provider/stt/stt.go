// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one captured phrase ([audio.Sample]) into text. The
// recognition worker calls it sequentially, one phrase at a time, so
// implementations never see concurrent calls from the pipeline; they must
// still be safe for concurrent use because fallback groups and tests may
// share them.
//
// Two outcomes besides success are distinguished:
//
//   - [ErrNoSpeech]: the backend understood nothing. This is routine (a
//     cough, background noise) and callers ignore it silently.
//   - any other error: the backend failed. Implementations wrap these in
//     [ServiceError] so logs name the provider.
package stt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/sofi/pkg/audio"
	"golang.org/x/text/language"
)

// ErrNoSpeech reports that a sample contained no recognisable speech.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Transcriber converts a captured phrase into text.
type Transcriber interface {
	// Transcribe returns the text spoken in sample. languageTag is a BCP-47
	// tag such as "it-IT"; an empty tag lets the backend auto-detect.
	// Returns [ErrNoSpeech] when nothing was understood.
	Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error)
}

// ServiceError wraps a backend failure with the provider's name.
type ServiceError struct {
	Provider string
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("stt: %s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Errorf builds a [ServiceError] for provider with a formatted cause.
func Errorf(provider, format string, args ...any) error {
	return &ServiceError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// BaseLanguage reduces a BCP-47 tag to its ISO 639-1 base language, which
// is what whisper-style backends expect ("it-IT" → "it"). Unparseable tags
// are returned lower-cased and unchanged.
func BaseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	base, _ := t.Base()
	return base.String()
}

// annotation matches the non-speech markers whisper models emit, such as
// "[BLANK_AUDIO]", "[Music]" or "(applause)".
var annotation = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// Normalize strips non-speech annotations and surrounding whitespace from a
// raw transcription. It returns [ErrNoSpeech] when nothing remains.
func Normalize(text string) (string, error) {
	text = annotation.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
