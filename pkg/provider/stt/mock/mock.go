// Package mock provides a test double for [stt.Transcriber].
//
// Results are scripted per call; once the script is exhausted every call
// returns Default. Calls are recorded so tests can assert on the language
// and audio the worker passed in.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Result{
//	    {Text: "sofi accendi la luce"},
//	    {Err: stt.ErrNoSpeech},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Result is the scripted outcome of one Transcribe call.
type Result struct {
	Text string
	Err  error
}

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Sample   audio.Sample
	Language string
}

// Transcriber is a mock [stt.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// Block, if non-nil, makes every call wait until it is closed or the
	// context is done.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Sample: sample, Language: languageTag})
	r := m.Default
	if len(m.Results) > 0 {
		r = m.Results[0]
		m.Results = m.Results[1:]
	}
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.Text, r.Err
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// TranscribeCalls returns a copy of the recorded calls.
func (m *Transcriber) TranscribeCalls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranscribeCall(nil), m.Calls...)
}
