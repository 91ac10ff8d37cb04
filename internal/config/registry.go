package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/llm"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	"github.com/MrWong99/sofi/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SourceFactory builds a capture backend from the whole configuration.
type SourceFactory func(cfg *Config) (audio.Source, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm     map[string]func(ProviderEntry) (llm.Provider, error)
	tts     map[string]func(ProviderEntry) (tts.Provider, error)
	sources map[string]SourceFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm:     make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:     make(map[string]func(ProviderEntry) (tts.Provider, error)),
		sources: make(map[string]SourceFactory),
	}
}

// RegisterSTT registers a transcriber factory under name. A later call with
// the same name replaces the earlier one.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSource registers a capture backend factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateSTT builds the transcriber registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM builds the language model registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS builds the synthesiser registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSource builds the capture backend named by cfg.Audio.Source.
func (r *Registry) CreateSource(cfg *Config) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Audio.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Audio.Source)
	}
	return factory(cfg)
}

// Names returns the sorted names registered for kind ("stt", "llm", "tts"
// or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	switch kind {
	case "stt":
		out = keys(r.stt)
	case "llm":
		out = keys(r.llm)
	case "tts":
		out = keys(r.tts)
	case "audio":
		out = keys(r.sources)
	}
	slices.Sort(out)
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// OptionValue reads a provider-specific option, falling back to def when the key
// is missing or holds another type.
func OptionValue[T any](e ProviderEntry, key string, def T) T {
	v, ok := e.Options[key]
	if !ok {
		return def
	}
	t, ok := v.(T)
	if !ok {
		return def
	}
	return t
}
