package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sofi/internal/config"
	"github.com/MrWong99/sofi/internal/resilience"
	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/audio/discord"
	"github.com/MrWong99/sofi/pkg/audio/listener"
	"github.com/MrWong99/sofi/pkg/audio/pcm"
	"github.com/MrWong99/sofi/pkg/provider/llm"
	"github.com/MrWong99/sofi/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/sofi/pkg/provider/llm/openai"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	"github.com/MrWong99/sofi/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/sofi/pkg/provider/stt/openai"
	"github.com/MrWong99/sofi/pkg/provider/stt/whisper"
	"github.com/MrWong99/sofi/pkg/provider/tts"
	"github.com/MrWong99/sofi/pkg/provider/tts/elevenlabs"
)

// defaultWhisperURL is used when the whisper entry has no base_url.
const defaultWhisperURL = "http://localhost:8080"

// ResourceInitError reports a collaborator that could not be created or
// opened. Kind is "stt", "llm", "tts", "audio" or "health".
type ResourceInitError struct {
	Kind string
	Name string
	Err  error
}

func (e *ResourceInitError) Error() string {
	return fmt.Sprintf("app: init %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ResourceInitError) Unwrap() error { return e.Err }

// Providers holds the collaborators the pipeline is built from. Only
// Transcriber and Source are required; a nil LLM disables delivery and a
// nil TTS disables spoken replies.
type Providers struct {
	Transcriber stt.Transcriber
	STTName     string

	LLM     llm.Provider
	LLMName string

	TTS tts.Provider

	Source audio.Source

	// owned lists every provider BuildProviders created, fallbacks
	// included.
	owned []any
}

// Close releases providers that hold resources of their own, such as a
// loaded whisper model. The capture source is closed separately.
func (p *Providers) Close() error {
	owned := p.owned
	if owned == nil {
		owned = []any{p.Transcriber, p.LLM, p.TTS}
	}
	var errs []error
	for _, v := range owned {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// RegisterBuiltins wires every provider and capture backend shipped with
// sofi into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Transcriber, error) {
		url := e.BaseURL
		if url == "" {
			url = defaultWhisperURL
		}
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if p := config.OptionValue(e, "prompt", ""); p != "" {
			opts = append(opts, whisper.WithPrompt(p))
		}
		return whisper.New(url, opts...)
	})

	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Transcriber, error) {
		path := e.Model
		if path == "" {
			path = config.OptionValue(e, "model_path", "")
		}
		return whisper.NewNative(path)
	})

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, oastt.WithModel(e.Model))
		}
		if p := config.OptionValue(e, "prompt", ""); p != "" {
			opts = append(opts, oastt.WithPrompt(p))
		}
		return oastt.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		if kw := config.OptionValue(e, "keyword", ""); kw != "" {
			opts = append(opts, deepgram.WithKeywords(deepgram.Keyword{
				Word:  kw,
				Boost: config.OptionValue(e, "keyword_boost", 2.0),
			}))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend shares the same pattern: optional APIKey and
	// optional BaseURL. "openai" goes through the official SDK instead.

	for _, name := range anyllm.Supported {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if org := config.OptionValue(e, "organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(e.APIKey, e.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if f := config.OptionValue(e, "output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterSource(config.SourcePCM, func(cfg *config.Config) (audio.Source, error) {
		return pcm.New(listenerConfig(cfg),
			pcm.WithFormat(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}),
			pcm.WithFrameDuration(cfg.Audio.FrameDuration),
			pcm.WithSearchDir(cfg.Audio.SearchDir),
		), nil
	})

	reg.RegisterSource(config.SourceDiscord, func(cfg *config.Config) (audio.Source, error) {
		session, err := discord.NewSession(cfg.Audio.Discord.Token)
		if err != nil {
			return nil, err
		}
		return discord.New(session, cfg.Audio.Discord.GuildID, listenerConfig(cfg)), nil
	})
}

// listenerConfig maps the recognition settings onto the phrase detector.
func listenerConfig(cfg *config.Config) listener.Config {
	lc := listener.DefaultConfig()
	lc.EnergyThreshold = cfg.Recognition.EnergyThreshold
	lc.Dynamic = cfg.Recognition.DynamicEnergyThreshold
	lc.Pause = cfg.Recognition.PauseThreshold
	lc.NonSpeaking = cfg.Recognition.NonSpeakingDuration
	return lc
}

// BuildProviders instantiates every collaborator named in cfg through reg.
// The transcriber and the capture source are mandatory; a failing LLM or
// TTS is logged and left nil.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, &ResourceInitError{Kind: "stt", Name: cfg.Providers.STT.Name, Err: err}
	}
	ps.Transcriber, ps.STTName = primary, cfg.Providers.STT.Name
	ps.owned = append(ps.owned, primary)
	slog.Info("app: provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewTranscribers(primary, cfg.Providers.STT.Name, fallbackConfig(cfg))
		for _, e := range cfg.Providers.STTFallbacks {
			tr, err := reg.CreateSTT(e)
			if err != nil {
				slog.Warn("app: skipping stt fallback", "name", e.Name, "err", err)
				continue
			}
			ps.owned = append(ps.owned, tr)
			group.AddFallback(e.Name, tr)
		}
		ps.Transcriber = group
		slog.Info("app: stt fallback chain", "providers", group.Names())
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			slog.Error("app: sink disabled", "err", &ResourceInitError{Kind: "llm", Name: name, Err: err})
		} else {
			ps.LLM, ps.LLMName = p, name
			ps.owned = append(ps.owned, p)
			slog.Info("app: provider created", "kind", "llm", "name", name)
		}
	}
	if ps.LLM != nil && len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewCompleters(ps.LLM, ps.LLMName, fallbackConfig(cfg))
		for _, e := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				slog.Warn("app: skipping llm fallback", "name", e.Name, "err", err)
				continue
			}
			ps.owned = append(ps.owned, p)
			group.AddFallback(e.Name, p)
		}
		ps.LLM = group
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			slog.Error("app: spoken replies disabled", "err", &ResourceInitError{Kind: "tts", Name: name, Err: err})
		} else {
			ps.TTS = p
			ps.owned = append(ps.owned, p)
			slog.Info("app: provider created", "kind", "tts", "name", name)
		}
	}

	src, err := reg.CreateSource(cfg)
	if err != nil {
		_ = ps.Close()
		return nil, &ResourceInitError{Kind: "audio", Name: cfg.Audio.Source, Err: err}
	}
	ps.Source = src

	return ps, nil
}

// fallbackConfig builds the per-provider breaker settings of a fallback
// group from the sink breaker section.
func fallbackConfig(cfg *config.Config) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Sink.Breaker.MaxFailures,
			ResetTimeout: max(cfg.Sink.Breaker.ResetTimeout, time.Second),
		},
	}
}
