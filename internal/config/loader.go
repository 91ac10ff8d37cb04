package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Unknown
// names only produce a warning since a custom [Registry] may add more.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default], fills remaining zero
// values with [ApplyDefaults] and validates the result. Unknown keys are an
// error. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherence and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	rc := cfg.Recognition
	if _, err := language.Parse(rc.Language); err != nil {
		add("recognition.language %q is not a BCP-47 tag: %w", rc.Language, err)
	}
	if rc.EnergyThreshold < 0 {
		add("recognition.energy_threshold must not be negative")
	}
	if rc.PauseThreshold < 0 || rc.NonSpeakingDuration < 0 || rc.CalibrationDuration < 0 {
		add("recognition durations must not be negative")
	}
	if rc.PhraseTimeLimit <= 0 {
		add("recognition.phrase_time_limit must be positive")
	}

	bc := cfg.Buffer
	if bc.Delay <= 0 {
		add("buffer.delay must be positive")
	}
	if bc.Extension < 0 || bc.Countdown < 0 || bc.MaxHold < 0 {
		add("buffer durations must not be negative")
	}
	if bc.MaxHold > 0 && bc.MaxHold < bc.Delay {
		slog.Warn("config: buffer.max_hold is shorter than buffer.delay; long utterances flush on the hold limit",
			"max_hold", bc.MaxHold, "delay", bc.Delay)
	}

	if cfg.WakeWord.Enabled {
		if cfg.WakeWord.Word == "" {
			add("wake_word.word is required when wake_word.enabled is true")
		}
		if cfg.WakeWord.Timeout <= 0 {
			add("wake_word.timeout must be positive")
		}
	}

	if cfg.System.JoinTimeout <= 0 {
		add("system.join_timeout must be positive")
	}
	if cfg.System.ShutdownTimeout <= 0 {
		add("system.shutdown_timeout must be positive")
	}

	ac := cfg.Audio
	switch ac.Source {
	case SourcePCM:
		if ac.SampleRate <= 0 {
			add("audio.sample_rate must be positive")
		}
		if ac.Channels != 1 && ac.Channels != 2 {
			add("audio.channels must be 1 or 2, got %d", ac.Channels)
		}
	case SourceDiscord:
		if ac.Discord.Token == "" {
			add("audio.discord.token is required for the discord source")
		}
		if ac.Discord.GuildID == "" {
			add("audio.discord.guild_id is required for the discord source")
		}
	default:
		add("audio.source %q is invalid; valid values: pcm, discord", ac.Source)
	}

	if cfg.Providers.STT.Name == "" {
		add("providers.stt.name is required")
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
		}
		validateProviderName("stt", e.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			add("providers.llm_fallbacks[%d].name is required", i)
		}
		validateProviderName("llm", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("config: providers.llm is not configured; utterances will not be delivered")
	}
	if cfg.Sink.Timeout <= 0 {
		add("sink.timeout must be positive")
	}
	if cfg.Sink.SpeakResponses {
		if cfg.Providers.TTS.Name == "" {
			add("sink.speak_responses requires providers.tts")
		}
		if cfg.Audio.Source != SourceDiscord {
			slog.Warn("config: sink.speak_responses needs a source that can play audio; only discord can", "source", cfg.Audio.Source)
		}
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidProviderNames[kind]
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
