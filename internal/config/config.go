// Package config provides the configuration schema, loader, provider
// registry and file watcher for sofi.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Audio source backends.
const (
	SourcePCM     = "pcm"
	SourceDiscord = "discord"
)

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader]; fields missing from the file keep the values of
// [Default].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Buffer      BufferConfig      `yaml:"buffer"`
	WakeWord    WakeWordConfig    `yaml:"wake_word"`
	System      SystemConfig      `yaml:"system"`
	Display     DisplayConfig     `yaml:"display"`
	Audio       AudioConfig       `yaml:"audio"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Sink        SinkConfig        `yaml:"sink"`
}

// ServerConfig holds the health server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics server. Empty
	// disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RecognitionConfig tunes phrase detection and transcription.
type RecognitionConfig struct {
	// Language is the BCP-47 tag passed to the transcriber, e.g. "it-IT".
	Language string `yaml:"language"`

	// EnergyThreshold is the initial RMS level that counts as speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// DynamicEnergyThreshold lets the threshold follow ambient noise.
	DynamicEnergyThreshold bool `yaml:"dynamic_energy_threshold"`

	// PauseThreshold is the silence that ends a phrase.
	PauseThreshold time.Duration `yaml:"pause_threshold"`

	// NonSpeakingDuration is the silence kept on both sides of a phrase.
	NonSpeakingDuration time.Duration `yaml:"non_speaking_duration"`

	// CalibrationDuration is how long ambient noise is sampled at start-up.
	// Zero skips calibration.
	CalibrationDuration time.Duration `yaml:"calibration_duration"`

	// PhraseTimeLimit caps a single phrase.
	PhraseTimeLimit time.Duration `yaml:"phrase_time_limit"`
}

// BufferConfig holds the accumulator timings.
type BufferConfig struct {
	Delay     time.Duration `yaml:"delay"`
	Extension time.Duration `yaml:"extension"`
	MaxHold   time.Duration `yaml:"max_hold"`
	Countdown time.Duration `yaml:"countdown"`
}

// WakeWordConfig configures the wake-word gate.
type WakeWordConfig struct {
	Enabled bool          `yaml:"enabled"`
	Word    string        `yaml:"word"`
	Timeout time.Duration `yaml:"timeout"`

	// Fuzzy also accepts words that sound like Word.
	Fuzzy bool `yaml:"fuzzy"`
}

// SystemConfig holds shutdown timings.
type SystemConfig struct {
	// JoinTimeout bounds the wait for the recognition worker to exit.
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DisplayConfig overrides the console strings. Empty fields keep the
// built-in text.
type DisplayConfig struct {
	Progress         string `yaml:"progress"`
	ShowProgress     bool   `yaml:"show_progress"`
	RecognizedPrefix string `yaml:"recognized_prefix"`
	WakeDetected     string `yaml:"wake_detected"`
	BufferPrefix     string `yaml:"buffer_prefix"`
	BufferSuffix     string `yaml:"buffer_suffix"`
	CountdownFormat  string `yaml:"countdown_format"`
	Sending          string `yaml:"sending"`
	ResponsePrefix   string `yaml:"response_prefix"`
	ErrorPrefix      string `yaml:"error_prefix"`
}

// AudioConfig selects and tunes the capture backend.
type AudioConfig struct {
	// Source is "pcm" or "discord".
	Source string `yaml:"source"`

	// Device selects the endpoint: "-" or a file path for pcm, a voice
	// channel ID for discord. Overridden by the -device flag.
	Device string `yaml:"device"`

	// SampleRate and Channels describe headerless PCM input.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FrameDuration is the length of the frames fed to phrase detection.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// SearchDir is scanned by -list-devices for PCM files and pipes.
	SearchDir string `yaml:"search_dir"`

	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig holds the bot credentials for the discord source.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
}

// ProvidersConfig selects the provider for each collaborator. Names are
// looked up in a [Registry].
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation, e.g. "whisper".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// SinkConfig configures delivery of utterances.
type SinkConfig struct {
	// Timeout bounds a single delivery.
	Timeout time.Duration `yaml:"timeout"`

	// SystemPrompt is sent ahead of every utterance.
	SystemPrompt string `yaml:"system_prompt"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// SpeakResponses reads replies aloud through the TTS provider.
	SpeakResponses bool `yaml:"speak_responses"`

	// Voice is the TTS voice ID used for replies.
	Voice string `yaml:"voice"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
		Recognition: RecognitionConfig{
			Language:               "it-IT",
			EnergyThreshold:        300,
			DynamicEnergyThreshold: true,
			PauseThreshold:         300 * time.Millisecond,
			NonSpeakingDuration:    300 * time.Millisecond,
			CalibrationDuration:    time.Second,
			PhraseTimeLimit:        5 * time.Second,
		},
		Buffer: BufferConfig{
			Delay:     2 * time.Second,
			Extension: time.Second,
			MaxHold:   10 * time.Second,
			Countdown: 3 * time.Second,
		},
		WakeWord: WakeWordConfig{
			Enabled: true,
			Word:    "sofi",
			Timeout: 10 * time.Second,
		},
		System: SystemConfig{
			JoinTimeout:     time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Display: DisplayConfig{ShowProgress: true},
		Audio: AudioConfig{
			Source:        SourcePCM,
			Device:        "-",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: 30 * time.Millisecond,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "whisper"},
			LLM: ProviderEntry{Name: "gemini"},
		},
		Sink: SinkConfig{
			Timeout: 10 * time.Second,
			Breaker: BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
		},
	}
}

// ApplyDefaults fills zero-valued numeric, duration and string fields of
// cfg from [Default]. Booleans are left alone because false is a valid
// choice.
func ApplyDefaults(cfg *Config) {
	d := Default()

	setStr(&cfg.Server.LogLevel, d.Server.LogLevel)

	setStr(&cfg.Recognition.Language, d.Recognition.Language)
	setNum(&cfg.Recognition.EnergyThreshold, d.Recognition.EnergyThreshold)
	setNum(&cfg.Recognition.PauseThreshold, d.Recognition.PauseThreshold)
	setNum(&cfg.Recognition.PhraseTimeLimit, d.Recognition.PhraseTimeLimit)

	setNum(&cfg.Buffer.Delay, d.Buffer.Delay)

	setStr(&cfg.WakeWord.Word, d.WakeWord.Word)
	setNum(&cfg.WakeWord.Timeout, d.WakeWord.Timeout)

	setNum(&cfg.System.JoinTimeout, d.System.JoinTimeout)
	setNum(&cfg.System.ShutdownTimeout, d.System.ShutdownTimeout)

	setStr(&cfg.Audio.Source, d.Audio.Source)
	setNum(&cfg.Audio.SampleRate, d.Audio.SampleRate)
	setNum(&cfg.Audio.Channels, d.Audio.Channels)
	setNum(&cfg.Audio.FrameDuration, d.Audio.FrameDuration)

	setStr(&cfg.Providers.STT.Name, d.Providers.STT.Name)

	setNum(&cfg.Sink.Timeout, d.Sink.Timeout)
	setNum(&cfg.Sink.Breaker.MaxFailures, d.Sink.Breaker.MaxFailures)
	setNum(&cfg.Sink.Breaker.ResetTimeout, d.Sink.Breaker.ResetTimeout)
}

func setStr[T ~string](v *T, def T) {
	if *v == "" {
		*v = def
	}
}

func setNum[T ~int | ~int64 | ~float64](v *T, def T) {
	if *v == 0 {
		*v = def
	}
}
