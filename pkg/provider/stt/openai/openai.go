// Package openai transcribes phrases with the OpenAI audio transcription
// endpoint (whisper-1, gpt-4o-transcribe) or any OpenAI-compatible server
// such as faster-whisper-server or LocalAI, via github.com/openai/openai-go.
package openai

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

const (
	providerName = "openai"
	defaultModel = oai.AudioModelWhisper1
)

var _ stt.Transcriber = (*Provider)(nil)

type config struct {
	baseURL string
	model   string
	prompt  string
	timeout time.Duration
}

// Option is a functional option for configuring a Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithPrompt sets a prompt that biases recognition, e.g. towards the wake
// word.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements [stt.Transcriber] on the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
	prompt string
}

// New creates a Provider. apiKey must be non-empty; OpenAI-compatible
// servers that ignore authentication accept any placeholder.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		prompt: cfg.prompt,
	}, nil
}

// wavFile names the upload so the API can infer the container format.
type wavFile struct {
	*bytes.Reader
}

func (wavFile) Filename() string    { return "audio.wav" }
func (wavFile) ContentType() string { return "audio/wav" }

// Transcribe uploads sample as WAV and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	if len(sample.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}

	params := oai.AudioTranscriptionNewParams{
		File:  wavFile{bytes.NewReader(audio.EncodeWAV(sample.PCM, sample.Format))},
		Model: oai.AudioModel(p.model),
	}
	if lang := stt.BaseLanguage(languageTag); lang != "" {
		params.Language = oai.String(lang)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", &stt.ServiceError{Provider: providerName, Err: err}
	}
	return stt.Normalize(resp.Text)
}
