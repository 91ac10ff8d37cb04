// Package whisper transcribes phrases with whisper.cpp, either through a
// running whisper-server (HTTP POST /inference, [Provider]) or in-process
// through the cgo bindings ([NativeProvider]).
//
// whisper.cpp is a batch engine, which suits the pipeline: every captured
// phrase is one inference request.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithModel("small"))
//	text, err := p.Transcribe(ctx, sample, "it-IT")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

const (
	providerName   = "whisper"
	defaultTimeout = 30 * time.Second
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithPrompt sets an initial prompt that biases recognition towards the
// given vocabulary, e.g. the wake word.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// Provider implements [stt.Transcriber] against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	prompt     string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads sample as a WAV file and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	if len(sample.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}

	body, contentType, err := p.form(sample, stt.BaseLanguage(languageTag))
	if err != nil {
		return "", &stt.ServiceError{Provider: providerName, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", stt.Errorf(providerName, "create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", stt.Errorf(providerName, "http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", stt.Errorf(providerName, "server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", stt.Errorf(providerName, "parse response: %w", err)
	}
	return stt.Normalize(result.Text)
}

// form builds the multipart body for one inference request.
func (p *Provider) form(sample audio.Sample, lang string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(sample.PCM, sample.Format)); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"language":        lang,
		"model":           p.model,
		"prompt":          p.prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
