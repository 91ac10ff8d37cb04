// Package deepgram transcribes phrases with Deepgram's live-streaming API.
//
// Each call to [Provider.Transcribe] opens one websocket session
// (github.com/coder/websocket), streams the phrase as linear16 PCM, sends
// CloseStream, and collects the final results until Deepgram closes the
// connection. Streaming a finished phrase keeps latency close to the batch
// REST API while sharing one code path with live capture setups.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	providerName    = "deepgram"
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-2"

	// chunkBytes is the amount of audio sent per websocket message.
	chunkBytes = 3200 // 100 ms of 16 kHz mono
)

var _ stt.Transcriber = (*Provider)(nil)

// Keyword boosts recognition of an uncommon word such as the wake word.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (default "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithKeywords sets keyword boosts sent with every session.
func WithKeywords(kw ...Keyword) Option {
	return func(p *Provider) { p.keywords = kw }
}

// WithEndpoint overrides the websocket endpoint, e.g. for a self-hosted
// Deepgram deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements [stt.Transcriber] on Deepgram.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	keywords []Keyword
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) buildURL(f audio.Format, languageTag string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))
	q.Set("punctuate", "true")
	if languageTag != "" {
		q.Set("language", languageTag)
	}
	for _, kw := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe streams sample to Deepgram and returns the joined final
// transcripts.
func (p *Provider) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	if len(sample.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}

	wsURL, err := p.buildURL(sample.Format, languageTag)
	if err != nil {
		return "", stt.Errorf(providerName, "build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", stt.Errorf(providerName, "dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, sample.PCM)
	}()

	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return "", stt.Errorf(providerName, "read: %w", err)
		}
		text, final, ok := parseResponse(msg)
		if ok && final && text != "" {
			finals = append(finals, text)
		}
	}

	if err := <-writeErr; err != nil {
		return "", stt.Errorf(providerName, "write: %w", err)
	}
	return stt.Normalize(strings.Join(finals, " "))
}

// send streams pcm in fixed-size chunks followed by CloseStream.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse extracts the top alternative of a "Results" message.
func parseResponse(data []byte) (text string, final, ok bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
