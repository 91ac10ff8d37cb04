// This file contains the NativeProvider backed by the whisper.cpp cgo
// bindings. libwhisper.a and whisper.h must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const nativeProviderName = "whisper-native"

var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements [stt.Transcriber] in-process. The model is
// loaded once; every call gets a fresh whisper context because contexts are
// not safe for concurrent use.
type NativeProvider struct {
	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// NewNative loads the ggml model at modelPath. The caller must call Close.
func NewNative(modelPath string) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{model: model}, nil
}

// Close releases the model. It is safe to call more than once.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Transcribe runs inference on sample. ctx is checked before inference
// starts; whisper.cpp cannot be interrupted mid-run.
func (p *NativeProvider) Transcribe(ctx context.Context, sample audio.Sample, languageTag string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(sample.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", stt.Errorf(nativeProviderName, "provider closed")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", stt.Errorf(nativeProviderName, "create context: %w", err)
	}
	if lang := stt.BaseLanguage(languageTag); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: unsupported language, using auto-detect", "language", lang, "error", err)
		}
	}

	if err := wctx.Process(toFloat32(sample), nil, nil, nil); err != nil {
		return "", stt.Errorf(nativeProviderName, "process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", stt.Errorf(nativeProviderName, "read segment: %w", err)
		}
		parts = append(parts, segment.Text)
	}
	return stt.Normalize(strings.Join(parts, " "))
}

// toFloat32 converts a sample to the 16 kHz mono float32 signal whisper
// expects, normalised to [-1, 1).
func toFloat32(sample audio.Sample) []float32 {
	pcm := audio.ConvertPCM(sample.PCM, sample.Format, audio.Mono16k)
	samples := audio.Int16s(pcm)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
