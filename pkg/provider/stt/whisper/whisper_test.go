package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	"github.com/MrWong99/sofi/pkg/provider/stt/whisper"
)

type captured struct {
	fields map[string]string
	wav    []byte
}

// newMockServer answers POST /inference with responseText and records the
// form of the last request.
func newMockServer(t *testing.T, status int, responseText string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			got.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				got.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				got.wav, _ = io.ReadAll(f)
				f.Close()
			}
		}
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speech() audio.Sample {
	return audio.Sample{PCM: make([]byte, 3200), Format: audio.Mono16k}
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()

	var got captured
	srv := newMockServer(t, http.StatusOK, "  accendi la luce ", &got)
	p, err := whisper.New(srv.URL, whisper.WithModel("small"), whisper.WithPrompt("sofi"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), speech(), "it-IT")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "accendi la luce" {
		t.Errorf("text = %q", text)
	}
	if got.fields["language"] != "it" {
		t.Errorf("language = %q, want it", got.fields["language"])
	}
	if got.fields["model"] != "small" || got.fields["prompt"] != "sofi" {
		t.Errorf("fields = %v", got.fields)
	}
	if len(got.wav) != 44+3200 || string(got.wav[0:4]) != "RIFF" {
		t.Errorf("uploaded file is not the expected WAV (%d bytes)", len(got.wav))
	}
}

func TestTranscribe_BlankAudioIsNoSpeech(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, http.StatusOK, "[BLANK_AUDIO]", nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speech(), "it-IT")
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_EmptySampleIsNoSpeech(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:0")
	_, err := p.Transcribe(context.Background(), audio.Sample{}, "it-IT")
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_ServerErrorIsServiceError(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, http.StatusInternalServerError, "", nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speech(), "it-IT")
	var se *stt.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *stt.ServiceError", err)
	}
	if se.Provider != "whisper" {
		t.Errorf("provider = %q", se.Provider)
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		t.Error("server error must not look like no speech")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, http.StatusOK, "ciao", nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Transcribe(ctx, speech(), "it-IT"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
