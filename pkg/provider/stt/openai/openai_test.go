package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

func newFakeServer(t *testing.T, status int, text string, form map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			form["filename"] = fh[0].Filename
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe(t *testing.T) {
	form := map[string]string{}
	srv := newFakeServer(t, http.StatusOK, " spegni tutto ", form)
	p, err := New("key", WithBaseURL(srv.URL), WithPrompt("sofi"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), audio.Sample{PCM: make([]byte, 320), Format: audio.Mono16k}, "it-IT")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "spegni tutto" {
		t.Errorf("text = %q", text)
	}
	if form["language"] != "it" {
		t.Errorf("language = %q, want it", form["language"])
	}
	if form["model"] != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", form["model"])
	}
	if form["prompt"] != "sofi" {
		t.Errorf("prompt = %q", form["prompt"])
	}
	if form["filename"] != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", form["filename"])
	}
}

func TestTranscribe_EmptyTextIsNoSpeech(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, "", map[string]string{})
	p, _ := New("key", WithBaseURL(srv.URL))

	_, err := p.Transcribe(context.Background(), audio.Sample{PCM: make([]byte, 320), Format: audio.Mono16k}, "")
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_APIErrorIsServiceError(t *testing.T) {
	srv := newFakeServer(t, http.StatusBadRequest, "", map[string]string{})
	p, _ := New("key", WithBaseURL(srv.URL))

	_, err := p.Transcribe(context.Background(), audio.Sample{PCM: make([]byte, 320), Format: audio.Mono16k}, "it")
	var se *stt.ServiceError
	if !errors.As(err, &se) || se.Provider != "openai" {
		t.Errorf("err = %v, want openai ServiceError", err)
	}
}
