package tts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
	audiomock "github.com/MrWong99/sofi/pkg/audio/mock"
	"github.com/MrWong99/sofi/pkg/provider/tts"
	"github.com/MrWong99/sofi/pkg/provider/tts/mock"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Ciao, come stai?", "Ciao, come stai?"},
		{"**Certo!** Ecco la risposta 😊", "Certo! Ecco la risposta"},
		{"perché – è così (forse)", "perché – è così (forse)"},
		{"# Titolo\n- punto @ 3 #x", "Titolo\n- punto  3 x"},
		{"🙂🙂", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := tts.CleanText(tc.in); got != tc.want {
			t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSpeak_SynthesizesAndPlays(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{Audio: make([]byte, 3200), Format: audio.Mono16k}
	player := &audiomock.Player{}
	s := tts.NewSpeaker(prov, player, "voice-1")

	if err := s.Speak(context.Background(), "**Ciao** a tutti!"); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	calls := prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if calls[0].Text != "Ciao a tutti!" || calls[0].Voice != "voice-1" {
		t.Errorf("synthesize call = %+v", calls[0])
	}
	plays := player.PlayCalls()
	if len(plays) != 1 || len(plays[0].PCM) != 3200 || plays[0].Format != audio.Mono16k {
		t.Errorf("play calls = %d", len(plays))
	}
	if s.Speaking() {
		t.Error("Speaking() should be false after Speak returns")
	}
}

func TestSpeak_EmptyAfterCleaningIsNoop(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{}
	s := tts.NewSpeaker(prov, &audiomock.Player{}, "v")
	if err := s.Speak(context.Background(), "🎉🎉"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if n := len(prov.Calls()); n != 0 {
		t.Errorf("synthesize calls = %d, want 0", n)
	}
}

func TestSpeak_RefusesWhileSpeaking(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	prov := &mock.Provider{Audio: make([]byte, 320), Format: audio.Mono16k, Block: block}
	s := tts.NewSpeaker(prov, &audiomock.Player{}, "v")

	first := make(chan error, 1)
	go func() { first <- s.Speak(context.Background(), "uno") }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Speaking() {
		if time.Now().After(deadline) {
			t.Fatal("first Speak never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Speak(context.Background(), "due"); !errors.Is(err, tts.ErrBusy) {
		t.Errorf("second Speak err = %v, want ErrBusy", err)
	}

	close(block)
	if err := <-first; err != nil {
		t.Errorf("first Speak: %v", err)
	}
}

func TestSpeak_PlaybackTimeout(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{Audio: make([]byte, 320), Format: audio.Mono16k}
	player := &audiomock.Player{Delay: time.Second}
	s := tts.NewSpeaker(prov, player, "v", tts.WithPlaybackGrace(20*time.Millisecond))

	if err := s.Speak(context.Background(), "lento"); !errors.Is(err, tts.ErrPlaybackTimeout) {
		t.Errorf("err = %v, want ErrPlaybackTimeout", err)
	}
}

func TestSpeak_SynthesizeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	s := tts.NewSpeaker(&mock.Provider{SynthesizeErr: boom}, &audiomock.Player{}, "v")
	if err := s.Speak(context.Background(), "ciao"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
	if s.Speaking() {
		t.Error("Speaking() should reset after an error")
	}
}
