package discord

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/audio/listener"
	"github.com/bwmarrin/discordgo"
)

// newTestSource returns a Source whose voice connection is a fake with
// buffered Opus channels and no websocket.
func newTestSource(t *testing.T) (*Source, *discordgo.VoiceConnection) {
	t.Helper()

	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 256),
		OpusRecv: make(chan *discordgo.Packet, 256),
	}
	cfg := listener.DefaultConfig()
	cfg.Dynamic = false
	s := New(&discordgo.Session{}, "guild-test", cfg)
	s.join = func(string) (*discordgo.VoiceConnection, error) { return vc, nil }
	s.leave = func(*discordgo.VoiceConnection) error { return nil }
	t.Cleanup(func() { _ = s.Close() })
	return s, vc
}

// sine returns one 20 ms Discord frame of a 440 Hz tone.
func sine(amplitude float64, offset int) []byte {
	samples := make([]int16, opusFrameSize*opusChannels)
	for i := range opusFrameSize {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(offset+i)/opusSampleRate))
		samples[i*2] = v
		samples[i*2+1] = v
	}
	return audio.Bytes(samples)
}

func TestOpen_RequiresChannel(t *testing.T) {
	t.Parallel()

	s, _ := newTestSource(t)
	if err := s.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty channel ID")
	}
}

func TestOpen_JoinError(t *testing.T) {
	t.Parallel()

	s, _ := newTestSource(t)
	s.join = func(string) (*discordgo.VoiceConnection, error) { return nil, errors.New("boom") }
	if err := s.Open(context.Background(), "chan-1"); err == nil {
		t.Fatal("expected join error")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestSource(t)
	if err := s.Open(context.Background(), "chan-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := range 3 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close[%d]: %v", i, err)
		}
	}
}

func TestNotConnected(t *testing.T) {
	t.Parallel()

	s, _ := newTestSource(t)
	ctx := context.Background()
	if _, err := s.Listen(ctx, audio.NewChannel(), time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Listen = %v, want ErrNotConnected", err)
	}
	if err := s.Play(ctx, make([]byte, 100), audio.Mono16k); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Play = %v, want ErrNotConnected", err)
	}
}

func TestPlay_SendsWholeFrames(t *testing.T) {
	t.Parallel()

	s, vc := newTestSource(t)
	if err := s.Open(context.Background(), "chan-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// 50 ms of 16 kHz mono becomes 2.5 Discord frames, padded to 3.
	pcm := make([]byte, audio.Mono16k.BytesPerSecond()/20)
	if err := s.Play(context.Background(), pcm, audio.Mono16k); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := len(vc.OpusSend); got != 3 {
		t.Errorf("packets sent = %d, want 3", got)
	}
}

func TestListen_SegmentsSpeaker(t *testing.T) {
	t.Parallel()

	s, vc := newTestSource(t)
	ctx := context.Background()
	if err := s.Open(ctx, "chan-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch := audio.NewChannel()
	stop, err := s.Listen(ctx, ch, 5*time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer stop()

	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	send := func(pcm []byte, seq int) {
		packet, err := enc.encode(pcm)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Sequence: uint16(seq), Timestamp: uint32(seq * opusFrameSize), Opus: packet}
	}
	for i := range 40 {
		send(sine(8000, i*opusFrameSize), i)
	}
	for i := 40; i < 80; i++ {
		send(make([]byte, opusFrameBytes), i)
	}

	popCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	smp, err := ch.Pop(popCtx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if smp.Format != audio.Mono16k {
		t.Errorf("format = %v, want %v", smp.Format, audio.Mono16k)
	}
	if d := smp.Duration(); d < 500*time.Millisecond {
		t.Errorf("duration = %v, want at least 500ms", d)
	}
}
