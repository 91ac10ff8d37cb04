package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestRemix_StereoToMono(t *testing.T) {
	t.Parallel()

	in := Bytes([]int16{100, 300, -200, -400, 32767, 32767})
	got := Int16s(Remix(in, 2, 1))
	want := []int16{200, -300, 32767}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRemix_MonoToStereo(t *testing.T) {
	t.Parallel()

	got := Int16s(Remix(Bytes([]int16{1, -2}), 1, 2))
	want := []int16{1, 1, -2, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		channels  int
		src, dst  int
		inFrames  int
		outFrames int
	}{
		{"downsample mono 48k to 16k", 1, 48000, 16000, 960, 320},
		{"upsample mono 16k to 48k", 1, 16000, 48000, 320, 960},
		{"downsample stereo", 2, 48000, 16000, 960, 320},
		{"same rate", 1, 16000, 16000, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]byte, tt.inFrames*tt.channels*2)
			out := Resample(in, tt.channels, tt.src, tt.dst)
			if got := len(out) / (tt.channels * 2); got != tt.outFrames {
				t.Errorf("frames = %d, want %d", got, tt.outFrames)
			}
		})
	}
}

func TestResample_InvalidRateIsNoop(t *testing.T) {
	t.Parallel()

	in := Bytes([]int16{1, 2, 3})
	if out := Resample(in, 1, 0, 16000); !bytes.Equal(out, in) {
		t.Error("zero source rate should return input unchanged")
	}
}

func TestConverter(t *testing.T) {
	t.Parallel()

	conv := Converter{Target: Mono16k}

	same := Frame{Data: make([]byte, 640), Format: Mono16k}
	if got := conv.Convert(same); &got.Data[0] != &same.Data[0] {
		t.Error("matching format should not copy")
	}

	stereo48 := Frame{Data: make([]byte, 3840), Format: Format{SampleRate: 48000, Channels: 2}}
	got := conv.Convert(stereo48)
	if got.Format != Mono16k {
		t.Errorf("format = %v, want %v", got.Format, Mono16k)
	}
	if len(got.Data) != 640 {
		t.Errorf("len = %d, want 640", len(got.Data))
	}
	if d := got.Duration(); d != 20*time.Millisecond {
		t.Errorf("duration = %v, want 20ms", d)
	}

	odd := Frame{Data: make([]byte, 3), Format: Mono16k}
	if got := conv.Convert(odd); got.Data != nil {
		t.Error("odd byte count should drop the frame")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	got := RMS(Bytes([]int16{1000, -1000, 1000, -1000}))
	if math.Abs(got-1000) > 1e-9 {
		t.Errorf("RMS = %v, want 1000", got)
	}
}

func TestWAV_RoundTripHeader(t *testing.T) {
	t.Parallel()

	pcm := Bytes([]int16{1, 2, 3, 4})
	wav := EncodeWAV(pcm, Mono16k)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}

	r := bytes.NewReader(wav)
	f, err := ReadWAVHeader(r)
	if err != nil {
		t.Fatalf("ReadWAVHeader: %v", err)
	}
	if f != Mono16k {
		t.Errorf("format = %v, want %v", f, Mono16k)
	}
	rest := make([]byte, len(pcm))
	if _, err := r.Read(rest); err != nil || !bytes.Equal(rest, pcm) {
		t.Errorf("reader not positioned at PCM data: %v", err)
	}
}

func TestReadWAVHeader_NotWAV(t *testing.T) {
	t.Parallel()

	_, err := ReadWAVHeader(bytes.NewReader(make([]byte, 64)))
	if err != ErrNotWAV {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	if got := (Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("got %q", got)
	}
	if got := Mono16k.String(); got != "16000Hz mono" {
		t.Errorf("got %q", got)
	}
}
