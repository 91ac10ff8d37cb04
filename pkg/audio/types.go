package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the format every transcriber in this module accepts.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a short chunk of little-endian int16 PCM as delivered by a
// capture backend, typically 20–100 ms long.
type Frame struct {
	Data   []byte
	Format Format

	// Timestamp is the offset of the frame from the start of the stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration { return f.Format.Duration(len(f.Data)) }

// Sample is one captured phrase: the audio between the onset of speech and
// the pause (or phrase limit) that ended it. Samples travel through a
// [Channel] from the capture backend to the recognition worker and are
// discarded after transcription.
type Sample struct {
	PCM    []byte
	Format Format

	// CapturedAt is the wall-clock time the phrase ended.
	CapturedAt time.Time
}

// Duration returns the playback length of the sample.
func (s Sample) Duration() time.Duration { return s.Format.Duration(len(s.PCM)) }
