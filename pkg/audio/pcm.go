package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Converter brings frames of any format to a fixed target format. The first
// mismatch and the first malformed frame are logged once each.
//
// A Converter belongs to a single stream and is not safe for concurrent use.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as is. Frames with an odd byte count cannot be int16
// PCM and come back with nil Data.
func (c *Converter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio: odd byte count in PCM frame, dropping", "bytes", len(frame.Data), "format", frame.Format)
		})
		return Frame{Format: c.Target, Timestamp: frame.Timestamp}
	}
	if frame.Format == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Debug("audio: converting stream", "from", frame.Format, "to", c.Target)
	})
	return Frame{
		Data:      ConvertPCM(frame.Data, frame.Format, c.Target),
		Format:    c.Target,
		Timestamp: frame.Timestamp,
	}
}

// ConvertPCM resamples and remixes interleaved int16 PCM from one format to
// another. Resampling happens first while the channel count is unchanged,
// then channels are mixed down (averaged) or duplicated.
func ConvertPCM(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	if from.SampleRate != to.SampleRate {
		pcm = Resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}
	if from.Channels != to.Channels {
		pcm = Remix(pcm, from.Channels, to.Channels)
	}
	return pcm
}

// Resample converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation. Invalid rates return the
// input untouched.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * 2
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			putSample(out, i*channels+ch, int32(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

// Remix changes the channel count of interleaved int16 PCM. Down-mixing
// averages all source channels; up-mixing copies the mono signal (or the
// average of the source channels) into every output channel.
func Remix(pcm []byte, srcChannels, dstChannels int) []byte {
	if srcChannels <= 0 || dstChannels <= 0 || srcChannels == dstChannels {
		return pcm
	}
	frames := len(pcm) / (srcChannels * 2)
	out := make([]byte, frames*dstChannels*2)
	for i := range frames {
		var sum int32
		for ch := range srcChannels {
			sum += int32(sampleAt(pcm, i*srcChannels+ch))
		}
		avg := sum / int32(srcChannels)
		for ch := range dstChannels {
			putSample(out, i*dstChannels+ch, avg)
		}
	}
	return out
}

// RMS returns the root-mean-square amplitude of int16 PCM. It is the energy
// measure compared against the listener's energy threshold.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Int16s decodes little-endian PCM bytes into samples.
func Int16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = sampleAt(b, i)
	}
	return out
}

// Bytes encodes samples as little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int32) {
	v = max(min(v, math.MaxInt16), math.MinInt16)
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
}
