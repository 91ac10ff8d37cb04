// Package listener turns a stream of PCM frames into phrase-sized
// [audio.Sample] values using an energy (RMS) threshold.
//
// A phrase starts at the first frame whose energy exceeds the threshold and
// ends after [Config.Pause] of continuous quiet audio or when the phrase
// reaches the maximum duration passed to [Listener.Run]. Up to
// [Config.NonSpeaking] of audio is kept on both sides of the speech so word
// onsets and endings are not clipped. Phrases with less than
// [Config.MinPhrase] of loud audio are treated as noise and dropped.
//
// With [Config.Dynamic] set, the threshold follows the ambient noise floor
// while no phrase is in progress: every quiet frame pulls it towards
// energy×DynamicRatio with an exponential damping of DynamicDamping per
// second. [Listener.Calibrate] applies the same rule to a fixed stretch of
// audio before listening starts.
//
// Durations are measured from frame lengths, not wall-clock time, so the
// listener behaves identically on live and recorded input.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
)

// ErrNoAudio is returned by [Listener.Calibrate] when the frame stream ends
// before any audio arrived.
var ErrNoAudio = errors.New("listener: no audio received")

// Config tunes phrase detection. Zero fields fall back to [DefaultConfig].
type Config struct {
	// EnergyThreshold is the initial RMS level above which a frame counts
	// as speech.
	EnergyThreshold float64

	// Dynamic enables automatic threshold adjustment during silence.
	Dynamic bool

	// DynamicDamping is the fraction of the old threshold retained after
	// one second of adjustment.
	DynamicDamping float64

	// DynamicRatio is the multiple of the ambient energy the threshold
	// converges to.
	DynamicRatio float64

	// Pause is the quiet time that completes a phrase.
	Pause time.Duration

	// NonSpeaking is the quiet padding kept around a phrase.
	NonSpeaking time.Duration

	// MinPhrase is the minimum loud time for a phrase to be emitted.
	MinPhrase time.Duration
}

// DefaultConfig returns the detection parameters used when none are
// configured.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 300,
		Dynamic:         true,
		DynamicDamping:  0.15,
		DynamicRatio:    1.5,
		Pause:           300 * time.Millisecond,
		NonSpeaking:     300 * time.Millisecond,
		MinPhrase:       300 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.DynamicDamping <= 0 || c.DynamicDamping >= 1 {
		c.DynamicDamping = d.DynamicDamping
	}
	if c.DynamicRatio <= 0 {
		c.DynamicRatio = d.DynamicRatio
	}
	if c.Pause <= 0 {
		c.Pause = d.Pause
	}
	if c.NonSpeaking < 0 {
		c.NonSpeaking = 0
	}
	if c.MinPhrase <= 0 {
		c.MinPhrase = d.MinPhrase
	}
	return c
}

// Listener segments frames into phrases. The threshold it learns is shared
// between Calibrate and Run; a Listener runs one stream at a time.
type Listener struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	threshold float64
}

// Option is a functional option for [New].
type Option func(*Listener)

// WithNow overrides the function used to timestamp emitted samples.
func WithNow(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// New returns a Listener for cfg.
func New(cfg Config, opts ...Option) *Listener {
	cfg = cfg.withDefaults()
	l := &Listener{
		cfg:       cfg,
		now:       time.Now,
		threshold: cfg.EnergyThreshold,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Threshold returns the current energy threshold.
func (l *Listener) Threshold() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.threshold
}

// SetThreshold replaces the current energy threshold.
func (l *Listener) SetThreshold(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = v
}

// adjust moves the threshold towards the ambient level of one quiet frame.
func (l *Listener) adjust(energy float64, dur time.Duration) {
	damping := math.Pow(l.cfg.DynamicDamping, dur.Seconds())
	target := energy * l.cfg.DynamicRatio

	l.mu.Lock()
	l.threshold = l.threshold*damping + target*(1-damping)
	l.mu.Unlock()
}

// Calibrate reads frames covering d and adapts the threshold to their
// energy, regardless of [Config.Dynamic]. It returns early without error if
// the stream ends after at least one frame.
func (l *Listener) Calibrate(ctx context.Context, frames <-chan audio.Frame, d time.Duration) error {
	var elapsed time.Duration
	got := false
	for elapsed < d {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if !got {
					return ErrNoAudio
				}
				return nil
			}
			got = true
			dur := f.Duration()
			l.adjust(audio.RMS(f.Data), dur)
			elapsed += dur
		}
	}
	slog.Debug("listener: calibrated", "threshold", l.Threshold(), "duration", elapsed)
	return nil
}

// phrase accumulates the audio of one detected phrase.
type phrase struct {
	format  audio.Format
	pcm     []byte
	total   time.Duration
	loud    time.Duration
	trailer time.Duration // quiet time since the last loud frame
}

// Run segments frames until the stream ends, ctx is done, or sink stops
// accepting samples. A phrase in progress when the stream ends is emitted.
// maxPhrase <= 0 disables the phrase length cap.
func (l *Listener) Run(ctx context.Context, frames <-chan audio.Frame, sink audio.Sink, maxPhrase time.Duration) error {
	var (
		preroll    []audio.Frame
		prerollDur time.Duration
		cur        *phrase
	)

	emit := func() error {
		p := cur
		cur = nil
		if p == nil || p.loud < l.cfg.MinPhrase {
			return nil
		}
		pcm := p.pcm
		if excess := p.trailer - l.cfg.NonSpeaking; excess > 0 {
			cut := alignedBytes(p.format, excess)
			if cut < len(pcm) {
				pcm = pcm[:len(pcm)-cut]
			}
		}
		err := sink.Push(audio.Sample{PCM: pcm, Format: p.format, CapturedAt: l.now()})
		if errors.Is(err, audio.ErrClosed) {
			return err
		}
		if err != nil {
			slog.Warn("listener: dropping phrase", "error", err)
		}
		return nil
	}

	for {
		var (
			f  audio.Frame
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case f, ok = <-frames:
		}
		if !ok {
			_ = emit()
			return nil
		}
		if len(f.Data) == 0 {
			continue
		}

		dur := f.Duration()
		energy := audio.RMS(f.Data)
		loud := energy > l.Threshold()

		if cur == nil {
			if !loud {
				if l.cfg.Dynamic {
					l.adjust(energy, dur)
				}
				preroll = append(preroll, f)
				prerollDur += dur
				for len(preroll) > 1 && prerollDur-preroll[0].Duration() >= l.cfg.NonSpeaking {
					prerollDur -= preroll[0].Duration()
					preroll = preroll[1:]
				}
				continue
			}
			cur = &phrase{format: f.Format}
			for _, pf := range preroll {
				cur.pcm = append(cur.pcm, pf.Data...)
				cur.total += pf.Duration()
			}
			preroll, prerollDur = preroll[:0], 0
		}

		cur.pcm = append(cur.pcm, f.Data...)
		cur.total += dur
		if loud {
			cur.loud += dur
			cur.trailer = 0
		} else {
			cur.trailer += dur
		}

		if cur.trailer >= l.cfg.Pause || (maxPhrase > 0 && cur.total >= maxPhrase) {
			if err := emit(); errors.Is(err, audio.ErrClosed) {
				return nil
			}
		}
	}
}

// alignedBytes returns the byte length of d in format f, rounded down to a
// whole frame.
func alignedBytes(f audio.Format, d time.Duration) int {
	stride := f.Channels * 2
	if stride <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%stride
}
