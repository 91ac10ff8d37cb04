// Package pcm provides an [audio.Source] that reads raw 16-bit
// little-endian PCM (or a WAV file) from a byte stream: standard input, a
// regular file, or a named pipe fed by a recorder such as
// `arecord -f S16_LE -r 16000 -c 1`.
//
// Frames are converted to 16 kHz mono before phrase detection so the samples
// produced match what every transcriber accepts.
package pcm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/audio/listener"
)

// Stdin is the device selector for standard input.
const Stdin = "-"

const defaultFrameDuration = 20 * time.Millisecond

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*Source)(nil)
)

// Source reads PCM frames from a stream and segments them into phrases.
type Source struct {
	format    audio.Format
	frameDur  time.Duration
	listener  *listener.Listener
	stdin     io.Reader
	searchDir string

	mu     sync.Mutex
	r      *bufio.Reader
	closer io.Closer
	frames chan audio.Frame
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Option is a functional option for [New].
type Option func(*Source)

// WithFormat sets the format of raw (headerless) input. WAV input always
// uses the format from its header.
func WithFormat(f audio.Format) Option {
	return func(s *Source) { s.format = f }
}

// WithFrameDuration sets the length of the frames fed to the listener.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithStdin replaces the reader used for the [Stdin] selector.
func WithStdin(r io.Reader) Option {
	return func(s *Source) { s.stdin = r }
}

// WithSearchDir sets the directory scanned by [Source.Devices] for
// .pcm/.raw/.wav files and named pipes.
func WithSearchDir(dir string) Option {
	return func(s *Source) { s.searchDir = dir }
}

// New returns a Source that segments phrases with cfg.
func New(cfg listener.Config, opts ...Option) *Source {
	s := &Source{
		format:   audio.Mono16k,
		frameDur: defaultFrameDuration,
		listener: listener.New(cfg),
		stdin:    os.Stdin,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Threshold returns the listener's current energy threshold.
func (s *Source) Threshold() float64 { return s.listener.Threshold() }

// Open opens the stream named by device: [Stdin] (the default) or a file
// path. A RIFF/WAVE header, if present, overrides the configured format.
func (s *Source) Open(ctx context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r != nil {
		return errors.New("pcm: source already open")
	}

	var (
		rc     io.Reader
		closer io.Closer
	)
	if device == "" || device == Stdin {
		rc = s.stdin
	} else {
		f, err := os.Open(device)
		if err != nil {
			return fmt.Errorf("pcm: open %q: %w", device, err)
		}
		rc, closer = f, f
	}

	br := bufio.NewReaderSize(rc, 64*1024)
	if head, err := br.Peek(12); err == nil && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE" {
		f, err := audio.ReadWAVHeader(br)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return fmt.Errorf("pcm: %q: %w", device, err)
		}
		s.format = f
	}

	s.r = br
	s.closer = closer
	s.frames = make(chan audio.Frame, 64)

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.readLoop(readCtx, br, s.frames, s.done)

	slog.Info("pcm: capture opened", "device", deviceName(device), "format", s.format)
	return nil
}

// readLoop reads fixed-size frames, converts them to 16 kHz mono and
// publishes them until EOF or cancellation.
func (s *Source) readLoop(ctx context.Context, r io.Reader, out chan<- audio.Frame, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	conv := audio.Converter{Target: audio.Mono16k}
	size := int(int64(s.format.BytesPerSecond()) * int64(s.frameDur) / int64(time.Second))
	size -= size % (s.format.Channels * 2)
	if size <= 0 {
		size = 640
	}

	var offset time.Duration
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % (s.format.Channels * 2)
			f := conv.Convert(audio.Frame{Data: buf[:n], Format: s.format, Timestamp: offset})
			offset += s.format.Duration(n)
			if len(f.Data) > 0 {
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				slog.Error("pcm: read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Source) stream() (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return nil, errors.New("pcm: source not open")
	}
	return s.frames, nil
}

// Calibrate adapts the energy threshold to the next d of audio.
func (s *Source) Calibrate(ctx context.Context, d time.Duration) error {
	frames, err := s.stream()
	if err != nil {
		return err
	}
	if err := s.listener.Calibrate(ctx, frames, d); err != nil {
		return fmt.Errorf("pcm: calibrate: %w", err)
	}
	return nil
}

// Listen starts phrase detection in the background.
func (s *Source) Listen(ctx context.Context, sink audio.Sink, maxPhrase time.Duration) (func(), error) {
	frames, err := s.stream()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.listener.Run(ctx, frames, sink, maxPhrase); err != nil {
			slog.Error("pcm: listener stopped", "error", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// Close stops the reader and closes the underlying file.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, closer := s.cancel, s.closer
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// Devices lists standard input plus the audio files and named pipes found
// in the search directory.
func (s *Source) Devices(context.Context) ([]audio.Device, error) {
	devs := []audio.Device{{ID: Stdin, Name: "standard input", Default: true}}
	if s.searchDir == "" {
		return devs, nil
	}

	entries, err := os.ReadDir(s.searchDir)
	if err != nil {
		return nil, fmt.Errorf("pcm: list %q: %w", s.searchDir, err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.searchDir, e.Name())
		switch {
		case info.Mode()&os.ModeNamedPipe != 0:
			devs = append(devs, audio.Device{ID: path, Name: "named pipe " + e.Name()})
		case info.Mode().IsRegular():
			switch filepath.Ext(e.Name()) {
			case ".pcm", ".raw", ".wav":
				devs = append(devs, audio.Device{ID: path, Name: "file " + e.Name()})
			}
		}
	}
	return devs, nil
}

func deviceName(device string) string {
	if device == "" || device == Stdin {
		return "stdin"
	}
	return device
}
