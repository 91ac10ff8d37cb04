// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields that the
// test sets to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Samples: []audio.Sample{s1, s2}}
//	_ = src.Open(ctx, "")
//	stop, _ := src.Listen(ctx, ch, 5*time.Second)
//	defer stop()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
)

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*Source)(nil)
	_ audio.Player       = (*Player)(nil)
)

// ListenCall records the arguments of a single [Source.Listen] call.
type ListenCall struct {
	MaxPhrase time.Duration
}

// Source is a mock [audio.Source]. Listen pushes every entry of Samples
// into the sink, in order, and then idles until stopped.
type Source struct {
	mu sync.Mutex

	// Samples are pushed into the sink by Listen.
	Samples []audio.Sample

	// DeviceList is returned by Devices.
	DeviceList []audio.Device

	// OpenErr, CalibrateErr, ListenErr and CloseErr are returned by the
	// corresponding methods.
	OpenErr      error
	CalibrateErr error
	ListenErr    error
	CloseErr     error

	// OpenedDevice records the selector of the last Open call.
	OpenedDevice string

	// CalibrateDurations records every Calibrate duration.
	CalibrateDurations []time.Duration

	// ListenCalls records every Listen call.
	ListenCalls []ListenCall

	// CallCountClose and CallCountStop count Close calls and stop invocations.
	CallCountClose int
	CallCountStop  int
}

// Open records device and returns OpenErr.
func (s *Source) Open(_ context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenedDevice = device
	return s.OpenErr
}

// Calibrate records d and returns CalibrateErr.
func (s *Source) Calibrate(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CalibrateDurations = append(s.CalibrateDurations, d)
	return s.CalibrateErr
}

// Listen pushes Samples into sink from a background goroutine.
func (s *Source) Listen(ctx context.Context, sink audio.Sink, maxPhrase time.Duration) (func(), error) {
	s.mu.Lock()
	s.ListenCalls = append(s.ListenCalls, ListenCall{MaxPhrase: maxPhrase})
	if s.ListenErr != nil {
		err := s.ListenErr
		s.mu.Unlock()
		return nil, err
	}
	samples := append([]audio.Sample(nil), s.Samples...)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, smp := range samples {
			if ctx.Err() != nil {
				return
			}
			if err := sink.Push(smp); err != nil {
				return
			}
		}
		<-ctx.Done()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.CallCountStop++
			s.mu.Unlock()
			cancel()
			<-done
		})
	}, nil
}

// Close counts the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Devices returns DeviceList.
func (s *Source) Devices(context.Context) ([]audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Device(nil), s.DeviceList...), nil
}

// PlayCall records the arguments of a single [Player.Play] call.
type PlayCall struct {
	PCM    []byte
	Format audio.Format
}

// Player is a mock [audio.Player]. Play records the call and blocks for
// Delay (or until ctx is done) before returning PlayErr.
type Player struct {
	mu sync.Mutex

	Delay   time.Duration
	PlayErr error

	Calls []PlayCall
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{PCM: append([]byte(nil), pcm...), Format: f})
	delay, err := p.Delay, p.PlayErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PlayCalls returns a copy of the recorded calls.
func (p *Player) PlayCalls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.Calls...)
}
