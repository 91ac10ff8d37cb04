// Package audio defines the capture-side types and interfaces of the voice
// pipeline: PCM formats and frames, captured phrase samples, the unbounded
// [Channel] that carries samples to the recognition worker, and the
// [Source] interface implemented by capture backends (raw PCM streams,
// Discord voice channels).
//
// Helpers for PCM conversion, energy measurement and WAV framing live here
// as well so every backend and transcriber shares one implementation.
package audio

import (
	"context"
	"time"
)

// Device describes an endpoint a [Source] can open.
type Device struct {
	// ID is the value passed to [Source.Open].
	ID string

	// Name is a human-readable description.
	Name string

	// Default marks the device opened when no selector is given.
	Default bool
}

// Source is a capture backend.
//
// The lifecycle is Open, optionally Calibrate, then Listen. Listen returns
// immediately; captured phrases are pushed into the sink from a background
// goroutine until the returned stop function is called, ctx is cancelled,
// or the underlying stream ends. Close releases the device.
//
// Implementations must be safe for concurrent use of stop and Close.
type Source interface {
	// Open acquires the capture device named by device. An empty string
	// selects the backend's default device.
	Open(ctx context.Context, device string) error

	// Calibrate samples ambient noise for d and adjusts the energy
	// threshold that separates speech from silence.
	Calibrate(ctx context.Context, d time.Duration) error

	// Listen starts background capture. Each detected phrase, capped at
	// maxPhrase, is pushed into sink as one [Sample]. The returned function
	// stops capture and waits for the background goroutine to exit.
	Listen(ctx context.Context, sink Sink, maxPhrase time.Duration) (stop func(), err error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// DeviceLister is implemented by sources that can enumerate the devices
// they are able to open.
type DeviceLister interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Player is implemented by backends that can also play audio back, such as
// the Discord voice connection. Play blocks until playback completes or ctx
// is done.
type Player interface {
	Play(ctx context.Context, pcm []byte, f Format) error
}
