// Package recognizer runs the recognition worker: the single consumer of the
// audio channel that turns captured phrases into text fragments and feeds
// them through the wake-word gate into the accumulator.
//
// The worker handles one sample at a time, so at most one transcription is
// in flight. It exits when it pops the channel's stop sentinel, flushing
// whatever the accumulator still holds on the way out.
package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sofi/internal/accumulator"
	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
)

// ErrJoinTimeout is returned by [Worker.Stop] when the worker goroutine did
// not exit within the join timeout. The goroutine is abandoned.
var ErrJoinTimeout = errors.New("recognizer: worker did not stop in time")

// Gate decides whether a transcript is admitted.
type Gate interface {
	Evaluate(text string) (admit bool, stripped string)
}

// Buffer receives admitted fragments.
type Buffer interface {
	AddFragmentAt(text string, at time.Time)
	FlushNow(reason accumulator.Reason)
}

// Display shows recognition results and failures.
type Display interface {
	Recognized(text string)
	Error(msg string)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLanguage sets the BCP-47 tag passed to the transcriber.
func WithLanguage(tag string) Option {
	return func(w *Worker) { w.language = tag }
}

// WithDisplay sets the display surface.
func WithDisplay(d Display) Option {
	return func(w *Worker) { w.display = d }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock sets the clock used to timestamp fragments.
func WithClock(c clock.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithProviderName labels transcription metrics and spans.
func WithProviderName(name string) Option {
	return func(w *Worker) { w.provider = name }
}

// Worker is the recognition loop.
type Worker struct {
	queue       *audio.Channel
	transcriber stt.Transcriber
	gate        Gate
	buffer      Buffer
	display     Display
	metrics     *observe.Metrics
	clock       clock.Clock
	language    string
	provider    string

	mu      sync.Mutex
	running bool
	done    chan struct{}
	err     error
}

// New returns a Worker consuming queue.
func New(queue *audio.Channel, tr stt.Transcriber, gate Gate, buf Buffer, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		transcriber: tr,
		gate:        gate,
		buffer:      buf,
		provider:    "stt",
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	return w
}

// Start runs the loop on a new goroutine. Calling Start on a running worker
// does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return
	}
	done := make(chan struct{})
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		err := w.Run(ctx)

		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
}

// Run consumes samples until the stop sentinel is popped (returns nil) or
// ctx is done (returns ctx.Err()). Either way the buffer is flushed before
// returning.
func (w *Worker) Run(ctx context.Context) error {
	w.setRunning(true)
	defer w.setRunning(false)

	slog.Info("recognizer: worker started", "provider", w.provider, "language", w.language)
	for {
		sample, err := w.queue.Pop(ctx)
		if err != nil {
			w.buffer.FlushNow(accumulator.ReasonShutdown)
			if errors.Is(err, audio.ErrStopped) {
				slog.Info("recognizer: worker stopped")
				return nil
			}
			return err
		}
		w.handle(ctx, sample)
	}
}

func (w *Worker) handle(ctx context.Context, sample audio.Sample) {
	ctx, span := observe.StartSpan(ctx, "recognizer.transcribe",
		trace.WithAttributes(
			attribute.String("provider", w.provider),
			attribute.Float64("audio.seconds", sample.Duration().Seconds()),
		))

	start := time.Now()
	text, err := w.transcriber.Transcribe(ctx, sample, w.language)
	w.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", w.provider)))

	if err == nil && text == "" {
		err = stt.ErrNoSpeech
	}
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		w.metrics.RecordProviderRequest(ctx, w.provider, "stt", "no_speech")
		observe.EndSpan(span, nil)
		observe.Logger(ctx).Debug("recognizer: no speech in sample", "duration", sample.Duration())
		w.metrics.RecordFragment(ctx, observe.FragmentNoSpeech)
		return
	case err != nil:
		w.metrics.RecordProviderRequest(ctx, w.provider, "stt", "error")
		observe.EndSpan(span, err)
		observe.Logger(ctx).Error("recognizer: transcription failed", "provider", w.provider, "err", err)
		w.metrics.RecordFragment(ctx, observe.FragmentFailed)
		w.metrics.RecordProviderError(ctx, w.provider, "stt")
		if w.display != nil {
			w.display.Error(err.Error())
		}
		return
	}
	w.metrics.RecordProviderRequest(ctx, w.provider, "stt", "ok")
	observe.EndSpan(span, nil)
	receivedAt := w.clock.Now()

	admit, fragment := w.gate.Evaluate(text)
	if !admit || fragment == "" {
		slog.Debug("recognizer: fragment rejected", "text", text)
		w.metrics.RecordFragment(ctx, observe.FragmentRejected)
		return
	}
	w.metrics.RecordFragment(ctx, observe.FragmentAdmitted)
	if w.display != nil {
		w.display.Recognized(text)
	}
	w.buffer.AddFragmentAt(fragment, receivedAt)
}

// Stop enqueues the stop sentinel and waits up to timeout for the worker to
// exit. It returns [ErrJoinTimeout] if the worker is still busy, or the
// error Run returned otherwise. Stop on a worker that was never started
// only closes the queue.
func (w *Worker) Stop(timeout time.Duration) error {
	w.queue.Stop()

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		slog.Warn("recognizer: worker abandoned", "timeout", timeout, "queued", w.queue.Len())
		return ErrJoinTimeout
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Running reports whether the loop is executing.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}
