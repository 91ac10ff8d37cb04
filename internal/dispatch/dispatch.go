// Package dispatch delivers flushed utterances to the text sink.
//
// [Dispatcher.Deliver] never blocks: utterances are queued and sent one at a
// time, in flush order, by the dispatcher's own goroutine. Each send has a
// timeout and runs through a circuit breaker. Failures are logged and the
// utterance is dropped; nothing is retried. A reply from the sink is shown
// on the display and, when a speaker is configured, read aloud.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/internal/resilience"
)

// TextSink consumes utterances. The returned reply may be empty.
type TextSink interface {
	Send(ctx context.Context, text string) (reply string, err error)
}

// Speaker reads a reply aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Display shows sink replies and failures.
type Display interface {
	Response(text string)
	Error(msg string)
}

// Config tunes delivery.
type Config struct {
	// Timeout bounds a single Send. Default: 10s.
	Timeout time.Duration

	// Breaker guards the sink.
	Breaker resilience.CircuitBreakerConfig

	// SinkName labels logs and metrics. Default: "sink".
	SinkName string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDisplay sets the display surface.
func WithDisplay(d Display) Option {
	return func(ds *Dispatcher) { ds.display = d }
}

// WithSpeaker reads replies aloud.
func WithSpeaker(s Speaker) Option {
	return func(ds *Dispatcher) { ds.speaker = s }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// Dispatcher owns the delivery goroutine.
type Dispatcher struct {
	sink    TextSink
	cfg     Config
	breaker *resilience.CircuitBreaker
	display Display
	speaker Speaker
	metrics *observe.Metrics

	// base is cancelled when Close gives up, aborting in-flight work.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   *deque.Deque[string]
	ready   chan struct{}
	closed  bool
	started bool
	done    chan struct{}

	speech sync.WaitGroup
}

// New returns a Dispatcher sending to sink. A nil sink disables delivery:
// Deliver logs a warning and drops the text. The delivery goroutine starts
// with the first Deliver.
func New(sink TextSink, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "sink"
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = cfg.SinkName
	}
	if cfg.Breaker.Neutral == nil {
		cfg.Breaker.Neutral = func(err error) bool { return errors.Is(err, context.Canceled) }
	}
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:    sink,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		base:    base,
		cancel:  cancel,
		queue:   deque.New[string](),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Enabled reports whether a sink is configured.
func (d *Dispatcher) Enabled() bool { return d.sink != nil }

// Deliver queues text for the sink and returns immediately.
func (d *Dispatcher) Deliver(text string) {
	if d.sink == nil {
		slog.Warn("dispatch: no sink configured, dropping utterance", "chars", len(text))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("dispatch: closed, dropping utterance", "chars", len(text))
		return
	}
	d.queue.PushBack(text)
	if !d.started {
		d.started = true
		go d.run()
	}
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued utterances.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if d.queue.Len() == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.ready
			continue
		}
		text := d.queue.PopFront()
		d.mu.Unlock()

		d.send(text)
	}
}

func (d *Dispatcher) send(text string) {
	ctx, cancel := context.WithTimeout(d.base, d.cfg.Timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "dispatch.send")

	var reply string
	start := time.Now()
	err := d.breaker.Execute(func() error {
		var sendErr error
		reply, sendErr = d.sink.Send(ctx, text)
		return sendErr
	})
	d.metrics.DeliveryDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", d.cfg.SinkName)))
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Error("dispatch: delivery failed", "sink", d.cfg.SinkName, "chars", len(text), "err", err)
		d.metrics.RecordProviderRequest(ctx, d.cfg.SinkName, "sink", "error")
		d.metrics.RecordProviderError(ctx, d.cfg.SinkName, "sink")
		if d.display != nil {
			d.display.Error(err.Error())
		}
		return
	}
	d.metrics.RecordProviderRequest(ctx, d.cfg.SinkName, "sink", "ok")
	slog.Debug("dispatch: delivered", "sink", d.cfg.SinkName, "chars", len(text), "reply_chars", len(reply))

	if reply == "" {
		return
	}
	if d.display != nil {
		d.display.Response(reply)
	}
	if d.speaker != nil {
		d.speak(reply)
	}
}

// speak runs playback off the delivery goroutine so a long reply does not
// hold up the next utterance.
func (d *Dispatcher) speak(reply string) {
	d.speech.Add(1)
	go func() {
		defer d.speech.Done()
		start := time.Now()
		err := d.speaker.Speak(d.base, reply)
		d.metrics.TTSDuration.Record(d.base, time.Since(start).Seconds())
		if err != nil {
			slog.Warn("dispatch: reply not spoken", "err", err)
		}
	}()
}

// Close stops accepting utterances and waits for the queue to drain and for
// spoken replies to finish. When ctx ends first, in-flight work is cancelled
// and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	started := d.started
	select {
	case d.ready <- struct{}{}:
	default:
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		if started {
			<-d.done
		}
		d.speech.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.mu.Lock()
		dropped := d.queue.Len()
		d.mu.Unlock()
		slog.Warn("dispatch: close timed out", "dropped", dropped)
		return ctx.Err()
	}
}
