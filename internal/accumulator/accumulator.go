// Package accumulator buffers recognised text until the speaker has paused
// long enough, then hands the whole utterance to the dispatcher in one piece.
//
// Every fragment restarts the waiting period. Once the delay passes without
// a new fragment a visible countdown runs; at zero the buffer is flushed. A
// hold limit measured from the first fragment caps how long text can wait
// no matter how often the speaker keeps going.
//
// All state lives behind one mutex. Timers are [scheduler.Scheduler] tasks
// tagged with the counter they belong to: the delay and countdown tasks
// carry the arm counter (bumped by every fragment and every flush), the
// hold task carries the flush generation. A callback whose tag no longer
// matches does nothing.
package accumulator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/internal/scheduler"
)

// Scheduler slots used by the accumulator.
const (
	KindDelay     scheduler.Kind = "buffer.delay"
	KindCountdown scheduler.Kind = "buffer.countdown"
	KindHold      scheduler.Kind = "buffer.hold"
)

// minDelay is the shortest delay before the countdown starts.
const minDelay = 100 * time.Millisecond

// Reason says why a flush happened.
type Reason string

// Flush reasons.
const (
	ReasonCountdown   Reason = "countdown"
	ReasonHoldLimit   Reason = "hold_limit"
	ReasonStale       Reason = "stale"
	ReasonWakeTimeout Reason = "wake_timeout"
	ReasonShutdown    Reason = "shutdown"
)

// Config holds the buffer timings.
type Config struct {
	// Delay is the quiet time after the last fragment before a flush.
	Delay time.Duration

	// Extension is accepted for configuration compatibility. Every fragment
	// re-arms the full Delay, so it has no separate effect.
	Extension time.Duration

	// MaxHold caps the time from the first buffered fragment to its flush.
	// Zero disables the cap.
	MaxHold time.Duration

	// Countdown is the visible part of Delay, shown in whole seconds.
	Countdown time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Delay:     2 * time.Second,
		Extension: time.Second,
		MaxHold:   10 * time.Second,
		Countdown: 3 * time.Second,
	}
}

// countdownSteps returns the number of visible one-second ticks. The
// countdown never exceeds Delay and is truncated to whole seconds.
func (c Config) countdownSteps() int {
	span := min(c.Countdown, c.Delay)
	if span < 0 {
		return 0
	}
	return int(span / time.Second)
}

// delayBeforeCountdown returns how long the delay timer waits before the
// first visible tick.
func (c Config) delayBeforeCountdown() time.Duration {
	d := c.Delay - time.Duration(c.countdownSteps())*time.Second
	return max(d, minDelay)
}

// Dispatcher receives flushed utterances. Deliver must not block.
type Dispatcher interface {
	Deliver(text string)
}

// Display renders the buffer state.
type Display interface {
	Buffering(text string)
	Countdown(seconds int)
	Sending(text string)
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithDisplay sets the buffer display.
func WithDisplay(d Display) Option {
	return func(a *Accumulator) { a.display = d }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Accumulator) { a.metrics = m }
}

// Accumulator is the pending-utterance buffer. Safe for concurrent use.
type Accumulator struct {
	sched    *scheduler.Scheduler
	dispatch Dispatcher
	display  Display
	metrics  *observe.Metrics

	mu            sync.Mutex
	cfg           Config
	text          string
	lastUpdate    time.Time
	firstFragment time.Time
	gen           uint64
	arm           uint64
	remaining     int
	counting      bool
	closed        bool
}

// New returns an empty Accumulator flushing into dispatch.
func New(cfg Config, sched *scheduler.Scheduler, dispatch Dispatcher, opts ...Option) *Accumulator {
	a := &Accumulator{
		sched:    sched,
		dispatch: dispatch,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// AddFragment appends text to the pending utterance and restarts the
// waiting period.
func (a *Accumulator) AddFragment(text string) {
	a.AddFragmentAt(text, a.sched.Now())
}

// AddFragmentAt is AddFragment for a transcript received at the given
// instant. A fragment that is already older than the delay when it gets
// here is flushed together with the buffer straight away.
func (a *Accumulator) AddFragmentAt(text string, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.text == "" {
		a.text = text
		a.firstFragment = at
	} else {
		a.text += " " + text
	}
	a.lastUpdate = at
	a.show(func(d Display) { d.Buffering(a.text) })

	if a.closed {
		return
	}

	if a.counting {
		a.sched.Cancel(KindDelay, KindCountdown, KindHold)
		a.counting = false
	}

	now := a.sched.Now()
	if now.Sub(a.lastUpdate) > a.cfg.Delay {
		a.flushLocked(ReasonStale)
		return
	}

	a.arm++
	a.sched.Schedule(KindDelay, a.arm, a.cfg.delayBeforeCountdown(), a.onDelay)

	if a.cfg.MaxHold > 0 {
		left := a.firstFragment.Add(a.cfg.MaxHold).Sub(now)
		if left <= 0 {
			a.flushLocked(ReasonHoldLimit)
			return
		}
		a.sched.Schedule(KindHold, a.gen, left, a.onHold)
	}
}

func (a *Accumulator) onDelay(arm uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if arm != a.arm || a.text == "" || a.closed {
		return
	}
	steps := a.cfg.countdownSteps()
	if steps == 0 {
		a.flushLocked(ReasonCountdown)
		return
	}
	a.counting = true
	a.remaining = steps
	a.sched.Schedule(KindCountdown, a.arm, time.Second, a.onTick)
	a.show(func(d Display) { d.Countdown(steps) })
}

func (a *Accumulator) onTick(arm uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if arm != a.arm || !a.counting || a.text == "" || a.closed {
		return
	}
	a.remaining--
	if a.remaining <= 0 {
		a.flushLocked(ReasonCountdown)
		return
	}
	a.sched.Schedule(KindCountdown, a.arm, time.Second, a.onTick)
	left := a.remaining
	a.show(func(d Display) { d.Countdown(left) })
}

func (a *Accumulator) onHold(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen || a.closed {
		return
	}
	slog.Debug("accumulator: hold limit reached", "max_hold", a.cfg.MaxHold)
	a.flushLocked(ReasonHoldLimit)
}

// FlushNow hands any pending text to the dispatcher immediately. An empty
// buffer is a no-op.
func (a *Accumulator) FlushNow(reason Reason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked(reason)
}

func (a *Accumulator) flushLocked(reason Reason) {
	a.sched.Cancel(KindDelay, KindCountdown, KindHold)
	a.counting = false
	a.remaining = 0

	if a.text == "" {
		return
	}
	text := a.text
	held := a.sched.Now().Sub(a.firstFragment)

	a.text = ""
	a.firstFragment = time.Time{}
	a.gen++
	a.arm++

	a.show(func(d Display) { d.Sending(text) })
	slog.Debug("accumulator: flush", "reason", string(reason), "chars", len(text), "held", held)
	a.metrics.RecordFlush(context.Background(), string(reason))
	a.dispatch.Deliver(text)
}

// Shutdown cancels every timer, stops all future scheduling and flushes
// what is pending. Fragments added afterwards are buffered without timers
// and go out with the next FlushNow.
func (a *Accumulator) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	a.flushLocked(ReasonShutdown)
}

// Pending returns the text waiting to be flushed.
func (a *Accumulator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Config returns the current timings.
func (a *Accumulator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetConfig replaces the timings. Timers already armed keep their original
// deadlines; the next fragment uses the new values.
func (a *Accumulator) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *Accumulator) show(fn func(Display)) {
	if a.display != nil {
		fn(a.display)
	}
}
