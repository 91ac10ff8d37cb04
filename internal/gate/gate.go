// Package gate implements the wake-word gate that decides which transcripts
// reach the text accumulator.
//
// The gate is a two-state machine. While INACTIVE a transcript is admitted
// only if it contains the wake word; the word is cut out, the gate turns
// ACTIVE and a deactivation task is scheduled. While ACTIVE every transcript
// is admitted untouched and pushes the deadline out again. When the deadline
// passes the gate turns INACTIVE and runs its deactivation hook, which the
// application wires to an immediate buffer flush.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/internal/scheduler"
)

// KindDeactivate is the scheduler slot used for the deadline task.
const KindDeactivate scheduler.Kind = "wake.deactivate"

// ErrNoWakeWord is returned by [New] when gating is enabled without a word.
var ErrNoWakeWord = errors.New("gate: wake word must not be empty when gating is enabled")

// Display receives the wake-word notice.
type Display interface {
	WakeDetected()
}

// Config controls gating.
type Config struct {
	Enabled bool
	Word    string
	Timeout time.Duration

	// Fuzzy also accepts words that sound like Word.
	Fuzzy bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithDisplay sets the surface notified on activation.
func WithDisplay(d Display) Option {
	return func(g *Gate) { g.display = d }
}

// WithOnDeactivate sets the hook run after the gate times out. It runs on
// the scheduler's goroutine without the gate's lock held.
func WithOnDeactivate(fn func()) Option {
	return func(g *Gate) { g.onDeactivate = fn }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// Gate is the wake-word state machine. Safe for concurrent use.
type Gate struct {
	sched        *scheduler.Scheduler
	match        *matcher
	enabled      bool
	display      Display
	onDeactivate func()
	metrics      *observe.Metrics

	mu       sync.Mutex
	timeout  time.Duration
	active   bool
	deadline time.Time
	gen      uint64
	stopped  bool
}

// New returns an INACTIVE gate that schedules its deadline on sched.
func New(cfg Config, sched *scheduler.Scheduler, opts ...Option) (*Gate, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.Word) == "" {
		return nil, ErrNoWakeWord
	}
	g := &Gate{
		sched:   sched,
		enabled: cfg.Enabled,
		timeout: cfg.Timeout,
	}
	if cfg.Enabled {
		g.match = newMatcher(cfg.Word, cfg.Fuzzy)
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// Evaluate decides whether text is admitted and returns the text to buffer.
//
// With gating disabled every text is admitted untouched. An INACTIVE gate
// rejects text without the wake word; on a match it strips the first
// occurrence, activates, announces the activation once and admits the rest
// if anything is left. An ACTIVE gate re-arms its deadline and admits text
// untouched.
func (g *Gate) Evaluate(text string) (admit bool, stripped string) {
	if !g.enabled {
		return true, text
	}

	g.mu.Lock()
	if g.active {
		g.armLocked()
		g.mu.Unlock()
		return true, text
	}

	start, end, ok := g.match.find(text)
	if !ok {
		g.mu.Unlock()
		return false, ""
	}
	g.active = true
	g.armLocked()
	g.mu.Unlock()

	slog.Info("gate: wake word detected", "word", g.match.word)
	g.metrics.RecordWakeActivation(context.Background())
	if g.display != nil {
		g.display.WakeDetected()
	}

	stripped = strip(text, start, end)
	return stripped != "", stripped
}

// armLocked pushes the deadline out by the timeout. Each arm gets a fresh
// generation so a deadline that fired concurrently is ignored.
func (g *Gate) armLocked() {
	g.gen++
	g.deadline = g.sched.Now().Add(g.timeout)
	if g.stopped {
		return
	}
	g.sched.Schedule(KindDeactivate, g.gen, g.timeout, g.expire)
}

func (g *Gate) expire(gen uint64) {
	g.mu.Lock()
	if !g.active || gen != g.gen || g.stopped {
		g.mu.Unlock()
		return
	}
	g.active = false
	g.deadline = time.Time{}
	g.mu.Unlock()

	slog.Info("gate: wake word timed out")
	if g.onDeactivate != nil {
		g.onDeactivate()
	}
}

// Active reports whether the gate currently admits everything.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Deadline returns when an ACTIVE gate will deactivate. ok is false while
// INACTIVE.
func (g *Gate) Deadline() (deadline time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deadline, g.active
}

// Timeout returns the current activation window.
func (g *Gate) Timeout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeout
}

// SetTimeout changes the activation window. It applies from the next
// transcript on; a pending deadline is left as it is.
func (g *Gate) SetTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeout = d
}

// Stop cancels the pending deadline for good. The gate keeps its state so
// transcripts still queued at shutdown are judged as before, but it never
// deactivates again and the deactivation hook is not run.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.gen++
	g.sched.Cancel(KindDeactivate)
}
