// Package scheduler owns the cancellable, generation-tagged timer tasks used
// by the buffering and wake-word components.
//
// A [Scheduler] keeps at most one task per kind. Scheduling a kind that is
// already pending cancels the predecessor, so callers never have to track
// timer handles themselves. Each task carries the generation its owner
// passed to [Scheduler.Schedule]; the callback receives that generation back
// and compares it against the owner's current generation under the owner's
// own lock before acting. A task cancelled after its timer already fired is
// filtered here (by task token) before the callback runs, and a callback that
// slipped through anyway sees a stale generation and does nothing.
//
// Timers are driven by a [clock.Clock] so tests can advance time with
// [clock.Mock].
//
// All methods are safe for concurrent use. Callbacks run on their own
// goroutine and must not assume the caller of Schedule still holds any lock.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Kind identifies a task slot. At most one task per Kind is pending.
type Kind string

// Func is invoked when a task fires. gen is the generation the task was
// scheduled with.
type Func func(gen uint64)

type task struct {
	token uint64
	gen   uint64
	timer *clock.Timer
}

// Scheduler runs delayed callbacks, one slot per [Kind].
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	tasks  map[Kind]*task
	tokens uint64
	closed bool
}

// New returns a Scheduler driven by clk. A nil clk uses the wall clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock: clk,
		tasks: make(map[Kind]*task),
	}
}

// Clock returns the clock the scheduler uses for timers.
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Schedule arms fn to run after d, tagged with gen. Any pending task of the
// same kind is cancelled first. Non-positive durations fire on the next
// clock tick. After [Scheduler.Close], Schedule is a no-op.
func (s *Scheduler) Schedule(kind Kind, gen uint64, d time.Duration, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.cancelLocked(kind)

	s.tokens++
	t := &task{token: s.tokens, gen: gen}
	token := t.token
	t.timer = s.clock.AfterFunc(d, func() {
		if !s.claim(kind, token) {
			return
		}
		fn(gen)
	})
	s.tasks[kind] = t
}

// claim removes the task from its slot if it is still the current one.
// It reports false when the task was cancelled or superseded.
func (s *Scheduler) claim(kind Kind, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[kind]
	if !ok || t.token != token {
		return false
	}
	delete(s.tasks, kind)
	return true
}

// Cancel stops the pending task of the given kinds. Unknown kinds are ignored.
func (s *Scheduler) Cancel(kinds ...Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range kinds {
		s.cancelLocked(k)
	}
}

func (s *Scheduler) cancelLocked(kind Kind) {
	t, ok := s.tasks[kind]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(s.tasks, kind)
}

// CancelAll stops every pending task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.tasks {
		s.cancelLocked(k)
	}
}

// Pending reports whether a task of the given kind is armed.
func (s *Scheduler) Pending(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[kind]
	return ok
}

// Generation returns the generation of the pending task of the given kind.
// ok is false when no task of that kind is armed.
func (s *Scheduler) Generation(kind Kind) (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[kind]
	if !ok {
		return 0, false
	}
	return t.gen, true
}

// Close cancels all pending tasks and rejects future scheduling.
// It is safe to call multiple times.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.tasks {
		s.cancelLocked(k)
	}
	s.closed = true
}
