package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/deque"
)

var (
	// ErrStopped is returned by [Channel.Pop] once the stop sentinel has been
	// dequeued. Every later Pop returns it as well.
	ErrStopped = errors.New("audio: channel stopped")

	// ErrClosed is returned by [Channel.Push] after [Channel.Stop].
	ErrClosed = errors.New("audio: channel closed")
)

// Sink receives captured samples. Capture backends push into a Sink and
// never block on the consumer.
type Sink interface {
	Push(Sample) error
}

var _ Sink = (*Channel)(nil)

type entry struct {
	sample Sample
	stop   bool
}

// Channel is an unbounded FIFO of [Sample] values connecting capture
// backends to the recognition worker. Push never blocks; Pop blocks until a
// sample, the stop sentinel, or context cancellation.
//
// The stop sentinel is queued behind everything pushed before it, so a
// consumer drains all earlier samples before it sees [ErrStopped].
//
// All methods are safe for concurrent use.
type Channel struct {
	mu      sync.Mutex
	items   *deque.Deque[entry]
	ready   chan struct{} // closed and replaced on every enqueue
	stopped bool          // sentinel enqueued
	drained bool          // sentinel dequeued
}

// NewChannel returns an empty Channel.
func NewChannel() *Channel {
	return &Channel{
		items: deque.New[entry](),
		ready: make(chan struct{}),
	}
}

// Push appends s to the queue. It returns [ErrClosed] once the stop
// sentinel has been enqueued.
func (c *Channel) Push(s Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrClosed
	}
	c.items.PushBack(entry{sample: s})
	c.signalLocked()
	return nil
}

// Stop enqueues the stop sentinel. Calling Stop more than once has no
// further effect.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.items.PushBack(entry{stop: true})
	c.signalLocked()
}

func (c *Channel) signalLocked() {
	close(c.ready)
	c.ready = make(chan struct{})
}

// Pop removes and returns the oldest sample. It blocks until one is
// available, returns [ErrStopped] when the stop sentinel is reached, and
// returns ctx.Err() if ctx is done first.
func (c *Channel) Pop(ctx context.Context) (Sample, error) {
	for {
		c.mu.Lock()
		if c.items.Len() > 0 {
			e := c.items.PopFront()
			if e.stop {
				c.drained = true
			}
			c.mu.Unlock()
			if e.stop {
				return Sample{}, ErrStopped
			}
			return e.sample, nil
		}
		if c.drained {
			c.mu.Unlock()
			return Sample{}, ErrStopped
		}
		wait := c.ready
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}

// Len returns the number of queued samples, not counting the sentinel.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.items.Len()
	if c.stopped && !c.drained {
		n--
	}
	return n
}
