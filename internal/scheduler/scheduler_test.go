package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func recv(t *testing.T, ch <-chan uint64) uint64 {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
		return 0
	}
}

func TestSchedule_FiresWithGeneration(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	s := New(clk)

	fired := make(chan uint64, 1)
	s.Schedule("delay", 7, time.Second, func(gen uint64) { fired <- gen })

	if !s.Pending("delay") {
		t.Fatal("expected delay task to be pending")
	}
	if gen, ok := s.Generation("delay"); !ok || gen != 7 {
		t.Fatalf("Generation = %d, %v; want 7, true", gen, ok)
	}

	clk.Add(999 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("fired before deadline")
	default:
	}

	clk.Add(time.Millisecond)
	if got := recv(t, fired); got != 7 {
		t.Errorf("gen = %d, want 7", got)
	}
	if s.Pending("delay") {
		t.Error("task still pending after firing")
	}
}

func TestSchedule_ReplacesPredecessor(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	s := New(clk)

	var calls atomic.Int32
	fired := make(chan uint64, 2)
	s.Schedule("delay", 1, time.Second, func(gen uint64) {
		calls.Add(1)
		fired <- gen
	})
	s.Schedule("delay", 2, 2*time.Second, func(gen uint64) {
		calls.Add(1)
		fired <- gen
	})

	clk.Add(2 * time.Second)
	if got := recv(t, fired); got != 2 {
		t.Errorf("gen = %d, want 2", got)
	}
	// Give a stray first callback a chance to show up.
	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callbacks = %d, want 1", n)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	s := New(clk)

	var calls atomic.Int32
	s.Schedule("a", 1, time.Second, func(uint64) { calls.Add(1) })
	s.Schedule("b", 1, time.Second, func(uint64) { calls.Add(1) })
	s.Cancel("a", "unknown")

	if s.Pending("a") {
		t.Error("a still pending after Cancel")
	}
	if !s.Pending("b") {
		t.Error("b should still be pending")
	}

	s.CancelAll()
	clk.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("callbacks = %d, want 0", n)
	}
}

func TestClose_RejectsFutureTasks(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	s := New(clk)

	var calls atomic.Int32
	s.Schedule("a", 1, time.Second, func(uint64) { calls.Add(1) })
	s.Close()
	s.Close()
	s.Schedule("a", 2, time.Second, func(uint64) { calls.Add(1) })

	if s.Pending("a") {
		t.Error("task armed after Close")
	}
	clk.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("callbacks = %d, want 0", n)
	}
}

func TestNew_NilClockUsesWallClock(t *testing.T) {
	t.Parallel()

	s := New(nil)
	fired := make(chan uint64, 1)
	s.Schedule("now", 3, 0, func(gen uint64) { fired <- gen })
	if got := recv(t, fired); got != 3 {
		t.Errorf("gen = %d, want 3", got)
	}
}
