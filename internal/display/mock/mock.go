// Package mock provides a recording stand-in for the display surfaces.
//
// Recorder satisfies every narrow display interface declared by the
// pipeline packages. Events are appended in call order.
package mock

import "sync"

// Event kinds.
const (
	KindProgress     = "progress"
	KindRecognized   = "recognized"
	KindBuffering    = "buffering"
	KindCountdown    = "countdown"
	KindSending      = "sending"
	KindWakeDetected = "wake"
	KindResponse     = "response"
	KindInfo         = "info"
	KindError        = "error"
)

// Event is one recorded surface call.
type Event struct {
	Kind string
	Text string
	N    int
}

// Recorder records surface calls.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Progress()              { r.add(Event{Kind: KindProgress}) }
func (r *Recorder) Recognized(text string) { r.add(Event{Kind: KindRecognized, Text: text}) }
func (r *Recorder) Buffering(text string)  { r.add(Event{Kind: KindBuffering, Text: text}) }
func (r *Recorder) Countdown(seconds int)  { r.add(Event{Kind: KindCountdown, N: seconds}) }
func (r *Recorder) Sending(text string)    { r.add(Event{Kind: KindSending, Text: text}) }
func (r *Recorder) WakeDetected()          { r.add(Event{Kind: KindWakeDetected}) }
func (r *Recorder) Response(text string)   { r.add(Event{Kind: KindResponse, Text: text}) }
func (r *Recorder) Info(msg string)        { r.add(Event{Kind: KindInfo, Text: msg}) }
func (r *Recorder) Error(msg string)       { r.add(Event{Kind: KindError, Text: msg}) }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns the recorded events of one kind.
func (r *Recorder) Of(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind string) int {
	return len(r.Of(kind))
}
