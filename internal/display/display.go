// Package display renders pipeline progress for a human watching the
// terminal: the capture indicator, recognised text, buffered text with its
// countdown, wake-word notices, sink replies and errors.
//
// Every surface string is configurable. Writes are serialised under one
// mutex and never block on anything but the underlying writer.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Strings holds the configurable surface texts.
type Strings struct {
	Progress         string
	RecognizedPrefix string
	WakeDetected     string
	BufferPrefix     string
	BufferSuffix     string
	// CountdownFormat receives the remaining seconds as its only verb.
	CountdownFormat string
	Sending         string
	ResponsePrefix  string
	ErrorPrefix     string
}

// DefaultStrings returns the stock surface texts.
func DefaultStrings() Strings {
	return Strings{
		Progress:         ".",
		RecognizedPrefix: "\nYou said: ",
		WakeDetected:     "\nWake word detected! Listening...",
		BufferPrefix:     "\rPending: ",
		BufferSuffix:     " [...]",
		CountdownFormat:  "\rSending in %d seconds... ",
		Sending:          "\nSending: ",
		ResponsePrefix:   "\nAPI response: ",
		ErrorPrefix:      "\nError: ",
	}
}

// Merge returns s with every empty field taken from d.
func (s Strings) Merge(d Strings) Strings {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Strings{
		Progress:         pick(s.Progress, d.Progress),
		RecognizedPrefix: pick(s.RecognizedPrefix, d.RecognizedPrefix),
		WakeDetected:     pick(s.WakeDetected, d.WakeDetected),
		BufferPrefix:     pick(s.BufferPrefix, d.BufferPrefix),
		BufferSuffix:     pick(s.BufferSuffix, d.BufferSuffix),
		CountdownFormat:  pick(s.CountdownFormat, d.CountdownFormat),
		Sending:          pick(s.Sending, d.Sending),
		ResponsePrefix:   pick(s.ResponsePrefix, d.ResponsePrefix),
		ErrorPrefix:      pick(s.ErrorPrefix, d.ErrorPrefix),
	}
}

// Console writes surfaces to a pair of writers.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	s      Strings
	quiet  bool
}

// Option configures a Console.
type Option func(*Console)

// WithoutProgress suppresses the per-sample progress indicator.
func WithoutProgress() Option {
	return func(c *Console) { c.quiet = true }
}

// New returns a Console writing normal surfaces to out and errors to errOut.
// Empty fields of s fall back to [DefaultStrings].
func New(out, errOut io.Writer, s Strings, opts ...Option) *Console {
	c := &Console{out: out, errOut: errOut, s: s.Merge(DefaultStrings())}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Console) write(w io.Writer, parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range parts {
		_, _ = io.WriteString(w, p)
	}
}

// Progress prints the capture indicator without a newline.
func (c *Console) Progress() {
	if c.quiet {
		return
	}
	c.write(c.out, c.s.Progress)
}

// Recognized prints a transcription.
func (c *Console) Recognized(text string) {
	if text == "" {
		return
	}
	c.write(c.out, c.s.RecognizedPrefix, text, "\n")
}

// Buffering prints the pending utterance on the current line.
func (c *Console) Buffering(text string) {
	if text == "" {
		return
	}
	c.write(c.out, c.s.BufferPrefix, text, c.s.BufferSuffix)
}

// Countdown prints the seconds left before the pending text is sent.
func (c *Console) Countdown(seconds int) {
	c.write(c.out, fmt.Sprintf(c.s.CountdownFormat, seconds))
}

// Sending prints the utterance handed to the sink.
func (c *Console) Sending(text string) {
	c.write(c.out, c.s.Sending, text, "\n")
}

// WakeDetected prints the wake-word notice.
func (c *Console) WakeDetected() {
	c.write(c.out, c.s.WakeDetected, "\n")
}

// Response prints a reply from the sink.
func (c *Console) Response(text string) {
	if text == "" {
		return
	}
	c.write(c.out, c.s.ResponsePrefix, text, "\n")
}

// Info prints a plain message.
func (c *Console) Info(msg string) {
	c.write(c.out, msg, "\n")
}

// Error prints an error surface to the error writer.
func (c *Console) Error(msg string) {
	c.write(c.errOut, c.s.ErrorPrefix, msg, "\n")
}

// Banner prints the start-up greeting.
func (c *Console) Banner(wakeWord string, wakeEnabled bool) {
	lines := []string{
		"Continuous voice recorder initialized.",
		"Speak into the microphone (press Ctrl+C to exit)...",
	}
	if wakeEnabled && wakeWord != "" {
		lines = append(lines, fmt.Sprintf("Use the wake word '%s' to activate the assistant.", capitalize(wakeWord)))
	}
	c.write(c.out, strings.Join(lines, "\n"), "\n")
}

// CalibrationStart announces ambient-noise calibration.
func (c *Console) CalibrationStart() {
	c.write(c.out, "\nCalibrating for ambient noise...\n")
}

// CalibrationDone announces the end of calibration.
func (c *Console) CalibrationDone() {
	c.write(c.out, "Calibration complete. Start speaking!\n")
}

// Exit prints the farewell line.
func (c *Console) Exit() {
	c.write(c.out, "\nRecording terminated.\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
