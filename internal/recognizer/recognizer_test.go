package recognizer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/sofi/internal/accumulator"
	displaymock "github.com/MrWong99/sofi/internal/display/mock"
	"github.com/MrWong99/sofi/internal/gate"
	"github.com/MrWong99/sofi/internal/scheduler"
	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/stt"
	sttmock "github.com/MrWong99/sofi/pkg/provider/stt/mock"
)

type admitAll struct{}

func (admitAll) Evaluate(text string) (bool, string) { return true, text }

type buffer struct {
	mu        sync.Mutex
	fragments []string
	at        []time.Time
	flushes   []accumulator.Reason
}

func (b *buffer) AddFragmentAt(text string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, text)
	b.at = append(b.at, at)
}

func (b *buffer) FlushNow(reason accumulator.Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes = append(b.flushes, reason)
}

func (b *buffer) Fragments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.fragments)
}

func (b *buffer) Flushes() []accumulator.Reason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.flushes)
}

func sample() audio.Sample {
	return audio.Sample{PCM: make([]byte, 3200), Format: audio.Mono16k, CapturedAt: time.Now()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRun_HandlesEveryOutcomeAndFlushesOnSentinel(t *testing.T) {
	t.Parallel()

	q := audio.NewChannel()
	tr := &sttmock.Transcriber{Results: []sttmock.Result{
		{Text: "accendi la luce"},
		{Err: stt.ErrNoSpeech},
		{Err: stt.Errorf("whisper", "connection refused")},
		{Text: ""},
		{Text: "in cucina"},
	}}
	buf := &buffer{}
	rec := &displaymock.Recorder{}
	clk := clock.NewMock()

	w := New(q, tr, admitAll{}, buf,
		WithLanguage("it-IT"), WithDisplay(rec), WithClock(clk), WithProviderName("whisper"))

	for range 5 {
		if err := q.Push(sample()); err != nil {
			t.Fatal(err)
		}
	}
	q.Stop()

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := buf.Fragments(); !slices.Equal(got, []string{"accendi la luce", "in cucina"}) {
		t.Errorf("fragments = %q", got)
	}
	for _, at := range buf.at {
		if !at.Equal(clk.Now()) {
			t.Errorf("fragment stamped %v, want %v", at, clk.Now())
		}
	}
	if got := buf.Flushes(); !slices.Equal(got, []accumulator.Reason{accumulator.ReasonShutdown}) {
		t.Errorf("flushes = %v", got)
	}
	if n := tr.CallCount(); n != 5 {
		t.Errorf("transcribe calls = %d, want 5", n)
	}
	for _, c := range tr.Calls {
		if c.Language != "it-IT" {
			t.Errorf("language = %q", c.Language)
		}
	}
	if n := rec.Count(displaymock.KindRecognized); n != 2 {
		t.Errorf("recognized events = %d, want 2", n)
	}
	errs := rec.Of(displaymock.KindError)
	if len(errs) != 1 || errs[0].Text != "stt: whisper: connection refused" {
		t.Errorf("error events = %+v", errs)
	}
}

type scriptedGate struct {
	mu   sync.Mutex
	seen []string
}

func (g *scriptedGate) Evaluate(text string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, text)
	switch text {
	case "sofi":
		return false, ""
	case "rumore":
		return false, ""
	}
	return true, "[" + text + "]"
}

func TestRun_BuffersOnlyAdmittedText(t *testing.T) {
	t.Parallel()

	q := audio.NewChannel()
	tr := &sttmock.Transcriber{Results: []sttmock.Result{
		{Text: "rumore"}, {Text: "sofi"}, {Text: "ciao"},
	}}
	g := &scriptedGate{}
	buf := &buffer{}
	rec := &displaymock.Recorder{}
	w := New(q, tr, g, buf, WithDisplay(rec))

	for range 3 {
		_ = q.Push(sample())
	}
	q.Stop()
	if err := w.Run(t.Context()); err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(g.seen, []string{"rumore", "sofi", "ciao"}) {
		t.Errorf("gate saw %q", g.seen)
	}
	if got := buf.Fragments(); !slices.Equal(got, []string{"[ciao]"}) {
		t.Errorf("fragments = %q", got)
	}
	shown := rec.Of(displaymock.KindRecognized)
	if len(shown) != 1 || shown[0].Text != "ciao" {
		t.Errorf("recognized events = %+v, want only the admitted text", shown)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	buf := &buffer{}
	w := New(audio.NewChannel(), &sttmock.Transcriber{}, admitAll{}, buf)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if len(buf.Flushes()) != 1 {
		t.Error("buffer not flushed on cancellation")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	q := audio.NewChannel()
	tr := &sttmock.Transcriber{Default: sttmock.Result{Text: "ok"}}
	buf := &buffer{}
	w := New(q, tr, admitAll{}, buf)

	w.Start(t.Context())
	w.Start(t.Context())
	waitFor(t, "worker running", w.Running)

	_ = q.Push(sample())
	waitFor(t, "fragment", func() bool { return len(buf.Fragments()) == 1 })

	if err := w.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.Running() {
		t.Error("worker still running after Stop")
	}
	if err := q.Push(sample()); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Push after Stop = %v, want ErrClosed", err)
	}
}

func TestStop_JoinTimeout(t *testing.T) {
	t.Parallel()

	q := audio.NewChannel()
	block := make(chan struct{})
	tr := &sttmock.Transcriber{Block: block}
	w := New(q, tr, admitAll{}, &buffer{})

	w.Start(t.Context())
	_ = q.Push(sample())
	waitFor(t, "transcription in flight", func() bool { return tr.CallCount() == 1 })

	if err := w.Stop(20 * time.Millisecond); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("Stop = %v, want ErrJoinTimeout", err)
	}
	close(block)
	waitFor(t, "abandoned worker exit", func() bool { return !w.Running() })
}

func TestStop_NeverStarted(t *testing.T) {
	t.Parallel()

	w := New(audio.NewChannel(), &sttmock.Transcriber{}, admitAll{}, &buffer{})
	if err := w.Stop(time.Millisecond); err != nil {
		t.Errorf("Stop = %v", err)
	}
}

type delivered struct {
	mu    sync.Mutex
	texts []string
}

func (d *delivered) Deliver(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
}

func TestPipeline_WakeWordToDelivery(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	sched := scheduler.New(clk)
	t.Cleanup(sched.Close)

	out := &delivered{}
	acc := accumulator.New(accumulator.DefaultConfig(), sched, out)
	g, err := gate.New(gate.Config{Enabled: true, Word: "sofi", Timeout: 10 * time.Second}, sched)
	if err != nil {
		t.Fatal(err)
	}

	q := audio.NewChannel()
	tr := &sttmock.Transcriber{Results: []sttmock.Result{
		{Text: "che tempo fa"},
		{Text: "Sofi, accendi la luce"},
		{Text: "in salotto"},
	}}
	w := New(q, tr, g, acc, WithClock(clk))

	for range 3 {
		_ = q.Push(sample())
	}
	q.Stop()
	if err := w.Run(t.Context()); err != nil {
		t.Fatal(err)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	if !slices.Equal(out.texts, []string{"accendi la luce in salotto"}) {
		t.Errorf("delivered %q", out.texts)
	}
}
