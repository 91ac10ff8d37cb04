// Package app wires the capture pipeline together and owns its lifecycle.
//
// Construction is split into three phases:
//
//   - [New] builds every subsystem from a [config.Config] and a set of
//     [Providers]: scheduler, wake-word gate, accumulator, dispatcher,
//     recognition worker, health server and config watcher.
//   - [App.Run] opens the capture source, calibrates it, starts the worker
//     and the capture goroutine, then blocks until ctx is cancelled.
//   - [App.Shutdown] tears everything down in pipeline order so that the
//     words still buffered when the signal arrived reach the sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sofi/internal/accumulator"
	"github.com/MrWong99/sofi/internal/config"
	"github.com/MrWong99/sofi/internal/dispatch"
	"github.com/MrWong99/sofi/internal/display"
	"github.com/MrWong99/sofi/internal/gate"
	"github.com/MrWong99/sofi/internal/health"
	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/internal/recognizer"
	"github.com/MrWong99/sofi/internal/resilience"
	"github.com/MrWong99/sofi/internal/scheduler"
	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/provider/tts"
)

// Display is the union of the surfaces every pipeline stage writes to.
type Display interface {
	Progress()
	Recognized(text string)
	Buffering(text string)
	Countdown(seconds int)
	Sending(text string)
	WakeDetected()
	Response(text string)
	Info(msg string)
	Error(msg string)
}

// announcer is implemented by displays that print start-up and exit
// notices, such as [display.Console].
type announcer interface {
	Banner(wakeWord string, wakeEnabled bool)
	CalibrationStart()
	CalibrationDone()
	Exit()
}

// closer is a named teardown step run by Shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App owns all subsystems and manages their lifecycle.
type App struct {
	cfg       *config.Config
	providers *Providers

	display        Display
	metrics        *observe.Metrics
	clock          clock.Clock
	level          *slog.LevelVar
	metricsHandler http.Handler
	configPath     string
	device         string

	sched      *scheduler.Scheduler
	queue      *audio.Channel
	gate       *gate.Gate
	acc        *accumulator.Accumulator
	dispatcher *dispatch.Dispatcher
	worker     *recognizer.Worker
	health     *health.Server
	watcher    *config.Watcher

	// base outlives the Run context so the worker can drain the queue
	// after the interrupt; Shutdown cancels it last.
	base   context.Context
	cancel context.CancelFunc

	captureOpen atomic.Bool

	mu          sync.Mutex
	stopCapture func()
	closers     []closer
	stopOnce    sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithDisplay replaces the console built from the display config.
func WithDisplay(d Display) Option {
	return func(a *App) { a.display = d }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock sets the clock driving every timer. Default: the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogLevel hands the app the level of the default logger so config
// reloads can change it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetricsHandler mounts h at /metrics on the health server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigPath watches path and applies live-reloadable changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithDevice overrides cfg.Audio.Device.
func WithDevice(device string) Option {
	return func(a *App) { a.device = device }
}

// New creates a new App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	if providers.Transcriber == nil {
		return nil, &ResourceInitError{Kind: "stt", Name: cfg.Providers.STT.Name, Err: errors.New("no transcriber")}
	}
	if providers.Source == nil {
		return nil, &ResourceInitError{Kind: "audio", Name: cfg.Audio.Source, Err: errors.New("no capture source")}
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		device:    cfg.Audio.Device,
	}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.display == nil {
		a.display = newConsole(cfg.Display)
	}
	a.base, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. Timers ─────────────────────────────────────────────────────────────
	a.sched = scheduler.New(a.clock)

	// ── 2. Dispatcher ─────────────────────────────────────────────────────────
	a.initDispatcher()

	// ── 3. Accumulator and wake-word gate ─────────────────────────────────────
	a.acc = accumulator.New(bufferConfig(cfg.Buffer), a.sched, a.dispatcher,
		accumulator.WithDisplay(a.display),
		accumulator.WithMetrics(a.metrics),
	)
	g, err := gate.New(gate.Config{
		Enabled: cfg.WakeWord.Enabled,
		Word:    cfg.WakeWord.Word,
		Timeout: cfg.WakeWord.Timeout,
		Fuzzy:   cfg.WakeWord.Fuzzy,
	}, a.sched,
		gate.WithDisplay(a.display),
		gate.WithMetrics(a.metrics),
		gate.WithOnDeactivate(func() { a.acc.FlushNow(accumulator.ReasonWakeTimeout) }),
	)
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("app: init gate: %w", err)
	}
	a.gate = g

	// ── 4. Queue and recognition worker ───────────────────────────────────────
	a.queue = audio.NewChannel()
	if err := a.metrics.ObserveQueueDepth(a.queue.Len); err != nil {
		slog.Warn("app: queue depth gauge unavailable", "err", err)
	}
	a.worker = recognizer.New(a.queue, providers.Transcriber, a.gate, a.acc,
		recognizer.WithLanguage(cfg.Recognition.Language),
		recognizer.WithDisplay(a.display),
		recognizer.WithMetrics(a.metrics),
		recognizer.WithClock(a.clock),
		recognizer.WithProviderName(providers.STTName),
	)

	// ── 5. Health server ──────────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		h := health.New(
			health.Condition("worker", a.worker.Running, "recognition worker not running"),
			health.Condition("capture", a.captureOpen.Load, "audio source not open"),
			health.Condition("sink", a.dispatcher.Enabled, "no text sink configured"),
		)
		a.health = health.NewServer(cfg.Server.ListenAddr, h, a.metricsHandler, a.metrics)
	}

	// ── 6. Config watcher ─────────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithClock(a.clock))
		if err != nil {
			slog.Warn("app: config reload disabled", "path", a.configPath, "err", err)
		} else {
			a.watcher = w
			a.closers = append(a.closers, closer{"config watcher", func(context.Context) error {
				w.Stop()
				return nil
			}})
		}
	}

	a.closers = append(a.closers,
		closer{"audio source", func(context.Context) error { return providers.Source.Close() }},
		closer{"providers", func(context.Context) error { return providers.Close() }},
	)
	if a.health != nil {
		a.closers = append(a.closers, closer{"health server", a.health.Shutdown})
	}

	return a, nil
}

// initDispatcher builds the dispatcher around the configured LLM, plus a
// speaker when spoken replies are enabled and the source can play audio.
func (a *App) initDispatcher() {
	var sink dispatch.TextSink
	sinkName := "disabled"
	if a.providers.LLM != nil {
		sink = dispatch.NewLLMSink(a.providers.LLM,
			dispatch.WithSystemPrompt(a.cfg.Sink.SystemPrompt),
			dispatch.WithTemperature(a.cfg.Sink.Temperature),
			dispatch.WithMaxTokens(a.cfg.Sink.MaxTokens),
		)
		sinkName = a.providers.LLMName
	}

	opts := []dispatch.Option{
		dispatch.WithDisplay(a.display),
		dispatch.WithMetrics(a.metrics),
	}
	if sp := a.speaker(); sp != nil {
		opts = append(opts, dispatch.WithSpeaker(sp))
	}

	a.dispatcher = dispatch.New(sink, dispatch.Config{
		Timeout:  a.cfg.Sink.Timeout,
		SinkName: sinkName,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Sink.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Sink.Breaker.ResetTimeout,
			Clock:        a.clock,
		},
	}, opts...)
}

func (a *App) speaker() *tts.Speaker {
	if !a.cfg.Sink.SpeakResponses || a.providers.TTS == nil {
		return nil
	}
	player, ok := a.providers.Source.(audio.Player)
	if !ok {
		slog.Warn("app: spoken replies disabled, source cannot play audio", "source", a.cfg.Audio.Source)
		return nil
	}
	return tts.NewSpeaker(a.providers.TTS, player, a.cfg.Sink.Voice)
}

// Run opens the capture source, starts the pipeline and blocks until ctx
// is cancelled. It returns a [*ResourceInitError] when the source cannot
// be opened or listened to; health server failures only disable the
// endpoints.
func (a *App) Run(ctx context.Context) error {
	ann, _ := a.display.(announcer)

	g, gctx := errgroup.WithContext(ctx)
	if a.health != nil {
		g.Go(func() error {
			if err := a.health.Start(); err != nil {
				slog.Error("app: health endpoints disabled", "err", &ResourceInitError{Kind: "health", Name: a.cfg.Server.ListenAddr, Err: err})
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.providers.Source.Open(gctx, a.device); err != nil {
			return &ResourceInitError{Kind: "audio", Name: a.cfg.Audio.Source, Err: err}
		}
		a.captureOpen.Store(true)

		if d := a.cfg.Recognition.CalibrationDuration; d > 0 {
			if ann != nil {
				ann.CalibrationStart()
			}
			if err := a.providers.Source.Calibrate(gctx, d); err != nil {
				slog.Warn("app: calibration failed, keeping configured threshold", "err", err)
			}
			if ann != nil {
				ann.CalibrationDone()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	a.worker.Start(a.base)

	stop, err := a.providers.Source.Listen(a.base, &progressSink{
		next:    a.queue,
		display: a.display,
		metrics: a.metrics,
	}, a.cfg.Recognition.PhraseTimeLimit)
	if err != nil {
		return &ResourceInitError{Kind: "audio", Name: a.cfg.Audio.Source, Err: fmt.Errorf("listen: %w", err)}
	}
	a.mu.Lock()
	a.stopCapture = stop
	a.mu.Unlock()

	if ann != nil {
		ann.Banner(a.cfg.WakeWord.Word, a.cfg.WakeWord.Enabled)
	}
	slog.Info("app: listening",
		"source", a.cfg.Audio.Source,
		"device", a.device,
		"wake_word", a.cfg.WakeWord.Enabled,
		"sink", a.dispatcher.Enabled(),
	)

	<-ctx.Done()
	return ctx.Err()
}

// HealthAddr returns the bound address of the health server, or "" when it
// is disabled.
func (a *App) HealthAddr() string {
	if a.health == nil {
		return ""
	}
	return a.health.Addr()
}

// applyConfig is the watcher callback. Only the log level, the buffer
// timings and the wake-word timeout change live.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.BufferChanged {
		a.acc.SetConfig(bufferConfig(d.NewBuffer))
		slog.Info("app: buffer timings changed", "delay", d.NewBuffer.Delay, "max_hold", d.NewBuffer.MaxHold)
	}
	if d.WakeTimeoutChanged {
		a.gate.SetTimeout(d.NewWakeTimeout)
		slog.Info("app: wake word timeout changed", "timeout", d.NewWakeTimeout)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops capture, flushes whatever is buffered, waits for the
// worker and the dispatcher, and then releases resources. It respects the
// context deadline: if ctx expires, pending deliveries are abandoned,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		defer a.cancel()

		a.mu.Lock()
		stop := a.stopCapture
		a.mu.Unlock()
		if stop != nil {
			stop()
		}
		a.captureOpen.Store(false)

		a.gate.Stop()
		a.acc.Shutdown()
		if err := a.worker.Stop(a.cfg.System.JoinTimeout); err != nil {
			slog.Warn("app: recognition worker did not stop cleanly", "err", err)
		}
		if err := a.dispatcher.Close(ctx); err != nil {
			slog.Warn("app: pending deliveries abandoned", "err", err)
			shutdownErr = err
		}
		a.sched.Close()

		for i, c := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := c.fn(ctx); err != nil {
				slog.Warn("app: close error", "step", c.name, "err", err)
			}
		}

		if ann, ok := a.display.(announcer); ok {
			ann.Exit()
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// progressSink forwards captured samples to the queue and ticks the
// progress indicator.
type progressSink struct {
	next    audio.Sink
	display Display
	metrics *observe.Metrics
}

func (p *progressSink) Push(s audio.Sample) error {
	if err := p.next.Push(s); err != nil {
		return err
	}
	p.display.Progress()
	p.metrics.SamplesEnqueued.Add(context.Background(), 1)
	return nil
}

func newConsole(dc config.DisplayConfig) *display.Console {
	s := display.Strings{
		Progress:         dc.Progress,
		RecognizedPrefix: dc.RecognizedPrefix,
		WakeDetected:     dc.WakeDetected,
		BufferPrefix:     dc.BufferPrefix,
		BufferSuffix:     dc.BufferSuffix,
		CountdownFormat:  dc.CountdownFormat,
		Sending:          dc.Sending,
		ResponsePrefix:   dc.ResponsePrefix,
		ErrorPrefix:      dc.ErrorPrefix,
	}.Merge(display.DefaultStrings())

	var opts []display.Option
	if !dc.ShowProgress {
		opts = append(opts, display.WithoutProgress())
	}
	return display.New(os.Stdout, os.Stderr, s, opts...)
}

func bufferConfig(b config.BufferConfig) accumulator.Config {
	return accumulator.Config{
		Delay:     b.Delay,
		Extension: b.Extension,
		MaxHold:   b.MaxHold,
		Countdown: b.Countdown,
	}
}
