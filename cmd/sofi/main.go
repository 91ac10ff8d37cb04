// Command sofi listens to speech, waits for the wake word and forwards each
// finished utterance to a language model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/MrWong99/sofi/internal/app"
	"github.com/MrWong99/sofi/internal/config"
	"github.com/MrWong99/sofi/internal/observe"
	"github.com/MrWong99/sofi/pkg/audio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "sofi.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the capture devices of the configured audio source and exit")
	device := flag.String("device", "", "capture device to open, overriding audio.device")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watch, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sofi: %v\n", err)
		return 1
	}
	if *device != "" {
		cfg.Audio.Device = *device
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("sofi starting",
		"version", version,
		"config", *configPath,
		"source", cfg.Audio.Source,
		"stt", cfg.Providers.STT.Name,
		"llm", cfg.Providers.LLM.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.System.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	if *listDevices {
		if err := printDevices(ctx, os.Stdout, cfg, reg); err != nil {
			slog.Error("failed to list devices", "err", err)
			return 1
		}
		return 0
	}

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
	}
	if watch {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Source.Close()
		_ = providers.Close()
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.System.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	return code
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the built-in defaults are used and the file
// is not watched.
func loadConfig(path string, explicit bool) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = config.Default()
		return cfg, false, config.Validate(cfg)
	case errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found", path)
	default:
		return nil, false, err
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printDevices(ctx context.Context, w io.Writer, cfg *config.Config, reg *config.Registry) error {
	src, err := reg.CreateSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	lister, ok := src.(audio.DeviceLister)
	if !ok {
		return fmt.Errorf("audio source %q cannot list devices", cfg.Audio.Source)
	}
	devices, err := lister.Devices(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, def)
	}
	return tw.Flush()
}
