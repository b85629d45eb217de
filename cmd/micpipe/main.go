// Command micpipe captures microphone audio through the voice front-end
// pipeline and writes it as raw PCM or length-prefixed Opus packets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/micpipe/internal/capture"
	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/internal/health"
	"github.com/MrWong99/micpipe/internal/observe"
	"github.com/MrWong99/micpipe/pkg/audio/afe/passthrough"
	"github.com/MrWong99/micpipe/pkg/audio/afesrc"
	"github.com/MrWong99/micpipe/pkg/audio/device"
	"github.com/MrWong99/micpipe/pkg/audio/device/malgo"
	"github.com/MrWong99/micpipe/pkg/audio/device/synth"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	outPath := flag.String("out", "", `output file for captured audio; "-" writes to stdout, empty discards`)
	duration := flag.Duration("duration", 0, "stop capturing after this long (0 runs until interrupted)")
	listDevices := flag.Bool("list-devices", false, "print the capture devices known to miniaudio and exit")
	flag.Parse()

	if *listDevices {
		names, err := malgo.Devices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "micpipe: %v\n", err)
			return 1
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "micpipe: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("micpipe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(providers.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	dev, err := reg.CreateDevice(cfg.Device)
	if err != nil {
		slog.Error("failed to create capture device", "name", cfg.Device.Name, "err", err)
		return 1
	}
	eng, err := reg.CreateEngine(cfg)
	if err != nil {
		slog.Error("failed to create audio front-end engine", "name", cfg.Engine.Name, "err", err)
		return 1
	}

	// ── Capture source ────────────────────────────────────────────────────────
	lim := cfg.Capture.Limiter
	src, err := afesrc.New(dev, eng,
		afesrc.WithObserver(observe.NewCaptureObserver(metrics)),
		afesrc.WithFrameDuration(cfg.Capture.FrameDuration()),
		afesrc.WithRingSlots(cfg.Capture.RingSlots),
		afesrc.WithLimiter(lim.ThresholdDB, lim.AttackMs, lim.ReleaseMs),
		afesrc.WithLockOSThread(cfg.Capture.LockOSThread),
		afesrc.WithPriority(cfg.Engine.Priority),
	)
	if err != nil {
		_ = eng.Destroy()
		slog.Error("failed to create capture source", "err", err)
		return 1
	}

	// ── Output ────────────────────────────────────────────────────────────────
	out, closeOut, err := openOutput(*outPath)
	if err != nil {
		slog.Error("failed to open output", "path", *outPath, "err", err)
		_ = src.Close()
		return 1
	}
	defer closeOut()

	var enc capture.Encoder = capture.PCMEncoder{}
	if cfg.Encoder.Opus {
		enc, err = capture.NewOpusEncoder(cfg.Capture.Caps().Format(), cfg.Capture.ReadFrameDuration(), cfg.Encoder.Bitrate)
		if err != nil {
			slog.Error("failed to create encoder", "err", err)
			_ = src.Close()
			return 1
		}
	}

	sess, err := capture.New(src,
		capture.WithCaps(cfg.Capture.Caps()),
		capture.WithFrameDuration(cfg.Capture.ReadFrameDuration()),
		capture.WithEncoder(enc),
		capture.WithSink(capture.NewWriterSink(out)),
		capture.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create capture session", "err", err)
		_ = src.Close()
		return 1
	}

	// ── HTTP: health + metrics ────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(health.CaptureChecker("capture", src)).Register(mux)
		mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg, *outPath)

	// ── Capture ───────────────────────────────────────────────────────────────
	code := 0
	if err := sess.Run(ctx); err != nil {
		slog.Error("capture failed", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
	st := sess.Stats()
	slog.Info("goodbye", "frames", st.Frames, "packets", st.Packets, "bytes", st.Bytes)
	return code
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the devices and engines that ship with
// micpipe into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterDevice("synth", func(entry config.BackendEntry) (device.Device, error) {
		return synth.FromOptions(entry.Options)
	})
	reg.RegisterDevice("malgo", func(entry config.BackendEntry) (device.Device, error) {
		return malgo.FromOptions(entry.Options)
	})
	reg.RegisterEngine("passthrough", passthrough.Factory)

	for _, name := range reg.Devices() {
		slog.Debug("registered backend", "kind", "device", "name", name)
	}
}

// openOutput resolves the -out flag to a writer and its cleanup.
func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Warn("close output", "path", path, "err", err)
		}
	}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr because stdout may carry audio.
func printStartupSummary(cfg *config.Config, out string) {
	codec := "pcm"
	if cfg.Encoder.Opus {
		codec = fmt.Sprintf("opus %d bps", cfg.Encoder.Bitrate)
	}
	if out == "" {
		out = "(discard)"
	}
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         micpipe startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Device", cfg.Device.Name)
	printRow(w, "Engine", cfg.Engine.Name)
	printRow(w, "Format", cfg.Capture.Caps().String())
	printRow(w, "Frame", fmt.Sprintf("%d ms x %d slots", cfg.Capture.FrameDurationMs, cfg.Capture.RingSlots))
	printRow(w, "Read frame", fmt.Sprintf("%d ms", cfg.Capture.ReadFrameMs))
	printRow(w, "Codec", codec)
	printRow(w, "Output", out)
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
