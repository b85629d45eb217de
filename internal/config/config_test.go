package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/afe"
	"github.com/MrWong99/micpipe/pkg/audio/device"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

capture:
  sample_rate: 16000
  channels: 1
  bits_per_sample: 16
  frame_duration_ms: 10
  ring_slots: 4
  read_frame_ms: 20
  lock_os_thread: true
  limiter:
    threshold_db: -30
    attack_ms: 2
    release_ms: 80

device:
  name: synth
  options:
    signal: tone
    frequency: 440
    realtime: true

engine:
  name: passthrough
  agc_gain: 30
  ns_mode: net
  ringbuf_size: 32

encoder:
  opus: true
  bitrate: 32000
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Capture.RingSlots != 4 {
		t.Errorf("capture.ring_slots: got %d, want 4", cfg.Capture.RingSlots)
	}
	if !cfg.Capture.LockOSThread {
		t.Error("capture.lock_os_thread: got false, want true")
	}
	want := config.LimiterConfig{ThresholdDB: -30, AttackMs: 2, ReleaseMs: 80}
	if cfg.Capture.Limiter != want {
		t.Errorf("capture.limiter: got %+v, want %+v", cfg.Capture.Limiter, want)
	}
	if cfg.Device.Name != "synth" {
		t.Errorf("device.name: got %q, want synth", cfg.Device.Name)
	}
	if cfg.Device.Options["signal"] != "tone" {
		t.Errorf("device.options.signal: got %v, want tone", cfg.Device.Options["signal"])
	}
	if cfg.Engine.Name != "passthrough" || cfg.Engine.NSMode != "net" || cfg.Engine.RingBufSize != 32 {
		t.Errorf("engine: got %+v", cfg.Engine)
	}
	if !cfg.Encoder.Opus || cfg.Encoder.Bitrate != 32000 {
		t.Errorf("encoder: got %+v", cfg.Encoder)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
	}
}

// ── Defaults ──────────────────────────────────────────────────────────────────

func TestApplyDefaults(t *testing.T) {
	cfg := config.Default()

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	wantCaps := audio.Caps{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	if got := cfg.Capture.Caps(); got != wantCaps {
		t.Errorf("Caps() = %v, want %v", got, wantCaps)
	}
	if got := cfg.Capture.FrameDuration(); got != 10*time.Millisecond {
		t.Errorf("FrameDuration() = %v, want 10ms", got)
	}
	if got := cfg.Capture.ReadFrameDuration(); got != 20*time.Millisecond {
		t.Errorf("ReadFrameDuration() = %v, want 20ms", got)
	}
	if cfg.Capture.RingSlots != 8 {
		t.Errorf("ring_slots = %d, want 8", cfg.Capture.RingSlots)
	}
	wantLim := config.LimiterConfig{ThresholdDB: -60, AttackMs: 5, ReleaseMs: 50}
	if cfg.Capture.Limiter != wantLim {
		t.Errorf("limiter = %+v, want %+v", cfg.Capture.Limiter, wantLim)
	}
	if cfg.Device.Name != "synth" || cfg.Engine.Name != "passthrough" {
		t.Errorf("backends = %q/%q, want synth/passthrough", cfg.Device.Name, cfg.Engine.Name)
	}
	if cfg.Engine.AGCGain != 44 || cfg.Engine.NSMode != "ssp" || cfg.Engine.RingBufSize != 16 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Encoder.Opus {
		t.Error("encoder.opus defaults to true, want false")
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestApplyDefaults_ExplicitZeroThreshold(t *testing.T) {
	yaml := `
capture:
  limiter:
    threshold_db: 0
    attack_ms: 1
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.LimiterConfig{ThresholdDB: 0, AttackMs: 1, ReleaseMs: 50}
	if cfg.Capture.Limiter != want {
		t.Errorf("limiter = %+v, want %+v", cfg.Capture.Limiter, want)
	}
}

func TestAFEConfig(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acfg := cfg.AFEConfig()
	if acfg.Mode != afe.ModeVoiceCommunication {
		t.Errorf("Mode = %v, want voice communication", acfg.Mode)
	}
	if acfg.PCM.SampleRate != 16000 || acfg.PCM.TotalChannels != 1 || acfg.PCM.MicNum != 1 {
		t.Errorf("PCM = %+v", acfg.PCM)
	}
	if acfg.AGCGain != 30 || acfg.NSMode != afe.NSModeNet || acfg.RingBufSize != 32 {
		t.Errorf("engine tuning = gain %d ns %v ringbuf %d", acfg.AGCGain, acfg.NSMode, acfg.RingBufSize)
	}
	if err := acfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnregisteredDevice(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateDevice(config.BackendEntry{Name: "alsa"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
	if !strings.Contains(err.Error(), `device/"alsa"`) {
		t.Errorf("error should name the backend, got: %v", err)
	}
}

func TestRegistry_UnregisteredEngine(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateEngine(config.Default())
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_RegisteredDevice(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubDevice{}
	var gotEntry config.BackendEntry
	reg.RegisterDevice("stub", func(e config.BackendEntry) (device.Device, error) {
		gotEntry = e
		return want, nil
	})
	entry := config.BackendEntry{Name: "stub", Options: map[string]any{"k": "v"}}
	got, err := reg.CreateDevice(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned device is not the expected instance")
	}
	if gotEntry.Options["k"] != "v" {
		t.Errorf("factory did not receive options, got %+v", gotEntry)
	}
	if names := reg.Devices(); !slices.Equal(names, []string{"stub"}) {
		t.Errorf("Devices() = %v, want [stub]", names)
	}
}

func TestRegistry_RegisteredEngine(t *testing.T) {
	reg := config.NewRegistry()
	var got afe.Config
	reg.RegisterEngine("passthrough", func(c afe.Config) (afe.Engine, error) {
		got = c
		return nil, nil
	})
	cfg := config.Default()
	cfg.Engine.AGCGain = 12
	if _, err := reg.CreateEngine(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AGCGain != 12 || got.PCM.SampleRate != 16000 {
		t.Errorf("factory received %+v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterDevice("broken", func(config.BackendEntry) (device.Device, error) {
		return nil, wantErr
	})
	_, err := reg.CreateDevice(config.BackendEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubDevice implements device.Device with no-op methods.
type stubDevice struct{}

func (s *stubDevice) Open(device.SampleInfo) error           { return nil }
func (s *stubDevice) Read(_ context.Context, _ []byte) error { return nil }
func (s *stubDevice) Close() error                           { return nil }
