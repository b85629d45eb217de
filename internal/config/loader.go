package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/micpipe/pkg/audio/afe"
	"github.com/MrWong99/micpipe/pkg/audio/limiter"
)

// ValidBackendNames lists known backend names per kind.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = map[string][]string{
	"device": {"synth", "malgo"},
	"engine": {"passthrough"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultBitsPerSample   = 16
	DefaultFrameDurationMs = 10
	DefaultRingSlots       = 8
	DefaultReadFrameMs     = 20
	DefaultDevice          = "synth"
	DefaultEngine          = "passthrough"
	DefaultOpusBitrate     = 24000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration an empty YAML document yields, with every
// default applied. The result passes [Validate].
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
// The limiter threshold is only defaulted when the whole limiter block is
// empty, so an explicit threshold of 0 dBFS stays valid.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Capture
	setDefault(&c.SampleRate, DefaultSampleRate)
	setDefault(&c.Channels, DefaultChannels)
	setDefault(&c.BitsPerSample, DefaultBitsPerSample)
	setDefault(&c.FrameDurationMs, DefaultFrameDurationMs)
	setDefault(&c.RingSlots, DefaultRingSlots)
	setDefault(&c.ReadFrameMs, DefaultReadFrameMs)
	if c.Limiter == (LimiterConfig{}) {
		c.Limiter.ThresholdDB = limiter.DefaultThresholdDB
	}
	if c.Limiter.AttackMs == 0 {
		c.Limiter.AttackMs = limiter.DefaultAttackMs
	}
	if c.Limiter.ReleaseMs == 0 {
		c.Limiter.ReleaseMs = limiter.DefaultReleaseMs
	}

	if cfg.Device.Name == "" {
		cfg.Device.Name = DefaultDevice
	}

	def := afe.DefaultConfig()
	e := &cfg.Engine
	if e.Name == "" {
		e.Name = DefaultEngine
	}
	setDefault(&e.AGCGain, def.AGCGain)
	setDefault(&e.RingBufSize, def.RingBufSize)
	setDefault(&e.Priority, def.Priority)
	if e.NSMode == "" {
		e.NSMode = def.NSMode.String()
	}

	setDefault(&cfg.Encoder.Bitrate, DefaultOpusBitrate)
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", c.SampleRate))
	}
	if c.Channels != 1 {
		errs = append(errs, fmt.Errorf("capture.channels %d is unsupported; only mono capture is available", c.Channels))
	}
	if c.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("capture.bits_per_sample %d is unsupported; only 16-bit PCM is available", c.BitsPerSample))
	}
	if c.FrameDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration_ms %d must be positive", c.FrameDurationMs))
	} else if c.ReadFrameMs <= 0 || c.ReadFrameMs%c.FrameDurationMs != 0 {
		errs = append(errs, fmt.Errorf("capture.read_frame_ms %d must be a positive multiple of frame_duration_ms %d", c.ReadFrameMs, c.FrameDurationMs))
	}
	if c.SampleRate > 0 && c.FrameDurationMs > 0 && c.SampleRate*c.FrameDurationMs%1000 != 0 {
		errs = append(errs, fmt.Errorf("capture: %d ms at %d Hz is not a whole number of samples", c.FrameDurationMs, c.SampleRate))
	} else if c.SampleRate >= 1000 && c.FrameDurationMs > 0 {
		// The built-in engines fetch 10 ms chunks; each must split into whole frames.
		frameLen := c.SampleRate / 1000 * c.FrameDurationMs
		if chunk := c.SampleRate / 100; chunk%frameLen != 0 {
			errs = append(errs, fmt.Errorf("capture: the engine's 10 ms chunk of %d samples at %d Hz does not split into %d ms frames of %d samples",
				chunk, c.SampleRate, c.FrameDurationMs, frameLen))
		}
	}
	if c.RingSlots <= 0 {
		errs = append(errs, fmt.Errorf("capture.ring_slots %d must be positive", c.RingSlots))
	}
	l := c.Limiter
	if l.ThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("capture.limiter.threshold_db %.1f must not be above 0 dBFS", l.ThresholdDB))
	}
	if l.AttackMs <= 0 || l.ReleaseMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.limiter: attack_ms %.1f and release_ms %.1f must be positive", l.AttackMs, l.ReleaseMs))
	}

	// Backends
	if cfg.Device.Name == "" {
		errs = append(errs, errors.New("device.name is required"))
	}
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	}
	validateBackendName("device", cfg.Device.Name)
	validateBackendName("engine", cfg.Engine.Name)
	if _, err := afe.ParseNSMode(cfg.Engine.NSMode); err != nil {
		errs = append(errs, fmt.Errorf("engine.ns_mode %q is invalid; valid values: ssp, net", cfg.Engine.NSMode))
	}
	if cfg.Engine.RingBufSize < 0 {
		errs = append(errs, fmt.Errorf("engine.ringbuf_size %d must be positive", cfg.Engine.RingBufSize))
	}

	// Encoder
	if cfg.Encoder.Opus {
		if cfg.Encoder.Bitrate < 6000 || cfg.Encoder.Bitrate > 510000 {
			errs = append(errs, fmt.Errorf("encoder.bitrate %d is out of range [6000, 510000]", cfg.Encoder.Bitrate))
		}
		if !slices.Contains([]int{8000, 12000, 16000, 24000, 48000}, c.SampleRate) {
			errs = append(errs, fmt.Errorf("encoder.opus requires sample_rate 8000, 12000, 16000, 24000 or 48000; got %d", c.SampleRate))
		}
		if !slices.Contains([]int{10, 20, 40, 60}, c.ReadFrameMs) {
			errs = append(errs, fmt.Errorf("encoder.opus requires read_frame_ms 10, 20, 40 or 60; got %d", c.ReadFrameMs))
		}
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or an externally registered backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
