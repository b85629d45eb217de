// Package config provides the configuration schema, loader, and backend
// registry for the micpipe capture service.
package config

import (
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/afe"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Device  BackendEntry  `yaml:"device"`
	Engine  EngineConfig  `yaml:"engine"`
	Encoder EncoderConfig `yaml:"encoder"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig describes the stream requested from the audio source.
type CaptureConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	Channels      int `yaml:"channels"`
	BitsPerSample int `yaml:"bits_per_sample"`

	// FrameDurationMs is the audio held by one ring-buffer slot.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// RingSlots is the ring-buffer depth in slots.
	RingSlots int `yaml:"ring_slots"`

	// ReadFrameMs is the consumer frame size. It must be a multiple of
	// FrameDurationMs.
	ReadFrameMs int `yaml:"read_frame_ms"`

	Limiter LimiterConfig `yaml:"limiter"`

	// LockOSThread pins the capture goroutines to OS threads.
	LockOSThread bool `yaml:"lock_os_thread"`
}

// LimiterConfig parameterises the peak limiter applied before the engine.
type LimiterConfig struct {
	ThresholdDB float64 `yaml:"threshold_db"`
	AttackMs    float64 `yaml:"attack_ms"`
	ReleaseMs   float64 `yaml:"release_ms"`
}

// BackendEntry selects a registered backend. The Name field is used to look
// up the constructor in the [Registry].
type BackendEntry struct {
	// Name selects the registered implementation (e.g., "synth", "malgo").
	Name string `yaml:"name"`

	// Options holds backend-specific configuration values. Values may be
	// strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// EngineConfig selects and tunes the audio front-end engine.
type EngineConfig struct {
	BackendEntry `yaml:",inline"`

	// AGCGain is the automatic gain control gain in dB.
	AGCGain int `yaml:"agc_gain"`

	// NSMode selects the noise suppressor: "ssp" or "net".
	NSMode string `yaml:"ns_mode"`

	// RingBufSize is the engine's internal queue depth in chunks.
	RingBufSize int `yaml:"ringbuf_size"`

	// Priority is propagated to the capture goroutines' log context.
	Priority int `yaml:"priority"`
}

// EncoderConfig configures the optional Opus encoding stage of a capture
// session.
type EncoderConfig struct {
	// Opus enables Opus encoding. When false, raw PCM is delivered.
	Opus bool `yaml:"opus"`

	// Bitrate is the Opus target bitrate in bits per second.
	Bitrate int `yaml:"bitrate"`
}

// Caps returns the capabilities to request from the source.
func (c CaptureConfig) Caps() audio.Caps {
	return audio.Caps{
		Codec:         audio.CodecPCM,
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
	}
}

// FrameDuration returns FrameDurationMs as a [time.Duration].
func (c CaptureConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// ReadFrameDuration returns ReadFrameMs as a [time.Duration].
func (c CaptureConfig) ReadFrameDuration() time.Duration {
	return time.Duration(c.ReadFrameMs) * time.Millisecond
}

// AFEConfig builds the engine configuration for a capture with this layout.
// NSMode must have passed [Validate].
func (c *Config) AFEConfig() afe.Config {
	cfg := afe.DefaultConfig()
	cfg.PCM.SampleRate = c.Capture.SampleRate
	cfg.PCM.TotalChannels = c.Capture.Channels
	cfg.PCM.MicNum = c.Capture.Channels
	cfg.PCM.RefNum = 0
	cfg.AGCGain = c.Engine.AGCGain
	cfg.RingBufSize = c.Engine.RingBufSize
	cfg.Priority = c.Engine.Priority
	if ns, err := afe.ParseNSMode(c.Engine.NSMode); err == nil {
		cfg.NSMode = ns
	}
	return cfg
}
