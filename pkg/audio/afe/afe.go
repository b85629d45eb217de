// Package afe defines the audio front-end (AFE) engine capability used by the
// capture pipeline.
//
// An AFE engine is an opaque signal-processing stage (noise suppression, echo
// handling, voice-communication AGC) that consumes fixed-size chunks of 16-bit
// PCM through [Engine.Feed] and produces processed audio through
// [Engine.Fetch]. The interface is deliberately narrow so that a vendor
// engine, the identity engine in package passthrough, or a test double can be
// swapped without touching the capture goroutines.
//
// Feed and Fetch are called from two different goroutines. Implementations
// must be safe for exactly one concurrent feeder and one concurrent fetcher;
// no other method may run concurrently with either of them.
package afe

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFeedFailed signals that the engine rejected input and is no longer in
	// sync with its caller. Feed errors are fatal to the feeding goroutine.
	ErrFeedFailed = errors.New("afe: feed failed")

	// ErrFetchFailed signals a transient fetch failure. Callers retry.
	ErrFetchFailed = errors.New("afe: fetch failed")

	// ErrDestroyed is returned by Feed and Fetch after [Engine.Destroy].
	ErrDestroyed = errors.New("afe: engine destroyed")
)

// Mode selects the engine's processing graph.
type Mode int

const (
	// ModeVoiceCommunication enables the voice-communication chain (NS + AGC)
	// and produces a single processed channel.
	ModeVoiceCommunication Mode = iota

	// ModeWakeWord enables the wake-word/speech-recognition chain.
	ModeWakeWord
)

// String returns "vc" or "sr".
func (m Mode) String() string {
	switch m {
	case ModeVoiceCommunication:
		return "vc"
	case ModeWakeWord:
		return "sr"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// PerfMode trades CPU for quality.
type PerfMode int

const (
	// PerfHighPerf favours quality over CPU.
	PerfHighPerf PerfMode = iota
	// PerfLowCost favours CPU over quality.
	PerfLowCost
)

// NSMode selects the noise suppression algorithm.
type NSMode int

const (
	// NSModeSSP is classic spectral-subtraction noise suppression.
	NSModeSSP NSMode = iota
	// NSModeNet is model-based noise suppression.
	NSModeNet
)

// ParseNSMode maps "ssp" and "net" to their NSMode.
func ParseNSMode(s string) (NSMode, error) {
	switch s {
	case "ssp", "":
		return NSModeSSP, nil
	case "net":
		return NSModeNet, nil
	default:
		return 0, fmt.Errorf("afe: unknown ns mode %q", s)
	}
}

// String returns "ssp" or "net".
func (m NSMode) String() string {
	switch m {
	case NSModeSSP:
		return "ssp"
	case NSModeNet:
		return "net"
	default:
		return fmt.Sprintf("NSMode(%d)", int(m))
	}
}

// PCMConfig describes the interleaved PCM layout the engine is fed.
type PCMConfig struct {
	// TotalChannels is the number of interleaved channels per feed sample.
	TotalChannels int
	// MicNum is the number of microphone channels among TotalChannels.
	MicNum int
	// RefNum is the number of playback reference channels (echo cancellation).
	RefNum int
	// SampleRate in Hz.
	SampleRate int
}

// Config is the engine creation record.
type Config struct {
	Mode Mode
	Perf PerfMode

	AECInit                bool
	VADInit                bool
	WakeNetInit            bool
	VoiceCommunicationInit bool
	AGCInit                bool

	// AGCGain is the voice-communication AGC target gain in dB.
	AGCGain int

	PCM    PCMConfig
	NSMode NSMode

	// RingBufSize is the depth, in feed chunks, of the engine's internal
	// queue between feed and fetch.
	RingBufSize int

	// Priority is the scheduling hint for the engine's worker threads.
	Priority int
}

// DefaultConfig returns the voice-communication configuration used for a
// single 16 kHz microphone.
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeVoiceCommunication,
		Perf:                   PerfHighPerf,
		VoiceCommunicationInit: true,
		AGCInit:                true,
		AGCGain:                44,
		PCM: PCMConfig{
			TotalChannels: 1,
			MicNum:        1,
			RefNum:        0,
			SampleRate:    16000,
		},
		NSMode:      NSModeSSP,
		RingBufSize: 16,
		Priority:    4,
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.PCM.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("afe: sample rate must be positive, got %d", c.PCM.SampleRate))
	}
	if c.PCM.TotalChannels <= 0 {
		errs = append(errs, fmt.Errorf("afe: total channels must be positive, got %d", c.PCM.TotalChannels))
	}
	if c.PCM.MicNum <= 0 || c.PCM.MicNum+c.PCM.RefNum > c.PCM.TotalChannels {
		errs = append(errs, fmt.Errorf("afe: mic_num %d + ref_num %d does not fit %d channels",
			c.PCM.MicNum, c.PCM.RefNum, c.PCM.TotalChannels))
	}
	if c.RingBufSize <= 0 {
		errs = append(errs, fmt.Errorf("afe: ringbuf size must be positive, got %d", c.RingBufSize))
	}
	return errors.Join(errs...)
}

// FetchResult is one block of processed engine output.
type FetchResult struct {
	// Data is 16-bit little-endian mono PCM. Its length is a whole multiple of
	// the pipeline frame size. The slice is only valid until the next Fetch.
	Data []byte
}

// Engine is the audio front-end capability.
//
// Chunk sizes are expressed in samples per channel. A feed chunk therefore
// occupies FeedChunkSize()*TotalChannels()*2 bytes.
type Engine interface {
	// FeedChunkSize returns the number of samples per channel Feed consumes.
	FeedChunkSize() int

	// FetchChunkSize returns the number of samples a successful Fetch yields.
	FetchChunkSize() int

	// TotalChannels returns the number of interleaved channels Feed expects.
	TotalChannels() int

	// Feed submits exactly one feed chunk of interleaved 16-bit PCM. It may
	// block while the engine's internal queue is full and returns ctx.Err()
	// if ctx is done first. Any other error means the engine is
	// desynchronized; callers stop feeding.
	Feed(ctx context.Context, pcm []byte) error

	// Fetch blocks until processed audio is available. An error wrapping
	// [ErrFetchFailed] is transient. ctx.Err() is returned if ctx is done
	// first.
	Fetch(ctx context.Context) (*FetchResult, error)

	// ResetBuffer discards all audio queued inside the engine. It must not be
	// called while Feed or Fetch is running.
	ResetBuffer()

	// Destroy releases the engine. Blocked Feed and Fetch calls return
	// [ErrDestroyed]. Destroy is idempotent.
	Destroy() error
}

// Factory constructs an engine from a configuration.
type Factory func(cfg Config) (Engine, error)
