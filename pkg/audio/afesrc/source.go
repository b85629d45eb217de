// Package afesrc implements [audio.Source] on top of a hardware capture
// device and an audio front-end engine.
//
// Audio flows through two goroutines per capture run:
//
//	device ─Read─▶ feed ─Feed─▶ engine ─Fetch─▶ fetch ─Write─▶ ring buffer ─▶ ReadFrame
//
// The feed goroutine reads 32-bit hardware containers, decodes their 24
// significant bits, runs the peak limiter and hands 16-bit PCM to the engine.
// The fetch goroutine slices the engine output into 10 ms frames and queues
// them in a bounded ring buffer, blocking when the consumer stalls. ReadFrame
// drains the ring buffer in FIFO order.
//
// Everything a capture run allocates is owned by a per-run value created in
// Start and released in Stop, so a Source can be restarted any number of
// times without renegotiating.
package afesrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/afe"
	"github.com/MrWong99/micpipe/pkg/audio/device"
	"github.com/MrWong99/micpipe/pkg/audio/limiter"
	"github.com/MrWong99/micpipe/pkg/audio/ringbuf"
)

const (
	// DefaultFrameDuration is the duration of one ring-buffer slot.
	DefaultFrameDuration = 10 * time.Millisecond

	// DefaultRingSlots is the ring-buffer depth in frames.
	DefaultRingSlots = 8

	// DefaultPriority is the scheduling hint recorded for the capture
	// goroutines.
	DefaultPriority = 4

	// readWarnEvery limits device read warnings to one per this many
	// consecutive failures.
	readWarnEvery = 100
)

type state int

const (
	stateClosed state = iota
	stateOpened
	stateNegotiated
	stateStarted
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpened:
		return "opened"
	case stateNegotiated:
		return "negotiated"
	case stateStarted:
		return "started"
	case stateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a [Source].
type Option func(*Source)

// WithObserver installs an event observer. The default discards events.
func WithObserver(o Observer) Option {
	return func(s *Source) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithLockOSThread pins the feed and fetch goroutines to OS threads.
func WithLockOSThread(on bool) Option {
	return func(s *Source) { s.lockOSThread = on }
}

// WithRingSlots sets the ring-buffer depth in frames.
func WithRingSlots(n int) Option {
	return func(s *Source) { s.ringSlots = n }
}

// WithFrameDuration sets the duration of one ring-buffer slot.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDuration = d }
}

// WithLimiter sets the peak limiter parameters applied at every Start.
func WithLimiter(thresholdDB, attackMs, releaseMs float64) Option {
	return func(s *Source) {
		s.thresholdDB = thresholdDB
		s.attackMs = attackMs
		s.releaseMs = releaseMs
	}
}

// WithPriority sets the scheduling hint logged for the capture goroutines.
func WithPriority(p int) Option {
	return func(s *Source) { s.priority = p }
}

// Source is an [audio.Source] bridging a [device.Device] and an [afe.Engine].
//
// Lifecycle methods must be called from one owner goroutine. ReadFrame may be
// called from a different goroutine; a Stop wakes a blocked ReadFrame.
type Source struct {
	eng afe.Engine
	obs Observer

	lockOSThread  bool
	ringSlots     int
	frameDuration time.Duration
	thresholdDB   float64
	attackMs      float64
	releaseMs     float64
	priority      int

	mu    sync.Mutex
	dev   device.Device
	state state
	caps  audio.Caps
	run   *capture

	// fatal holds the error that killed the feed goroutine of the current
	// run, if any.
	fatal atomic.Pointer[error]
}

var _ audio.Source = (*Source)(nil)

// New returns a closed Source. dev may be nil, in which case Open fails with
// [audio.ErrNotSupported]. The Source owns eng and destroys it in Close.
func New(dev device.Device, eng afe.Engine, opts ...Option) (*Source, error) {
	if eng == nil {
		return nil, errors.New("afesrc: engine is required")
	}
	s := &Source{
		dev:           dev,
		eng:           eng,
		obs:           NopObserver{},
		ringSlots:     DefaultRingSlots,
		frameDuration: DefaultFrameDuration,
		thresholdDB:   limiter.DefaultThresholdDB,
		attackMs:      limiter.DefaultAttackMs,
		releaseMs:     limiter.DefaultReleaseMs,
		priority:      DefaultPriority,
	}
	for _, o := range opts {
		o(s)
	}
	if s.ringSlots <= 0 {
		return nil, fmt.Errorf("afesrc: ring slots must be positive, got %d", s.ringSlots)
	}
	if s.frameDuration < time.Millisecond {
		return nil, fmt.Errorf("afesrc: frame duration %v is below 1ms", s.frameDuration)
	}
	return s, nil
}

// Open implements [audio.Source].
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return fmt.Errorf("afesrc: open: no capture device bound: %w", audio.ErrNotSupported)
	}
	switch s.state {
	case stateStarted:
		return fmt.Errorf("afesrc: open while started: %w", audio.ErrInvalidState)
	case stateClosed:
		s.state = stateOpened
	}
	return nil
}

// SupportedCodecs implements [audio.Source]. The source produces raw PCM only.
func (s *Source) SupportedCodecs() []audio.Codec {
	return []audio.Codec{audio.CodecPCM}
}

// Negotiate implements [audio.Source]. Only mono 16-bit PCM is accepted; the
// accepted caps become the session format.
func (s *Source) Negotiate(in audio.Caps) (audio.Caps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOpened, stateNegotiated:
	default:
		return audio.Caps{}, fmt.Errorf("afesrc: negotiate in state %s: %w", s.state, audio.ErrInvalidState)
	}

	for _, c := range s.SupportedCodecs() {
		if c != in.Codec {
			continue
		}
		if in.Channels != 1 || in.BitsPerSample != 16 {
			break
		}
		if audio.SamplesPerFrame(in.SampleRate, s.frameDuration) <= 0 {
			break
		}
		s.caps = in
		s.state = stateNegotiated
		slog.Debug("afesrc: caps negotiated", "caps", in.String())
		return in, nil
	}
	return audio.Caps{}, fmt.Errorf("afesrc: negotiate %s: %w", in, audio.ErrNotSupported)
}

// Caps returns the negotiated format.
func (s *Source) Caps() audio.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Start implements [audio.Source]. It opens the device with 32-bit containers
// at the negotiated rate and launches the feed and fetch goroutines.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNegotiated {
		return fmt.Errorf("afesrc: start in state %s: %w", s.state, audio.ErrInvalidState)
	}

	frameLen := audio.SamplesPerFrame(s.caps.SampleRate, s.frameDuration)
	if fc := s.eng.FetchChunkSize(); fc <= 0 || fc%frameLen != 0 {
		slog.Error("afesrc: engine fetch chunk is not a whole number of frames",
			"fetch_chunk", fc, "audio_frame_len", frameLen)
		return fmt.Errorf("afesrc: engine fetch chunk of %d samples does not split into %d-sample frames: %w",
			fc, frameLen, audio.ErrNotSupported)
	}

	info := device.SampleInfo{
		SampleRate:    s.caps.SampleRate,
		BitsPerSample: audio.ContainerBytes * 8,
		Channels:      s.caps.Channels,
		ChannelMask:   device.ChannelMask(0),
	}
	if err := s.dev.Open(info); err != nil {
		slog.Error("afesrc: failed to open capture device", "format", info.String(), "err", err)
		return fmt.Errorf("afesrc: open device: %w: %w", audio.ErrNotSupported, err)
	}

	frameSize := frameLen * 2 * s.caps.Channels
	rb, err := ringbuf.New(s.ringSlots, frameSize)
	if err != nil {
		_ = s.dev.Close()
		slog.Error("afesrc: unable to create ring buffer", "slots", s.ringSlots, "slot_size", frameSize, "err", err)
		return fmt.Errorf("afesrc: ring buffer: %w: %w", audio.ErrNoMemory, err)
	}

	s.fatal.Store(nil)
	run := &capture{
		src:       s,
		dev:       s.dev,
		rb:        rb,
		lim:       limiter.New(s.thresholdDB, s.attackMs, s.releaseMs, float64(s.caps.SampleRate)),
		caps:      s.caps,
		frameLen:  frameLen,
		frameSize: frameSize,
		feedDone:  make(chan struct{}),
		fetchDone: make(chan struct{}),
	}
	slog.Debug("afesrc: capture configured",
		"audio_frame_len", frameLen, "audio_frame_sz", frameSize, "ring_slots", s.ringSlots)

	var fetchCtx, feedCtx context.Context
	fetchCtx, run.fetchCancel = context.WithCancel(context.Background())
	feedCtx, run.feedCancel = context.WithCancel(context.Background())
	go run.fetchLoop(fetchCtx)
	go run.feedLoop(feedCtx)

	s.run = run
	s.state = stateStarted
	s.obs.CaptureStarted()
	slog.Info("afesrc: capture started", "caps", s.caps.String())
	return nil
}

// ReadFrame implements [audio.Source]. len(frame.Data) must be a non-zero
// multiple of the frame size (10 ms of negotiated audio by default).
//
// ReadFrame returns [audio.ErrNotSupported] when the source is not started or
// is stopped while the call is blocked, and [audio.ErrInternal] on a size
// mismatch or once the feed goroutine has failed.
func (s *Source) ReadFrame(ctx context.Context, frame *audio.AudioFrame) error {
	s.mu.Lock()
	run := s.run
	started := s.state == stateStarted
	s.mu.Unlock()
	if !started || run == nil {
		return fmt.Errorf("afesrc: read frame: not started: %w", audio.ErrNotSupported)
	}
	return run.readFrame(ctx, frame)
}

// Stop implements [audio.Source]. The fetch goroutine is always stopped
// before the feed goroutine so that fetch never waits on input feed no
// longer supplies. Stop on a source that is not started is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	if s.state != stateStarted {
		return nil
	}
	run := s.run

	run.fetchCancel()
	<-run.fetchDone
	run.feedCancel()
	<-run.feedDone

	s.eng.ResetBuffer()
	run.rb.Reset()
	run.rb.Close()

	var err error
	if s.dev != nil {
		if cerr := s.dev.Close(); cerr != nil {
			err = fmt.Errorf("afesrc: close device: %w", cerr)
		}
	}
	s.run = nil
	s.state = stateNegotiated
	s.obs.CaptureStopped()
	slog.Info("afesrc: capture stopped", "frames", run.frameNum.Load())
	return err
}

// Close implements [audio.Source]. A started source is stopped first. After
// Close the device is released and the engine destroyed; Open fails with
// [audio.ErrNotSupported].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateTerminated {
		return nil
	}
	stopErr := s.stopLocked()

	s.dev = nil
	var destroyErr error
	if err := s.eng.Destroy(); err != nil {
		destroyErr = fmt.Errorf("afesrc: destroy engine: %w", err)
	}
	s.state = stateTerminated
	return errors.Join(stopErr, destroyErr)
}

// Err returns the error that stopped the feed goroutine of the current
// capture run, or nil while the pipeline is healthy.
func (s *Source) Err() error {
	if p := s.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

// Started reports whether the source is producing frames.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStarted
}
