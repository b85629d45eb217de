// Package capture drives an [audio.Source] through a complete capture run:
// open, negotiate, start, read frames, encode, deliver to a [Sink], then stop
// and close.
//
// Reading and encoding run in separate goroutines joined by a bounded queue,
// so a slow sink applies backpressure to ReadFrame rather than buffering
// without limit.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/micpipe/internal/observe"
	"github.com/MrWong99/micpipe/pkg/audio"
)

const (
	// DefaultFrameDuration is the consumer frame size.
	DefaultFrameDuration = 20 * time.Millisecond

	// DefaultQueueDepth is the number of frames buffered between the reader
	// and the encoder.
	DefaultQueueDepth = 4
)

// DefaultCaps is the stream requested when no caps are configured: 16 kHz
// mono 16-bit PCM.
var DefaultCaps = audio.Caps{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// Option configures a [Session].
type Option func(*Session)

// WithCaps sets the capabilities requested from the source.
func WithCaps(c audio.Caps) Option {
	return func(s *Session) { s.caps = c }
}

// WithFrameDuration sets the audio read per ReadFrame call. It must be a
// multiple of the source's internal frame.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Session) { s.frameDur = d }
}

// WithEncoder sets the packet encoder. Defaults to [PCMEncoder].
func WithEncoder(e Encoder) Option {
	return func(s *Session) { s.enc = e }
}

// WithSink sets the packet consumer. Without a sink packets are discarded.
func WithSink(sink Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithMetrics sets the metrics packets are recorded on. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithQueueDepth sets the reader to encoder queue depth.
func WithQueueDepth(n int) Option {
	return func(s *Session) { s.depth = n }
}

// WithMaxFrames ends the run cleanly after n frames. Zero means unlimited.
func WithMaxFrames(n int64) Option {
	return func(s *Session) { s.maxFrames = n }
}

// Stats summarises a session's progress.
type Stats struct {
	Frames  int64
	Packets int64
	Bytes   int64
}

// Session owns one [audio.Source] and runs it until its context ends.
// A Session is not reusable: Run closes the source.
type Session struct {
	src       audio.Source
	caps      audio.Caps
	frameDur  time.Duration
	enc       Encoder
	sink      Sink
	metrics   *observe.Metrics
	depth     int
	maxFrames int64

	running atomic.Bool
	frames  atomic.Int64
	packets atomic.Int64
	bytes   atomic.Int64
}

// New creates a Session for src.
func New(src audio.Source, opts ...Option) (*Session, error) {
	if src == nil {
		return nil, errors.New("capture: source is required")
	}
	s := &Session{
		src:      src,
		caps:     DefaultCaps,
		frameDur: DefaultFrameDuration,
		enc:      PCMEncoder{},
		sink:     SinkFunc(func(context.Context, Packet) error { return nil }),
		depth:    DefaultQueueDepth,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.depth <= 0 {
		return nil, fmt.Errorf("capture: queue depth must be positive, got %d", s.depth)
	}
	if s.caps.FrameBytes(s.frameDur) <= 0 {
		return nil, fmt.Errorf("capture: frame duration %v holds no samples at %s", s.frameDur, s.caps)
	}
	return s, nil
}

// Running reports whether Run has started the source and not yet stopped it.
func (s *Session) Running() bool { return s.running.Load() }

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:  s.frames.Load(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
	}
}

// Run opens, negotiates and starts the source, then delivers frames until ctx
// is done, the frame limit is reached, or the pipeline fails. The source is
// always stopped and closed before Run returns. Cancellation of ctx is a
// clean shutdown and returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(ctx, "capture.session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := observe.Logger(ctx)

	if err := s.src.Open(); err != nil {
		return fmt.Errorf("capture: open source: %w", err)
	}
	defer func() {
		if cerr := s.src.Close(); cerr != nil {
			log.Warn("capture: close source", "err", cerr)
			if err == nil {
				err = fmt.Errorf("capture: close source: %w", cerr)
			}
		}
	}()

	caps, err := s.src.Negotiate(s.caps)
	if err != nil {
		return fmt.Errorf("capture: negotiate %s: %w", s.caps, err)
	}
	span.SetAttributes(observe.CapsAttributes(caps)...)

	if err := s.start(ctx); err != nil {
		return err
	}
	defer func() {
		if serr := s.stop(ctx); serr != nil && err == nil {
			err = serr
		}
	}()

	log.Info("capture: session running",
		"caps", caps.String(),
		"frame_duration", s.frameDur,
		"codec", s.enc.Codec(),
	)
	err = s.pump(ctx, caps)
	st := s.Stats()
	log.Info("capture: session finished",
		"frames", st.Frames,
		"packets", st.Packets,
		"bytes", st.Bytes,
		"err", err,
	)
	return err
}

func (s *Session) start(ctx context.Context) error {
	_, span := observe.StartSpan(ctx, "capture.source.start")
	defer span.End()
	if err := s.src.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("capture: start source: %w", err)
	}
	s.running.Store(true)
	return nil
}

func (s *Session) stop(ctx context.Context) error {
	_, span := observe.StartSpan(context.WithoutCancel(ctx), "capture.source.stop")
	defer span.End()
	s.running.Store(false)
	if err := s.src.Stop(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("capture: stop source: %w", err)
	}
	return nil
}

// pump runs the reader and encoder goroutines until one of them ends.
func (s *Session) pump(ctx context.Context, caps audio.Caps) error {
	frameBytes := caps.FrameBytes(s.frameDur)
	if frameBytes <= 0 {
		return fmt.Errorf("capture: frame duration %v holds no samples at %s", s.frameDur, caps)
	}

	// free holds every frame buffer not currently queued or being encoded;
	// its capacity bounds the session's memory.
	total := s.depth + 2
	free := make(chan *audio.AudioFrame, total)
	for range total {
		free <- &audio.AudioFrame{Data: make([]byte, frameBytes)}
	}
	queued := make(chan *audio.AudioFrame, s.depth)

	g, gctx := errgroup.WithContext(ctx)

	// ── reader ──────────────────────────────────────────────────────────────
	g.Go(func() error {
		defer close(queued)
		for s.maxFrames == 0 || s.frames.Load() < s.maxFrames {
			var f *audio.AudioFrame
			select {
			case f = <-free:
			case <-gctx.Done():
				return nil
			}
			if err := s.src.ReadFrame(gctx, f); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("capture: read frame: %w", err)
			}
			s.frames.Add(1)
			select {
			case queued <- f:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	// ── encoder ─────────────────────────────────────────────────────────────
	g.Go(func() error {
		// On error the reader is still running until it observes gctx.
		defer audio.Drain(queued)
		codec := s.enc.Codec()
		for f := range queued {
			data, err := s.enc.Encode(f.Data)
			if err != nil {
				return err
			}
			pkt := Packet{Codec: codec, Data: data, Timestamp: f.Timestamp, Duration: s.frameDur}
			if err := s.sink.WritePacket(gctx, pkt); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("capture: deliver packet at %v: %w", f.Timestamp, err)
			}
			s.packets.Add(1)
			s.bytes.Add(int64(len(data)))
			s.metrics.RecordEncoderPacket(gctx, codec)
			free <- f
		}
		return nil
	})

	return g.Wait()
}
