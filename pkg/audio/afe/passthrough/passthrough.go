// Package passthrough provides an identity [afe.Engine].
//
// The engine forwards the first microphone channel of every fed chunk
// unchanged. It keeps the same queueing behaviour as a real front-end: Feed
// blocks once RingBufSize chunks are waiting, and Fetch blocks until a chunk
// arrives. It is the default engine when no vendor engine is linked and the
// reference double for exercising the capture goroutines.
package passthrough

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/micpipe/pkg/audio/afe"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithChunkSize sets the feed and fetch chunk size in samples per channel.
// The default is 10 ms worth of samples at the configured sample rate.
func WithChunkSize(samples int) Option {
	return func(e *Engine) {
		if samples > 0 {
			e.chunk = samples
		}
	}
}

// Engine is an identity audio front-end.
type Engine struct {
	cfg   afe.Config
	chunk int

	queue chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

var _ afe.Engine = (*Engine)(nil)

// New creates a passthrough engine for cfg.
func New(cfg afe.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("passthrough: %w", err)
	}
	e := &Engine{
		cfg:   cfg,
		chunk: cfg.PCM.SampleRate / 100,
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.chunk <= 0 {
		return nil, fmt.Errorf("passthrough: sample rate %d too low for a 10 ms chunk", cfg.PCM.SampleRate)
	}
	e.queue = make(chan []byte, cfg.RingBufSize)
	return e, nil
}

// Factory adapts [New] to [afe.Factory].
func Factory(cfg afe.Config) (afe.Engine, error) {
	return New(cfg)
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() afe.Config { return e.cfg }

// FeedChunkSize implements [afe.Engine].
func (e *Engine) FeedChunkSize() int { return e.chunk }

// FetchChunkSize implements [afe.Engine].
func (e *Engine) FetchChunkSize() int { return e.chunk }

// TotalChannels implements [afe.Engine].
func (e *Engine) TotalChannels() int { return e.cfg.PCM.TotalChannels }

// Queued returns the number of chunks waiting to be fetched.
func (e *Engine) Queued() int { return len(e.queue) }

// Feed implements [afe.Engine].
func (e *Engine) Feed(ctx context.Context, pcm []byte) error {
	if e.destroyed() {
		return afe.ErrDestroyed
	}
	nch := e.cfg.PCM.TotalChannels
	want := e.chunk * nch * 2
	if len(pcm) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", afe.ErrFeedFailed, len(pcm), want)
	}

	out := make([]byte, e.chunk*2)
	if nch == 1 {
		copy(out, pcm)
	} else {
		for i := range e.chunk {
			copy(out[i*2:i*2+2], pcm[i*nch*2:i*nch*2+2])
		}
	}

	select {
	case e.queue <- out:
		return nil
	case <-e.done:
		return afe.ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch implements [afe.Engine].
func (e *Engine) Fetch(ctx context.Context) (*afe.FetchResult, error) {
	select {
	case <-e.done:
		return nil, afe.ErrDestroyed
	default:
	}
	select {
	case b := <-e.queue:
		return &afe.FetchResult{Data: b}, nil
	case <-e.done:
		return nil, afe.ErrDestroyed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetBuffer implements [afe.Engine].
func (e *Engine) ResetBuffer() {
	for {
		select {
		case <-e.queue:
		default:
			return
		}
	}
}

// Destroy implements [afe.Engine].
func (e *Engine) Destroy() error {
	e.doneOnce.Do(func() { close(e.done) })
	return nil
}

func (e *Engine) destroyed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
