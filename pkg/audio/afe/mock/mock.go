// Package mock provides a recording test double for [afe.Engine].
//
// Engine behaves like an identity front-end: every fed chunk is queued and
// returned by a later Fetch. The exported fields inject faults and reshape
// output; the counters and FeedCalls record how the engine was driven.
//
// Example:
//
//	eng := mock.New(160, 1)
//	eng.FeedErrAfter = 10       // the 11th Feed fails
//	eng.FeedErr = afe.ErrFeedFailed
//	eng.FetchFailures = 3       // the first three Fetch calls fail transiently
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/micpipe/pkg/audio/afe"
)

// FeedCall records a single invocation of Engine.Feed.
type FeedCall struct {
	// PCM is a copy of the bytes passed to Feed.
	PCM []byte
}

// Engine is a mock implementation of [afe.Engine].
type Engine struct {
	mu sync.Mutex

	// FeedChunk, FetchChunk and Channels are returned by the chunk-size and
	// channel queries.
	FeedChunk  int
	FetchChunk int
	Channels   int

	// FeedErr, if non-nil, is returned by Feed once FeedErrAfter calls have
	// succeeded.
	FeedErr      error
	FeedErrAfter int

	// FetchFailures is the number of Fetch calls that fail with
	// [afe.ErrFetchFailed] before data is delivered.
	FetchFailures int

	// FetchTransform, if set, rewrites each queued chunk before Fetch returns
	// it. Use it to produce blocks that are not a frame multiple.
	FetchTransform func([]byte) []byte

	// RecordFeeds enables FeedCalls. Disabled by default to keep long runs
	// cheap.
	RecordFeeds bool

	// --- Call records ---

	// FeedCalls records every Feed call when RecordFeeds is set.
	FeedCalls []FeedCall

	// FeedCallCount counts every Feed call.
	FeedCallCount int

	// FetchCallCount counts every Fetch call.
	FetchCallCount int

	// ResetBufferCallCount counts ResetBuffer calls.
	ResetBufferCallCount int

	// DestroyCallCount counts Destroy calls.
	DestroyCallCount int

	// QueuedAtReset records how many chunks were queued at each ResetBuffer.
	QueuedAtReset []int

	queue     chan []byte
	done      chan struct{}
	destroyed bool
}

var _ afe.Engine = (*Engine)(nil)

// New returns a mock engine with the given chunk size and channel count and a
// 16-chunk internal queue.
func New(chunk, channels int) *Engine {
	return &Engine{
		FeedChunk:  chunk,
		FetchChunk: chunk,
		Channels:   channels,
		queue:      make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// FeedChunkSize implements [afe.Engine].
func (e *Engine) FeedChunkSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FeedChunk
}

// FetchChunkSize implements [afe.Engine].
func (e *Engine) FetchChunkSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FetchChunk
}

// TotalChannels implements [afe.Engine].
func (e *Engine) TotalChannels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Channels
}

// Feed implements [afe.Engine]. It records the call and queues a copy of pcm.
func (e *Engine) Feed(ctx context.Context, pcm []byte) error {
	e.mu.Lock()
	e.FeedCallCount++
	if e.destroyed {
		e.mu.Unlock()
		return afe.ErrDestroyed
	}
	if e.FeedErr != nil && e.FeedCallCount > e.FeedErrAfter {
		err := e.FeedErr
		e.mu.Unlock()
		return err
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	if e.RecordFeeds {
		e.FeedCalls = append(e.FeedCalls, FeedCall{PCM: cp})
	}
	e.mu.Unlock()

	select {
	case e.queue <- cp:
		return nil
	case <-e.done:
		return afe.ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch implements [afe.Engine].
func (e *Engine) Fetch(ctx context.Context) (*afe.FetchResult, error) {
	e.mu.Lock()
	e.FetchCallCount++
	if e.destroyed {
		e.mu.Unlock()
		return nil, afe.ErrDestroyed
	}
	if e.FetchFailures > 0 {
		e.FetchFailures--
		e.mu.Unlock()
		return nil, afe.ErrFetchFailed
	}
	transform := e.FetchTransform
	e.mu.Unlock()

	select {
	case b := <-e.queue:
		if transform != nil {
			b = transform(b)
		}
		return &afe.FetchResult{Data: b}, nil
	case <-e.done:
		return nil, afe.ErrDestroyed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetBuffer implements [afe.Engine]. It records the call and drops every
// queued chunk.
func (e *Engine) ResetBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResetBufferCallCount++
	e.QueuedAtReset = append(e.QueuedAtReset, len(e.queue))
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
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DestroyCallCount++
	if !e.destroyed {
		e.destroyed = true
		close(e.done)
	}
	return nil
}

// Queued returns the number of chunks waiting to be fetched.
func (e *Engine) Queued() int { return len(e.queue) }

// Counts returns FeedCallCount, FetchCallCount, ResetBufferCallCount and
// DestroyCallCount under the lock.
func (e *Engine) Counts() (feed, fetch, reset, destroy int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FeedCallCount, e.FetchCallCount, e.ResetBufferCallCount, e.DestroyCallCount
}
